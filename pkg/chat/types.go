// Package chat defines the durable entities of the conversation session
// engine: sessions, messages, branches, and token usage. These shapes form
// the persisted contract of the record store; external tooling (analytics,
// export) may read them directly.
package chat

// Role identifies the sender of a message in a conversation.
type Role string

// Role constants for conversation messages.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the known conversation roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// BranchAction identifies an entry in a session's branch audit log.
type BranchAction string

// BranchAction constants for audit log entries.
const (
	BranchActionCreate  BranchAction = "create"
	BranchActionMerge   BranchAction = "merge"
	BranchActionSwitch  BranchAction = "switch"
	BranchActionEdit    BranchAction = "edit"
	BranchActionArchive BranchAction = "archive"
	BranchActionDelete  BranchAction = "delete"
)
