package chat

import "time"

// Branch is a fork point in a session's message history. OriginMessageID is
// the message after which the branch diverges; ParentBranchID is the branch
// that origin message belonged to (empty for a fork off the main line).
// Branches form a forest rooted at message origins; full lineage requires
// following ParentBranchID chains.
type Branch struct {
	ID              string            `json:"id"`
	SessionID       string            `json:"session_id"`
	ParentBranchID  string            `json:"parent_branch_id,omitempty"`
	OriginMessageID string            `json:"origin_message_id"`
	Name            string            `json:"name"`
	CreatedAt       time.Time         `json:"created_at"`
	Depth           int               `json:"depth"`
	IsActive        bool              `json:"is_active"`
	IsArchived      bool              `json:"is_archived"`
	DeletedAt       *time.Time        `json:"deleted_at,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Switchable reports whether the branch can become the active branch.
// Archived and deleted branches cannot be switched to or merged from.
func (b *Branch) Switchable() bool {
	return !b.IsArchived && b.DeletedAt == nil
}

// SetMeta sets a metadata key, allocating the map on first use.
func (b *Branch) SetMeta(key, value string) {
	if b.Metadata == nil {
		b.Metadata = make(map[string]string)
	}
	b.Metadata[key] = value
}

// BranchHistoryEntry is one record in a session's append-only branch audit
// log. The log is capped at the 100 most recent entries per session.
type BranchHistoryEntry struct {
	Timestamp time.Time    `json:"timestamp"`
	Action    BranchAction `json:"action"`
	BranchID  string       `json:"branch_id"`
	Details   string       `json:"details,omitempty"`
}
