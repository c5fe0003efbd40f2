package chat

import "time"

// Metadata keys written by the engine. Kept as plain strings so stored
// records stay readable by external tooling.
const (
	MetaOriginalMessageID = "original_message_id"
	MetaOriginalContent   = "original_content"
	MetaMergedFrom        = "merged_from"
	MetaEditedAt          = "edited_at"
)

// Message is a single conversation message. Messages are immutable once
// written: the edit operation produces a new record with an incremented
// version and a metadata link back to the original, never an in-place
// mutation.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	BranchID  string            `json:"branch_id,omitempty"` // empty means the main line
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Version   int               `json:"version"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Meta returns the metadata value for key, or "" if unset.
func (m *Message) Meta(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// SetMeta sets a metadata key, allocating the map on first use.
func (m *Message) SetMeta(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}
