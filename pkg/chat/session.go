package chat

import "time"

// Session is one conversation. It is created on the first user turn and
// mutated on every message append or branch change. The engine never
// deletes sessions; deletion is a caller concern.
type Session struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	MessageCount   int       `json:"message_count"`
	BranchIDs      []string  `json:"branch_ids,omitempty"`
	ModelID        string    `json:"model_id,omitempty"`
}

// HasBranch reports whether the branch ID is registered on the session.
func (s *Session) HasBranch(branchID string) bool {
	for _, id := range s.BranchIDs {
		if id == branchID {
			return true
		}
	}
	return false
}

// RemoveBranch removes the branch ID from the session's branch list.
// It is a no-op if the ID is not present.
func (s *Session) RemoveBranch(branchID string) {
	for i, id := range s.BranchIDs {
		if id == branchID {
			s.BranchIDs = append(s.BranchIDs[:i], s.BranchIDs[i+1:]...)
			return
		}
	}
}
