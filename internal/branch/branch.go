package branch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/flemzord/braid/pkg/chat"
)

// CreateBranchOptions are the optional fields for CreateBranch.
type CreateBranchOptions struct {
	Name     string
	Metadata map[string]string
}

// CreateBranch forks the session's history at the given origin message.
// The new branch inherits its parent from the branch the origin message
// belongs to (none when forking off the main line) and starts inactive;
// callers switch to it explicitly.
func (m *Manager) CreateBranch(ctx context.Context, sessionID, originMessageID string, opts CreateBranchOptions) (*chat.Branch, error) {
	sess, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	origin, err := m.GetMessage(ctx, originMessageID)
	if err != nil {
		return nil, err
	}
	if origin.SessionID != sessionID {
		return nil, fmt.Errorf("branch: origin message %s belongs to session %s: %w", originMessageID, origin.SessionID, ErrValidation)
	}

	depth := 0
	if origin.BranchID != "" {
		parent, err := m.GetBranch(ctx, origin.BranchID)
		if err != nil {
			return nil, err
		}
		depth = parent.Depth + 1
	}

	br := &chat.Branch{
		ID:              m.newID(),
		SessionID:       sessionID,
		ParentBranchID:  origin.BranchID,
		OriginMessageID: originMessageID,
		Name:            opts.Name,
		CreatedAt:       m.now(),
		Depth:           depth,
		Metadata:        opts.Metadata,
	}
	if br.Name == "" {
		br.Name = "branch-" + strconv.Itoa(len(sess.BranchIDs)+1)
	}
	if err := m.putBranch(ctx, br); err != nil {
		return nil, err
	}

	sess.BranchIDs = append(sess.BranchIDs, br.ID)
	if err := m.touchSession(ctx, sess); err != nil {
		return nil, err
	}

	m.appendHistory(ctx, sessionID, chat.BranchHistoryEntry{
		Timestamp: m.now(),
		Action:    chat.BranchActionCreate,
		BranchID:  br.ID,
		Details:   "forked at message " + originMessageID,
	})
	m.logger.Info("branch created", "session_id", sessionID, "branch_id", br.ID, "depth", depth)
	return br, nil
}

// GetBranch returns the branch by ID, or ErrNotFound.
func (m *Manager) GetBranch(ctx context.Context, branchID string) (*chat.Branch, error) {
	raw, ok, err := m.store.Get(ctx, branchKey(branchID))
	if err != nil {
		return nil, fmt.Errorf("branch: load branch %s: %w", branchID, err)
	}
	if !ok {
		return nil, fmt.Errorf("branch: branch %s: %w", branchID, ErrNotFound)
	}
	var br chat.Branch
	if err := json.Unmarshal(raw, &br); err != nil {
		return nil, fmt.Errorf("branch: decode branch %s: %w", branchID, err)
	}
	return &br, nil
}

func (m *Manager) putBranch(ctx context.Context, br *chat.Branch) error {
	raw, err := json.Marshal(br)
	if err != nil {
		return fmt.Errorf("branch: encode branch %s: %w", br.ID, err)
	}
	if err := m.store.Set(ctx, branchKey(br.ID), raw, 0); err != nil {
		return fmt.Errorf("branch: store branch %s: %w", br.ID, err)
	}
	return nil
}

// GetBranches returns the session's branches in creation order. Archived
// branches are excluded unless includeArchived is set. Deleted branches are
// never returned (their IDs are removed from the session on delete).
func (m *Manager) GetBranches(ctx context.Context, sessionID string, includeArchived bool) ([]*chat.Branch, error) {
	sess, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	branches := make([]*chat.Branch, 0, len(sess.BranchIDs))
	for _, id := range sess.BranchIDs {
		br, err := m.GetBranch(ctx, id)
		if err != nil {
			// A dangling ID means the branch record was removed out of
			// band; skip rather than fail the listing.
			continue
		}
		if br.IsArchived && !includeArchived {
			continue
		}
		branches = append(branches, br)
	}
	return branches, nil
}

// ActiveBranch returns the session's active branch, or nil when the main
// line is active (no branch flagged active).
func (m *Manager) ActiveBranch(ctx context.Context, sessionID string) (*chat.Branch, error) {
	branches, err := m.GetBranches(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	for _, br := range branches {
		if br.IsActive {
			return br, nil
		}
	}
	return nil, nil
}

// GetBranchMessages returns the branch's own messages in chronological
// order. It does not include ancestor history; see ThreadMessages.
func (m *Manager) GetBranchMessages(ctx context.Context, branchID string) ([]*chat.Message, error) {
	if _, err := m.GetBranch(ctx, branchID); err != nil {
		return nil, err
	}
	ids, err := m.store.SortedRange(ctx, branchMessagesKey(branchID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("branch: list branch messages: %w", err)
	}
	return m.loadMessages(ctx, ids)
}

// SwitchBranch makes the target branch the session's single active branch,
// deactivating every other branch. Returns ErrNotFound if the branch is
// missing, ErrValidation if it belongs to a different session or is
// archived. The whole operation is serialized per session.
func (m *Manager) SwitchBranch(ctx context.Context, sessionID, branchID string) (*chat.Branch, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	sess, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	target, err := m.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if target.SessionID != sessionID {
		return nil, fmt.Errorf("branch: branch %s belongs to session %s: %w", branchID, target.SessionID, ErrValidation)
	}
	if !target.Switchable() {
		return nil, fmt.Errorf("branch: branch %s is archived: %w", branchID, ErrValidation)
	}

	// Deactivate every other branch before activating the target so the
	// single-active-branch invariant holds even if a later write fails.
	for _, id := range sess.BranchIDs {
		if id == branchID {
			continue
		}
		other, err := m.GetBranch(ctx, id)
		if err != nil {
			continue
		}
		if other.IsActive {
			other.IsActive = false
			if err := m.putBranch(ctx, other); err != nil {
				return nil, err
			}
		}
	}

	target.IsActive = true
	if err := m.putBranch(ctx, target); err != nil {
		return nil, err
	}
	if err := m.touchSession(ctx, sess); err != nil {
		return nil, err
	}

	m.appendHistory(ctx, sessionID, chat.BranchHistoryEntry{
		Timestamp: m.now(),
		Action:    chat.BranchActionSwitch,
		BranchID:  branchID,
	})
	m.logger.Info("branch switched", "session_id", sessionID, "branch_id", branchID)
	return target, nil
}

// MergeBranches copies the source branch's post-origin messages onto the
// target branch. Each copy gets a new ID, the target branch ID, and
// metadata recording the source branch and original message. Merging is
// not idempotent: repeating the call duplicates the copies.
func (m *Manager) MergeBranches(ctx context.Context, sessionID, sourceID, targetID string) (*chat.Branch, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	source, err := m.GetBranch(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	target, err := m.GetBranch(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if source.SessionID != sessionID || target.SessionID != sessionID {
		return nil, fmt.Errorf("branch: merge across sessions: %w", ErrValidation)
	}
	if !source.Switchable() || !target.Switchable() {
		return nil, fmt.Errorf("branch: merge involving archived branch: %w", ErrValidation)
	}

	origin, err := m.GetMessage(ctx, source.OriginMessageID)
	if err != nil {
		return nil, err
	}

	msgs, err := m.GetBranchMessages(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	copied := 0
	for _, msg := range msgs {
		if !msg.Timestamp.After(origin.Timestamp) {
			continue
		}
		cp := &chat.Message{
			ID:        m.newID(),
			SessionID: sessionID,
			BranchID:  targetID,
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
			Version:   msg.Version,
		}
		cp.SetMeta(chat.MetaMergedFrom, sourceID)
		cp.SetMeta(chat.MetaOriginalMessageID, msg.ID)
		if err := m.putMessage(ctx, cp); err != nil {
			return nil, err
		}
		if err := m.indexMessage(ctx, cp); err != nil {
			return nil, err
		}
		copied++
	}

	target.SetMeta("last_merge_source", sourceID)
	target.SetMeta("last_merge_count", strconv.Itoa(copied))
	if err := m.putBranch(ctx, target); err != nil {
		return nil, err
	}

	m.appendHistory(ctx, sessionID, chat.BranchHistoryEntry{
		Timestamp: m.now(),
		Action:    chat.BranchActionMerge,
		BranchID:  targetID,
		Details:   fmt.Sprintf("merged %d messages from %s", copied, sourceID),
	})
	m.logger.Info("branches merged",
		"session_id", sessionID,
		"source", sourceID,
		"target", targetID,
		"copied", copied,
	)
	return target, nil
}

// ArchiveBranch archives a branch. Archiving an already-archived branch is
// an idempotent no-op. If the branch was active, active status moves to the
// best remaining candidate: a branch with no parent (the main fork) if one
// qualifies, else any other non-archived branch. When nothing qualifies the
// session is left without an active branch.
func (m *Manager) ArchiveBranch(ctx context.Context, sessionID, branchID string) (*chat.Branch, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()
	return m.archiveLocked(ctx, sessionID, branchID)
}

// archiveLocked is ArchiveBranch without lock acquisition, for callers that
// already hold the session lock.
func (m *Manager) archiveLocked(ctx context.Context, sessionID, branchID string) (*chat.Branch, error) {
	sess, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	br, err := m.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if br.SessionID != sessionID {
		return nil, fmt.Errorf("branch: branch %s belongs to session %s: %w", branchID, br.SessionID, ErrValidation)
	}
	if br.IsArchived {
		return br, nil
	}

	wasActive := br.IsActive
	br.IsArchived = true
	br.IsActive = false
	if err := m.putBranch(ctx, br); err != nil {
		return nil, err
	}

	if wasActive {
		if err := m.reassignActive(ctx, sess, branchID); err != nil {
			return nil, err
		}
	}

	m.appendHistory(ctx, sessionID, chat.BranchHistoryEntry{
		Timestamp: m.now(),
		Action:    chat.BranchActionArchive,
		BranchID:  branchID,
	})
	m.logger.Info("branch archived", "session_id", sessionID, "branch_id", branchID, "was_active", wasActive)
	return br, nil
}

// reassignActive activates the best remaining branch after the active one
// was archived: prefer a parentless branch, else any non-archived branch.
func (m *Manager) reassignActive(ctx context.Context, sess *chat.Session, archivedID string) error {
	var fallback *chat.Branch
	var preferred *chat.Branch
	for _, id := range sess.BranchIDs {
		if id == archivedID {
			continue
		}
		candidate, err := m.GetBranch(ctx, id)
		if err != nil {
			continue
		}
		if !candidate.Switchable() {
			continue
		}
		if candidate.ParentBranchID == "" && preferred == nil {
			preferred = candidate
		}
		if fallback == nil {
			fallback = candidate
		}
	}

	next := preferred
	if next == nil {
		next = fallback
	}
	if next == nil {
		return nil
	}
	next.IsActive = true
	return m.putBranch(ctx, next)
}

// DeleteBranchOptions are the optional fields for DeleteBranch.
type DeleteBranchOptions struct {
	// DeleteMessages removes every message on the branch along with it.
	DeleteMessages bool
}

// DeleteBranch soft-deletes a branch: archives it first if it is the
// active branch, marks it deleted, and removes it from the session's
// branch list. Messages on the branch are removed only when requested.
func (m *Manager) DeleteBranch(ctx context.Context, sessionID, branchID string, opts DeleteBranchOptions) error {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	sess, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	br, err := m.GetBranch(ctx, branchID)
	if err != nil {
		return err
	}
	if br.SessionID != sessionID {
		return fmt.Errorf("branch: branch %s belongs to session %s: %w", branchID, br.SessionID, ErrValidation)
	}

	if br.IsActive && !br.IsArchived {
		if _, err := m.archiveLocked(ctx, sessionID, branchID); err != nil {
			return err
		}
		br, err = m.GetBranch(ctx, branchID)
		if err != nil {
			return err
		}
	}

	now := m.now()
	br.DeletedAt = &now
	br.IsActive = false
	if err := m.putBranch(ctx, br); err != nil {
		return err
	}

	sess.RemoveBranch(branchID)
	if err := m.touchSession(ctx, sess); err != nil {
		return err
	}

	if opts.DeleteMessages {
		ids, err := m.store.SortedRange(ctx, branchMessagesKey(branchID), 0, -1)
		if err != nil {
			return fmt.Errorf("branch: list branch messages for delete: %w", err)
		}
		for _, id := range ids {
			if err := m.store.Delete(ctx, messageKey(id)); err != nil {
				return fmt.Errorf("branch: delete message %s: %w", id, err)
			}
			if err := m.store.SortedRemove(ctx, sessionMessagesKey(sessionID), id); err != nil {
				return fmt.Errorf("branch: unindex message %s: %w", id, err)
			}
		}
		if err := m.store.Delete(ctx, branchMessagesKey(branchID)); err != nil {
			return fmt.Errorf("branch: delete branch index: %w", err)
		}
	}

	m.appendHistory(ctx, sessionID, chat.BranchHistoryEntry{
		Timestamp: m.now(),
		Action:    chat.BranchActionDelete,
		BranchID:  branchID,
		Details:   fmt.Sprintf("delete_messages=%t", opts.DeleteMessages),
	})
	m.logger.Info("branch deleted", "session_id", sessionID, "branch_id", branchID, "messages_deleted", opts.DeleteMessages)
	return nil
}
