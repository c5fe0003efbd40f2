package branch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flemzord/braid/pkg/chat"
)

// appendHistory pushes an entry onto the session's branch audit log and
// trims it to the most recent historyCap entries. Audit logging is
// best-effort: failures are logged, never surfaced to the caller.
func (m *Manager) appendHistory(ctx context.Context, sessionID string, entry chat.BranchHistoryEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		m.logger.Warn("branch history: encode entry failed", "error", err)
		return
	}
	key := sessionHistoryKey(sessionID)
	if err := m.store.ListPush(ctx, key, raw); err != nil {
		m.logger.Warn("branch history: push failed", "session_id", sessionID, "error", err)
		return
	}
	if err := m.store.ListTrim(ctx, key, 0, historyCap-1); err != nil {
		m.logger.Warn("branch history: trim failed", "session_id", sessionID, "error", err)
	}
}

// GetBranchHistory returns the session's branch audit log, newest first,
// capped at the 100 most recent entries.
func (m *Manager) GetBranchHistory(ctx context.Context, sessionID string) ([]chat.BranchHistoryEntry, error) {
	if _, err := m.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	raw, err := m.store.ListRange(ctx, sessionHistoryKey(sessionID), 0, historyCap-1)
	if err != nil {
		return nil, fmt.Errorf("branch: load history: %w", err)
	}
	entries := make([]chat.BranchHistoryEntry, 0, len(raw))
	for _, r := range raw {
		var e chat.BranchHistoryEntry
		if err := json.Unmarshal(r, &e); err != nil {
			return nil, fmt.Errorf("branch: decode history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
