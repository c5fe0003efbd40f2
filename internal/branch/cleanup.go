package branch

import (
	"context"
	"sort"
	"time"
)

// Default cleanup policy values.
const (
	defaultCleanupLimit  = 10
	defaultCleanupMaxAge = 30 * 24 * time.Hour
)

// CleanupOptions control the branch cleanup policy.
type CleanupOptions struct {
	// OlderThan is the minimum age before an excess branch is archived.
	// Zero means the 30-day default.
	OlderThan time.Duration

	// KeepActive skips the active branch even when it falls past the limit.
	KeepActive bool

	// Limit is the number of branches to keep unarchived. Zero means the
	// default of 10.
	Limit int
}

// CleanupBranches archives excess branches of a session. Branches are
// ranked active-first, then most recently created; once the rank exceeds
// the limit, branches older than the age threshold are archived. Returns
// the number of branches archived.
func (m *Manager) CleanupBranches(ctx context.Context, sessionID string, opts CleanupOptions) (int, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultCleanupLimit
	}
	if opts.OlderThan <= 0 {
		opts.OlderThan = defaultCleanupMaxAge
	}

	unlock := m.locks.Lock(sessionID)
	defer unlock()

	branches, err := m.GetBranches(ctx, sessionID, false)
	if err != nil {
		return 0, err
	}
	if len(branches) <= opts.Limit {
		return 0, nil
	}

	sort.SliceStable(branches, func(i, j int) bool {
		if branches[i].IsActive != branches[j].IsActive {
			return branches[i].IsActive
		}
		return branches[i].CreatedAt.After(branches[j].CreatedAt)
	})

	cutoff := m.now().Add(-opts.OlderThan)
	archived := 0
	for i, br := range branches {
		if i < opts.Limit {
			continue
		}
		if opts.KeepActive && br.IsActive {
			continue
		}
		if !br.CreatedAt.Before(cutoff) {
			continue
		}
		if _, err := m.archiveLocked(ctx, sessionID, br.ID); err != nil {
			return archived, err
		}
		archived++
	}

	if archived > 0 {
		m.logger.Info("branch cleanup", "session_id", sessionID, "archived", archived)
	}
	return archived, nil
}
