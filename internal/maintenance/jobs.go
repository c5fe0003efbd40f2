package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/braid/internal/branch"
)

// BranchSource is the subset of the branch manager the cleanup job needs.
type BranchSource interface {
	ListSessionIDs(ctx context.Context) ([]string, error)
	CleanupBranches(ctx context.Context, sessionID string, opts branch.CleanupOptions) (int, error)
}

// BranchCleanupJob archives excess branches across all sessions on the
// configured cleanup policy.
type BranchCleanupJob struct {
	Branches     BranchSource
	MaxAge       time.Duration // zero = manager default (30 days)
	Limit        int           // zero = manager default (10)
	KeepActive   bool
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 * * * *"
}

var _ Job = (*BranchCleanupJob)(nil)

// Name implements Job.
func (j *BranchCleanupJob) Name() string { return "branch_cleanup" }

// Schedule implements Job.
func (j *BranchCleanupJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 * * * *"
}

// Run applies the cleanup policy to every session. A failing session
// aborts the run; the next tick retries from the start.
func (j *BranchCleanupJob) Run(ctx context.Context) error {
	ids, err := j.Branches.ListSessionIDs(ctx)
	if err != nil {
		return fmt.Errorf("maintenance: list sessions: %w", err)
	}

	archived := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := j.Branches.CleanupBranches(ctx, id, branch.CleanupOptions{
			OlderThan:  j.MaxAge,
			Limit:      j.Limit,
			KeepActive: j.KeepActive,
		})
		if err != nil {
			return fmt.Errorf("maintenance: cleanup session %s: %w", id, err)
		}
		archived += n
	}

	if archived > 0 && j.Logger != nil {
		j.Logger.Info("archived excess branches", "count", archived, "sessions", len(ids))
	}
	return nil
}

// StreamSweeper is the subset of the stream coordinator the sweep job
// needs.
type StreamSweeper interface {
	Sweep() int
}

// StreamSweepJob times out streams whose consumers went silent. It
// complements the coordinator's own interval sweep so deployments that
// disable the internal loop still get cleanup.
type StreamSweepJob struct {
	Streams      StreamSweeper
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

var _ Job = (*StreamSweepJob)(nil)

// Name implements Job.
func (j *StreamSweepJob) Name() string { return "stream_sweep" }

// Schedule implements Job.
func (j *StreamSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run sweeps abandoned streams.
func (j *StreamSweepJob) Run(_ context.Context) error {
	if n := j.Streams.Sweep(); n > 0 && j.Logger != nil {
		j.Logger.Info("timed out abandoned streams", "count", n)
	}
	return nil
}
