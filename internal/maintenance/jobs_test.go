package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flemzord/braid/internal/branch"
)

// testBranchSource implements BranchSource for job tests.
type testBranchSource struct {
	ids     []string
	cleaned map[string]branch.CleanupOptions
	perCall int
	err     error
}

func (s *testBranchSource) ListSessionIDs(context.Context) ([]string, error) {
	return s.ids, s.err
}

func (s *testBranchSource) CleanupBranches(_ context.Context, sessionID string, opts branch.CleanupOptions) (int, error) {
	if s.cleaned == nil {
		s.cleaned = make(map[string]branch.CleanupOptions)
	}
	s.cleaned[sessionID] = opts
	return s.perCall, nil
}

func TestBranchCleanupJob_Defaults(t *testing.T) {
	t.Parallel()

	j := &BranchCleanupJob{}
	if j.Name() != "branch_cleanup" {
		t.Errorf("name = %q", j.Name())
	}
	if j.Schedule() != "0 * * * *" {
		t.Errorf("schedule = %q", j.Schedule())
	}
	j.ScheduleExpr = "*/30 * * * *"
	if j.Schedule() != "*/30 * * * *" {
		t.Errorf("schedule override = %q", j.Schedule())
	}
}

func TestBranchCleanupJob_Run(t *testing.T) {
	t.Parallel()

	src := &testBranchSource{ids: []string{"s1", "s2"}, perCall: 2}
	j := &BranchCleanupJob{
		Branches:   src,
		MaxAge:     time.Hour,
		Limit:      5,
		KeepActive: true,
		Logger:     testLogger(),
	}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(src.cleaned) != 2 {
		t.Fatalf("cleaned %d sessions, want 2", len(src.cleaned))
	}
	opts := src.cleaned["s1"]
	if opts.OlderThan != time.Hour || opts.Limit != 5 || !opts.KeepActive {
		t.Fatalf("opts = %+v", opts)
	}
}

func TestBranchCleanupJob_ListError(t *testing.T) {
	t.Parallel()

	src := &testBranchSource{err: errors.New("store gone")}
	j := &BranchCleanupJob{Branches: src, Logger: testLogger()}

	if err := j.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

// testSweeper implements StreamSweeper for job tests.
type testSweeper struct {
	calls int
	count int
}

func (s *testSweeper) Sweep() int {
	s.calls++
	return s.count
}

func TestStreamSweepJob_Run(t *testing.T) {
	t.Parallel()

	sw := &testSweeper{count: 3}
	j := &StreamSweepJob{Streams: sw, Logger: testLogger()}

	if j.Name() != "stream_sweep" {
		t.Errorf("name = %q", j.Name())
	}
	if j.Schedule() != "*/5 * * * *" {
		t.Errorf("schedule = %q", j.Schedule())
	}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sw.calls != 1 {
		t.Fatalf("sweep calls = %d, want 1", sw.calls)
	}
}
