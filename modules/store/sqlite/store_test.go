package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeTime provides an injectable clock for deterministic expiry testing.
type fakeTime struct {
	mu      sync.Mutex
	current time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

func newTestStore(t *testing.T) (*recordStore, *fakeTime) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	rs, db, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ft := &fakeTime{current: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := rs.(*recordStore)
	s.now = ft.Now
	return s, ft
}

func TestSetGetDelete(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != "v1" {
		t.Errorf("value = %q, want v1", got)
	}

	// Overwrite.
	if err := s.Set(ctx, "k", []byte("v2"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, _, _ = s.Get(ctx, "k")
	if string(got) != "v2" {
		t.Errorf("value = %q, want v2", got)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("value survived delete")
	}
}

func TestTTLExpiry(t *testing.T) {
	t.Parallel()
	s, ft := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ft.Advance(59 * time.Second)
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("value expired early")
	}
	ft.Advance(2 * time.Second)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("value survived past its TTL")
	}
}

func TestExpireRefreshesTTL(t *testing.T) {
	t.Parallel()
	s, ft := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ft.Advance(50 * time.Second)
	if err := s.Expire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	ft.Advance(50 * time.Second)
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Error("refreshed key expired")
	}

	// Expire on a missing key is a no-op.
	if err := s.Expire(ctx, "missing", time.Minute); err != nil {
		t.Errorf("Expire missing: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Error("Expire conjured a key")
	}
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d"} {
		if err := s.ListPush(ctx, "l", []byte(v)); err != nil {
			t.Fatalf("ListPush: %v", err)
		}
	}

	got, err := s.ListRange(ctx, "l", 0, -1)
	if err != nil {
		t.Fatalf("ListRange: %v", err)
	}
	want := []string{"d", "c", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("range = %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Errorf("range[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Sub-range.
	got, _ = s.ListRange(ctx, "l", 1, 2)
	if len(got) != 2 || string(got[0]) != "c" || string(got[1]) != "b" {
		t.Errorf("sub-range = %v", got)
	}
}

func TestListTrim(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		if err := s.ListPush(ctx, "l", []byte(v)); err != nil {
			t.Fatalf("ListPush: %v", err)
		}
	}

	// Keep the three newest.
	if err := s.ListTrim(ctx, "l", 0, 2); err != nil {
		t.Fatalf("ListTrim: %v", err)
	}
	got, _ := s.ListRange(ctx, "l", 0, -1)
	if len(got) != 3 || string(got[0]) != "e" || string(got[2]) != "c" {
		t.Errorf("after trim = %v", got)
	}

	// Trimming to an empty window clears the list.
	if err := s.ListTrim(ctx, "l", 10, 20); err != nil {
		t.Fatalf("ListTrim: %v", err)
	}
	got, _ = s.ListRange(ctx, "l", 0, -1)
	if len(got) != 0 {
		t.Errorf("list not cleared: %v", got)
	}
}

func TestSortedSetOrdering(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	_ = s.SortedAdd(ctx, "z", 3, "c")
	_ = s.SortedAdd(ctx, "z", 1, "a")
	_ = s.SortedAdd(ctx, "z", 2, "b")
	_ = s.SortedAdd(ctx, "z", 1, "a2")

	got, err := s.SortedRange(ctx, "z", 0, -1)
	if err != nil {
		t.Fatalf("SortedRange: %v", err)
	}
	want := []string{"a", "a2", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("range = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("range[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Rescoring moves the member.
	_ = s.SortedAdd(ctx, "z", 10, "a")
	got, _ = s.SortedRange(ctx, "z", 0, -1)
	if got[len(got)-1] != "a" {
		t.Errorf("rescored member not last: %v", got)
	}

	_ = s.SortedRemove(ctx, "z", "b")
	got, _ = s.SortedRange(ctx, "z", 0, -1)
	for _, m := range got {
		if m == "b" {
			t.Error("removed member still present")
		}
	}
}

func TestHashIncr(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	n, err := s.HashIncrBy(ctx, "h", "f", 5)
	if err != nil {
		t.Fatalf("HashIncrBy: %v", err)
	}
	if n != 5 {
		t.Errorf("first incr = %d, want 5", n)
	}
	n, _ = s.HashIncrBy(ctx, "h", "f", -2)
	if n != 3 {
		t.Errorf("second incr = %d, want 3", n)
	}
	_, _ = s.HashIncrBy(ctx, "h", "g", 7)

	all, err := s.HashGetAll(ctx, "h")
	if err != nil {
		t.Fatalf("HashGetAll: %v", err)
	}
	if len(all) != 2 || all["f"] != 3 || all["g"] != 7 {
		t.Errorf("hash = %v", all)
	}

	empty, _ := s.HashGetAll(ctx, "missing")
	if len(empty) != 0 {
		t.Errorf("missing hash = %v, want empty", empty)
	}
}

func TestExpiryCoversAllNamespaces(t *testing.T) {
	t.Parallel()
	s, ft := newTestStore(t)
	ctx := context.Background()

	_ = s.ListPush(ctx, "k", []byte("item"))
	_ = s.SortedAdd(ctx, "k", 1, "m")
	if _, err := s.HashIncrBy(ctx, "k", "f", 1); err != nil {
		t.Fatalf("HashIncrBy: %v", err)
	}
	if err := s.Expire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("Expire: %v", err)
	}

	ft.Advance(2 * time.Minute)

	if items, _ := s.ListRange(ctx, "k", 0, -1); len(items) != 0 {
		t.Errorf("list survived expiry: %v", items)
	}
	if members, _ := s.SortedRange(ctx, "k", 0, -1); len(members) != 0 {
		t.Errorf("zset survived expiry: %v", members)
	}
	if h, _ := s.HashGetAll(ctx, "k"); len(h) != 0 {
		t.Errorf("hash survived expiry: %v", h)
	}
}

func TestReopenPersists(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "persist.db")

	rs, db, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := rs.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rs2, db2, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close() //nolint:errcheck // test cleanup
	got, ok, err := rs2.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Errorf("after reopen: %q ok=%v err=%v", got, ok, err)
	}
}
