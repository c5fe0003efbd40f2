package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a concurrency-safe, in-process RecordStore. It is the
// default store for single-instance deployments and for tests. The `now`
// function is injectable for deterministic expiry testing.
type MemoryStore struct {
	mu     sync.RWMutex
	kv     map[string][]byte
	lists  map[string][][]byte
	zsets  map[string][]zmember
	hashes map[string]map[string]int64
	expiry map[string]time.Time

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

type zmember struct {
	member string
	score  float64
}

// NewMemoryStore creates a ready-to-use in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:     make(map[string][]byte),
		lists:  make(map[string][][]byte),
		zsets:  make(map[string][]zmember),
		hashes: make(map[string]map[string]int64),
		expiry: make(map[string]time.Time),
		now:    time.Now,
	}
}

// SetClock overrides the store's time source. Intended for tests that
// exercise expiry deterministically.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// expired reports whether key has a passed deadline. Caller holds the lock.
func (s *MemoryStore) expired(key string) bool {
	deadline, ok := s.expiry[key]
	return ok && !s.now().Before(deadline)
}

// purge removes key from every namespace. Caller holds the write lock.
func (s *MemoryStore) purge(key string) {
	delete(s.kv, key)
	delete(s.lists, key)
	delete(s.zsets, key)
	delete(s.hashes, key)
	delete(s.expiry, key)
}

// Get returns the value for key, treating expired keys as missing.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		s.purge(key)
		return nil, false, nil
	}
	v, ok := s.kv[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set stores value under key. A ttl of zero clears any existing expiry.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.kv[key] = v
	if ttl > 0 {
		s.expiry[key] = s.now().Add(ttl)
	} else {
		delete(s.expiry, key)
	}
	return nil
}

// Delete removes key from every namespace.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	return nil
}

// Expire refreshes the TTL on key if it exists in any namespace.
func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		s.purge(key)
		return nil
	}
	if !s.exists(key) {
		return nil
	}
	if ttl > 0 {
		s.expiry[key] = s.now().Add(ttl)
	} else {
		delete(s.expiry, key)
	}
	return nil
}

// exists reports whether key is present in any namespace. Caller holds a lock.
func (s *MemoryStore) exists(key string) bool {
	if _, ok := s.kv[key]; ok {
		return true
	}
	if _, ok := s.lists[key]; ok {
		return true
	}
	if _, ok := s.zsets[key]; ok {
		return true
	}
	_, ok := s.hashes[key]
	return ok
}

// ListPush prepends values to the list at key, newest first.
func (s *MemoryStore) ListPush(_ context.Context, key string, values ...[]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		s.purge(key)
	}
	list := s.lists[key]
	for _, v := range values {
		cp := make([]byte, len(v))
		copy(cp, v)
		list = append([][]byte{cp}, list...)
	}
	s.lists[key] = list
	return nil
}

// ListTrim keeps only the elements in [start, stop].
func (s *MemoryStore) ListTrim(_ context.Context, key string, start, stop int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		s.purge(key)
		return nil
	}
	list, ok := s.lists[key]
	if !ok {
		return nil
	}
	lo, hi, ok := rangeBounds(start, stop, len(list))
	if !ok {
		delete(s.lists, key)
		return nil
	}
	s.lists[key] = list[lo : hi+1]
	return nil
}

// ListRange returns elements in [start, stop], head first.
func (s *MemoryStore) ListRange(_ context.Context, key string, start, stop int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		s.purge(key)
		return nil, nil
	}
	list, ok := s.lists[key]
	if !ok {
		return nil, nil
	}
	lo, hi, ok := rangeBounds(start, stop, len(list))
	if !ok {
		return nil, nil
	}
	out := make([][]byte, 0, hi-lo+1)
	for _, v := range list[lo : hi+1] {
		cp := make([]byte, len(v))
		copy(cp, v)
		out = append(out, cp)
	}
	return out, nil
}

// SortedAdd adds or rescores member in the sorted set at key.
func (s *MemoryStore) SortedAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		s.purge(key)
	}
	set := s.zsets[key]
	for i := range set {
		if set[i].member == member {
			set[i].score = score
			s.sortSet(key, set)
			return nil
		}
	}
	set = append(set, zmember{member: member, score: score})
	s.sortSet(key, set)
	return nil
}

func (s *MemoryStore) sortSet(key string, set []zmember) {
	sort.SliceStable(set, func(i, j int) bool {
		if set[i].score != set[j].score {
			return set[i].score < set[j].score
		}
		return set[i].member < set[j].member
	})
	s.zsets[key] = set
}

// SortedRange returns members in [start, stop] by ascending score.
func (s *MemoryStore) SortedRange(_ context.Context, key string, start, stop int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		s.purge(key)
		return nil, nil
	}
	set, ok := s.zsets[key]
	if !ok {
		return nil, nil
	}
	lo, hi, ok := rangeBounds(start, stop, len(set))
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, hi-lo+1)
	for _, m := range set[lo : hi+1] {
		out = append(out, m.member)
	}
	return out, nil
}

// SortedRemove removes member from the sorted set at key.
func (s *MemoryStore) SortedRemove(_ context.Context, key string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		s.purge(key)
		return nil
	}
	set, ok := s.zsets[key]
	if !ok {
		return nil
	}
	for i := range set {
		if set[i].member == member {
			s.zsets[key] = append(set[:i], set[i+1:]...)
			return nil
		}
	}
	return nil
}

// HashIncrBy atomically adds delta to the hash field under the store lock.
func (s *MemoryStore) HashIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		s.purge(key)
	}
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]int64)
		s.hashes[key] = h
	}
	h[field] += delta
	return h[field], nil
}

// HashGetAll returns a copy of all fields of the hash at key.
func (s *MemoryStore) HashGetAll(_ context.Context, key string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(key) {
		s.purge(key)
		return map[string]int64{}, nil
	}
	h, ok := s.hashes[key]
	if !ok {
		return map[string]int64{}, nil
	}
	out := make(map[string]int64, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}
