// Package store defines the record store contract the engine persists
// through: key-value with TTL, ordered lists, sorted sets, and hash
// counters. Concrete implementations live in separate packages (the
// in-memory store here, SQLite under modules/store/sqlite).
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for record store operations.
var (
	// ErrUnavailable indicates the underlying store is unreachable.
	// It is propagated to callers rather than silently swallowed.
	ErrUnavailable = errors.New("record store unavailable")
)

// RecordStore is the persistence contract for the session engine.
// Implementations must be safe for concurrent use; HashIncrBy must be
// atomic at the store level so concurrent usage tracking needs no
// additional locking.
type RecordStore interface {
	// Get returns the value for key. The bool is false when the key does
	// not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key and any associated list/set/hash data.
	// Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error

	// Expire refreshes the TTL on key. A no-op if the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ListPush prepends values to the list at key (newest first).
	ListPush(ctx context.Context, key string, values ...[]byte) error

	// ListTrim keeps only the elements in [start, stop] (inclusive,
	// zero-based from the head). stop = -1 means the end of the list.
	ListTrim(ctx context.Context, key string, start, stop int) error

	// ListRange returns the elements in [start, stop], head first.
	ListRange(ctx context.Context, key string, start, stop int) ([][]byte, error)

	// SortedAdd adds member to the sorted set at key with the given score,
	// replacing the score if the member already exists.
	SortedAdd(ctx context.Context, key string, score float64, member string) error

	// SortedRange returns members in [start, stop] ordered by ascending
	// score (ties broken by member). stop = -1 means the end.
	SortedRange(ctx context.Context, key string, start, stop int) ([]string, error)

	// SortedRemove removes member from the sorted set at key.
	SortedRemove(ctx context.Context, key string, member string) error

	// HashIncrBy atomically adds delta to the hash field and returns the
	// new value. Missing hashes and fields start at zero.
	HashIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// HashGetAll returns all fields of the hash at key. Missing or expired
	// hashes yield an empty map.
	HashGetAll(ctx context.Context, key string) (map[string]int64, error)
}

// rangeBounds normalizes a [start, stop] range against length n, returning
// ok=false when the range selects nothing. Shared by implementations.
func rangeBounds(start, stop, n int) (int, int, bool) {
	if n == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
