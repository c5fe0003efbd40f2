package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// recordStore implements store.RecordStore backed by SQLite. Expired keys
// are purged lazily on access, mirroring the in-memory store.
type recordStore struct {
	db *sql.DB

	// now is injectable for deterministic expiry testing.
	now func() time.Time
}

func newRecordStore(db *sql.DB) *recordStore {
	return &recordStore{db: db, now: time.Now}
}

// withTx runs fn inside a transaction and commits it.
func (s *recordStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// purge removes key from every namespace. Caller holds the transaction.
func purge(ctx context.Context, tx *sql.Tx, key string) error {
	for _, table := range []string{"kv", "list_items", "zset_members", "hash_fields", "expiry"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE key = ?", key); err != nil {
			return fmt.Errorf("sqlite: purge %s: %w", table, err)
		}
	}
	return nil
}

// expireIfNeeded purges key when its deadline has passed.
func (s *recordStore) expireIfNeeded(ctx context.Context, tx *sql.Tx, key string) error {
	var deadline int64
	err := tx.QueryRowContext(ctx, "SELECT expires_at FROM expiry WHERE key = ?", key).Scan(&deadline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sqlite: read expiry: %w", err)
	}
	if deadline <= s.now().UnixMicro() {
		return purge(ctx, tx, key)
	}
	return nil
}

// keyExists reports whether key is present in any namespace.
func keyExists(ctx context.Context, tx *sql.Tx, key string) (bool, error) {
	const q = `SELECT
		EXISTS(SELECT 1 FROM kv WHERE key = ?1)
		OR EXISTS(SELECT 1 FROM list_items WHERE key = ?1)
		OR EXISTS(SELECT 1 FROM zset_members WHERE key = ?1)
		OR EXISTS(SELECT 1 FROM hash_fields WHERE key = ?1)`
	var exists bool
	if err := tx.QueryRowContext(ctx, q, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("sqlite: exists: %w", err)
	}
	return exists, nil
}

// clampRange normalizes a [start, stop] range against length n, returning
// ok=false when the range selects nothing.
func clampRange(start, stop, n int) (int, int, bool) {
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

func listLen(ctx context.Context, tx *sql.Tx, key string) (int, error) {
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM list_items WHERE key = ?", key).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: list length: %w", err)
	}
	return n, nil
}

// Get returns the value for key, treating expired keys as missing.
func (s *recordStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.expireIfNeeded(ctx, tx, key); err != nil {
			return err
		}
		err := tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sqlite: get: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Set stores value under key. A ttl of zero clears any existing expiry.
func (s *recordStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			key, value); err != nil {
			return fmt.Errorf("sqlite: set: %w", err)
		}
		return s.applyTTL(ctx, tx, key, ttl)
	})
}

func (s *recordStore) applyTTL(ctx context.Context, tx *sql.Tx, key string, ttl time.Duration) error {
	if ttl > 0 {
		deadline := s.now().Add(ttl).UnixMicro()
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO expiry (key, expires_at) VALUES (?, ?)", key, deadline); err != nil {
			return fmt.Errorf("sqlite: set expiry: %w", err)
		}
		return nil
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM expiry WHERE key = ?", key); err != nil {
		return fmt.Errorf("sqlite: clear expiry: %w", err)
	}
	return nil
}

// Delete removes key from every namespace.
func (s *recordStore) Delete(ctx context.Context, key string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return purge(ctx, tx, key)
	})
}

// Expire refreshes the TTL on key if it exists in any namespace.
func (s *recordStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.expireIfNeeded(ctx, tx, key); err != nil {
			return err
		}
		exists, err := keyExists(ctx, tx, key)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		return s.applyTTL(ctx, tx, key, ttl)
	})
}

// ListPush prepends values to the list at key, newest first. Head
// elements carry the smallest positions.
func (s *recordStore) ListPush(ctx context.Context, key string, values ...[]byte) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.expireIfNeeded(ctx, tx, key); err != nil {
			return err
		}
		for _, v := range values {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO list_items (key, pos, value)
				 SELECT ?1, COALESCE(MIN(pos), 1) - 1, ?2 FROM list_items WHERE key = ?1`,
				key, v); err != nil {
				return fmt.Errorf("sqlite: list push: %w", err)
			}
		}
		return nil
	})
}

// ListTrim keeps only the elements in [start, stop].
func (s *recordStore) ListTrim(ctx context.Context, key string, start, stop int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.expireIfNeeded(ctx, tx, key); err != nil {
			return err
		}
		n, err := listLen(ctx, tx, key)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		lo, hi, ok := clampRange(start, stop, n)
		if !ok {
			if _, err := tx.ExecContext(ctx, "DELETE FROM list_items WHERE key = ?", key); err != nil {
				return fmt.Errorf("sqlite: list trim: %w", err)
			}
			return nil
		}
		var loPos, hiPos int64
		if err := tx.QueryRowContext(ctx,
			"SELECT pos FROM list_items WHERE key = ? ORDER BY pos LIMIT 1 OFFSET ?", key, lo).Scan(&loPos); err != nil {
			return fmt.Errorf("sqlite: list trim bounds: %w", err)
		}
		if err := tx.QueryRowContext(ctx,
			"SELECT pos FROM list_items WHERE key = ? ORDER BY pos LIMIT 1 OFFSET ?", key, hi).Scan(&hiPos); err != nil {
			return fmt.Errorf("sqlite: list trim bounds: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM list_items WHERE key = ? AND (pos < ? OR pos > ?)", key, loPos, hiPos); err != nil {
			return fmt.Errorf("sqlite: list trim: %w", err)
		}
		return nil
	})
}

// ListRange returns elements in [start, stop], head first.
func (s *recordStore) ListRange(ctx context.Context, key string, start, stop int) ([][]byte, error) {
	var out [][]byte
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.expireIfNeeded(ctx, tx, key); err != nil {
			return err
		}
		n, err := listLen(ctx, tx, key)
		if err != nil {
			return err
		}
		lo, hi, ok := clampRange(start, stop, n)
		if !ok {
			return nil
		}
		rows, err := tx.QueryContext(ctx,
			"SELECT value FROM list_items WHERE key = ? ORDER BY pos LIMIT ? OFFSET ?",
			key, hi-lo+1, lo)
		if err != nil {
			return fmt.Errorf("sqlite: list range: %w", err)
		}
		defer rows.Close() //nolint:errcheck // read-only cursor
		for rows.Next() {
			var v []byte
			if err := rows.Scan(&v); err != nil {
				return fmt.Errorf("sqlite: list range scan: %w", err)
			}
			out = append(out, v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SortedAdd adds or rescores member in the sorted set at key.
func (s *recordStore) SortedAdd(ctx context.Context, key string, score float64, member string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.expireIfNeeded(ctx, tx, key); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO zset_members (key, member, score) VALUES (?, ?, ?)
			 ON CONFLICT(key, member) DO UPDATE SET score = excluded.score`,
			key, member, score); err != nil {
			return fmt.Errorf("sqlite: sorted add: %w", err)
		}
		return nil
	})
}

// SortedRange returns members in [start, stop] by ascending score, ties
// broken by member.
func (s *recordStore) SortedRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	var out []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.expireIfNeeded(ctx, tx, key); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM zset_members WHERE key = ?", key).Scan(&n); err != nil {
			return fmt.Errorf("sqlite: sorted range: %w", err)
		}
		lo, hi, ok := clampRange(start, stop, n)
		if !ok {
			return nil
		}
		rows, err := tx.QueryContext(ctx,
			"SELECT member FROM zset_members WHERE key = ? ORDER BY score, member LIMIT ? OFFSET ?",
			key, hi-lo+1, lo)
		if err != nil {
			return fmt.Errorf("sqlite: sorted range: %w", err)
		}
		defer rows.Close() //nolint:errcheck // read-only cursor
		for rows.Next() {
			var m string
			if err := rows.Scan(&m); err != nil {
				return fmt.Errorf("sqlite: sorted range scan: %w", err)
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SortedRemove removes member from the sorted set at key.
func (s *recordStore) SortedRemove(ctx context.Context, key string, member string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.expireIfNeeded(ctx, tx, key); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM zset_members WHERE key = ? AND member = ?", key, member); err != nil {
			return fmt.Errorf("sqlite: sorted remove: %w", err)
		}
		return nil
	})
}

// HashIncrBy atomically adds delta to the hash field, creating it at zero.
func (s *recordStore) HashIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	var value int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.expireIfNeeded(ctx, tx, key); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO hash_fields (key, field, value) VALUES (?, ?, ?)
			 ON CONFLICT(key, field) DO UPDATE SET value = hash_fields.value + excluded.value
			 RETURNING value`,
			key, field, delta).Scan(&value); err != nil {
			return fmt.Errorf("sqlite: hash incr: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

// HashGetAll returns all fields of the hash at key.
func (s *recordStore) HashGetAll(ctx context.Context, key string) (map[string]int64, error) {
	out := make(map[string]int64)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.expireIfNeeded(ctx, tx, key); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx,
			"SELECT field, value FROM hash_fields WHERE key = ?", key)
		if err != nil {
			return fmt.Errorf("sqlite: hash get all: %w", err)
		}
		defer rows.Close() //nolint:errcheck // read-only cursor
		for rows.Next() {
			var field string
			var value int64
			if err := rows.Scan(&field, &value); err != nil {
				return fmt.Errorf("sqlite: hash scan: %w", err)
			}
			out[field] = value
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
