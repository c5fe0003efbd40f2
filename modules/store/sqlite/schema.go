package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application. The expiry table
// is shared by every namespace: a key expires as a whole, regardless of
// which structures it holds.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS list_items (
		key   TEXT    NOT NULL,
		pos   INTEGER NOT NULL,
		value BLOB    NOT NULL,
		PRIMARY KEY (key, pos)
	)`,

	`CREATE TABLE IF NOT EXISTS zset_members (
		key    TEXT NOT NULL,
		member TEXT NOT NULL,
		score  REAL NOT NULL,
		PRIMARY KEY (key, member)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_zset_score ON zset_members(key, score, member)`,

	`CREATE TABLE IF NOT EXISTS hash_fields (
		key   TEXT    NOT NULL,
		field TEXT    NOT NULL,
		value INTEGER NOT NULL,
		PRIMARY KEY (key, field)
	)`,

	`CREATE TABLE IF NOT EXISTS expiry (
		key        TEXT    PRIMARY KEY,
		expires_at INTEGER NOT NULL
	)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
