// Package sqlite implements a persistent SQLite-backed record store
// module. It uses modernc.org/sqlite (pure Go, no CGO) with WAL mode and
// serialised writes, and mirrors the semantics of the in-memory store:
// whole-key expiry shared across namespaces, newest-first lists, sorted
// sets ordered by score then member.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/braid/internal/core"
	"github.com/flemzord/braid/internal/store"

	_ "modernc.org/sqlite" // SQLite driver registration
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ store.RecordStore = (*recordStore)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module is the SQLite record store module.
type Module struct {
	config Config
	db     *sql.DB
	logger *slog.Logger
	store  store.RecordStore
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	rs, db, err := Open(m.config)
	if err != nil {
		return err
	}
	m.db = db
	m.store = rs

	ctx.RegisterService("store.sqlite", m.store)

	m.logger.Info("sqlite record store provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if err := m.db.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("sqlite record store stopping")
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// Store returns the RecordStore implementation.
func (m *Module) Store() store.RecordStore {
	return m.store
}

// Open opens (creating if needed) a SQLite database per the config and
// returns a record store backed by it. The caller is responsible for
// closing the returned *sql.DB when done.
//
// The database is opened with a single connection (SQLite serialises
// writes), WAL mode when enabled, and a busy timeout. The schema is
// migrated automatically.
func Open(cfg Config) (store.RecordStore, *sql.DB, error) {
	cfg.defaults()

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}

	// One writer at a time; a single connection keeps PRAGMAs consistent.
	db.SetMaxOpenConns(1)

	ctx := context.TODO()
	if cfg.walEnabled() {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("sqlite: enable WAL: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout)); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return newRecordStore(db), db, nil
}
