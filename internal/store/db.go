// Package store is the persistent, durable record of prompts, sessions,
// assignment history, and directory locks. All state transitions flow
// through it; every in-memory cache elsewhere in this repo is reconstructable
// from it on restart.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// defaultBusyTimeoutMS bounds how long a writer blocks behind SQLITE_BUSY
// before returning an error for the retry layer to handle.
const defaultBusyTimeoutMS = 5000

// Store wraps a single-writer SQLite connection with the assigner's schema.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path, applies
// pragmas for WAL concurrency, and runs pending migrations. Use ":memory:"
// for an ephemeral store (tests).
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating store dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	// A single writer connection avoids SQLITE_BUSY storms under WAL and
	// keeps "claim_next"/"transition"/"acquire_lock" serializable without a
	// separate lock manager in front of the database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := MigrateDB(db, path); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating store: %w", err)
	}

	return &Store{db: db}, nil
}

// dsn builds a modernc.org/sqlite-compatible DSN. modernc.org/sqlite is
// strict about file URIs; using mode=rwc keeps creation behavior consistent
// across platforms.
func dsn(path string) string {
	if path == ":memory:" {
		return "file::memory:?mode=memory&cache=shared"
	}
	return fmt.Sprintf("file:%s?mode=rwc", path)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeoutMS),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(context.Background(), p); err != nil {
			return fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}
	return nil
}

// Close runs a final checkpoint then closes the underlying connection.
func (s *Store) Close() error {
	_, _ = s.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers (e.g. diagnostics) that need
// direct access. Prefer the typed methods below for normal operation.
func (s *Store) DB() *sql.DB { return s.db }
