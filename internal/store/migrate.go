package store

import (
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// MigrateDB runs all pending migrations. A cross-process file lock
// serializes concurrent migration attempts from separately-started `asgn`
// processes; the lock is skipped for in-memory databases (tests).
func MigrateDB(db *sql.DB, path string) error {
	if path != ":memory:" {
		release, err := acquireMigrationLock(path)
		if err != nil {
			return fmt.Errorf("migration lock: %w", err)
		}
		defer release()
	}

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// SchemaVersion reports the current applied migration version and the
// highest version available, for `asgn daemon status`-style diagnostics.
func SchemaVersion(db *sql.DB) (current, latest int64, err error) {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, 0, fmt.Errorf("set dialect: %w", err)
	}
	current, err = goose.GetDBVersion(db)
	if err != nil {
		current = 0
	}
	latest, err = latestMigrationVersion()
	if err != nil {
		return current, 0, fmt.Errorf("determine latest version: %w", err)
	}
	return current, latest, nil
}

// latestMigrationVersion reads the embedded migrations directory and returns
// the highest version number found, parsed from the "NNNNN_name.sql" prefix.
func latestMigrationVersion() (int64, error) {
	entries, err := embedMigrations.ReadDir("migrations")
	if err != nil {
		return 0, fmt.Errorf("read migrations dir: %w", err)
	}
	var max int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx := strings.IndexByte(e.Name(), '_')
		if idx <= 0 {
			continue
		}
		v, err := strconv.ParseInt(e.Name()[:idx], 10, 64)
		if err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max, nil
}
