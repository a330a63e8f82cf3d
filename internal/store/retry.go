package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/relaywerks/assigner/internal/model"
)

// retryWithBackoff wraps a store operation with exponential backoff,
// retrying only on transient SQLITE_BUSY/SQLITE_LOCKED contention. Anything
// else (constraint violations, conflict errors) is returned immediately —
// §7 requires ConflictError and InvalidInput never be silently retried here.
func retryWithBackoff(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 1 * time.Second
	b.MaxElapsedTime = 5 * time.Second
	b.RandomizationFactor = 0.2

	err := backoff.Retry(func() error {
		if cerr := ctx.Err(); cerr != nil {
			return backoff.Permanent(cerr)
		}
		err := op()
		if err == nil {
			return nil
		}
		if isRetryableError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))

	if err != nil && isRetryableError(err) {
		return &model.StorageUnavailableError{Op: "store", Err: err}
	}
	return err
}

// isRetryableError reports whether err represents transient SQLite
// contention rather than a real conflict or constraint violation.
func isRetryableError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xFF {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return false
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return true
	}
	return false
}
