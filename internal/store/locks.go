package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaywerks/assigner/internal/model"
)

// AcquireLock grants owner exclusive access to path for ttl, failing with
// BusyError if another owner already holds an active, unexpired lock on the
// same path. Re-acquiring with the same owner renews the existing lock
// rather than creating a second row.
func (s *Store) AcquireLock(ctx context.Context, path, owner string, ttl time.Duration) (*model.Lock, error) {
	if path == "" {
		return nil, &model.InvalidInputError{Field: "path", Reason: "must not be empty"}
	}
	if owner == "" {
		return nil, &model.InvalidInputError{Field: "owner", Reason: "must not be empty"}
	}

	var lock *model.Lock
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		rows, err := tx.QueryContext(ctx, lockSelectCols+` FROM locks WHERE path = ? AND status = 'active'`, path)
		if err != nil {
			return err
		}
		existing, err := scanLocks(rows)
		rows.Close()
		if err != nil {
			return err
		}

		for _, l := range existing {
			if !l.Active(now) {
				continue
			}
			if l.Owner != owner {
				return &model.BusyError{Path: path, CurrentOwner: l.Owner}
			}
			// Same owner: renew in place.
			expiresAt := now.Add(ttl)
			if _, err := tx.ExecContext(ctx, `UPDATE locks SET expires_at = ? WHERE id = ?`, expiresAt, l.ID); err != nil {
				return err
			}
			l.ExpiresAt = expiresAt
			lock = &l
			return nil
		}

		id := uuid.NewString()
		expiresAt := now.Add(ttl)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO locks (id, path, owner, status, expires_at)
			VALUES (?, ?, ?, 'active', ?)`, id, path, owner, expiresAt); err != nil {
			return err
		}
		lock = &model.Lock{ID: id, Path: path, Owner: owner, CreatedAt: now, ExpiresAt: expiresAt, Status: model.LockActive}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// RenewLock extends an active lock's expiry, failing with NotFoundError if
// the lock id doesn't exist, ConflictError if its status isn't active, and
// BusyError if held by a different owner.
func (s *Store) RenewLock(ctx context.Context, id, owner string, ttl time.Duration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var currentOwner, status, path string
		if err := tx.QueryRowContext(ctx, `SELECT owner, status, path FROM locks WHERE id = ?`, id).Scan(&currentOwner, &status, &path); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &model.NotFoundError{Kind: "lock", ID: id}
			}
			return err
		}
		if status != string(model.LockActive) {
			return &model.ConflictError{Kind: "lock", ID: id, Expected: string(model.LockActive), Actual: status}
		}
		if currentOwner != owner {
			return &model.BusyError{Path: path, CurrentOwner: currentOwner}
		}
		_, err := tx.ExecContext(ctx, `UPDATE locks SET expires_at = ? WHERE id = ?`, time.Now().Add(ttl), id)
		return err
	})
}

// ReleaseLock marks a lock released. Releasing an already-released or
// expired lock is a no-op, matching the property that release(acquire())
// leaves no active lock regardless of call order.
func (s *Store) ReleaseLock(ctx context.Context, id, owner string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var currentOwner, status, path string
		if err := tx.QueryRowContext(ctx, `SELECT owner, status, path FROM locks WHERE id = ?`, id).Scan(&currentOwner, &status, &path); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &model.NotFoundError{Kind: "lock", ID: id}
			}
			return err
		}
		if status != string(model.LockActive) {
			return nil
		}
		if currentOwner != owner {
			return &model.BusyError{Path: path, CurrentOwner: currentOwner}
		}
		_, err := tx.ExecContext(ctx, `UPDATE locks SET status = 'released' WHERE id = ?`, id)
		return err
	})
}

// ListLocks returns locks, optionally filtered by status (empty matches
// any).
func (s *Store) ListLocks(ctx context.Context, status model.LockStatus) ([]model.Lock, error) {
	q := lockSelectCols + ` FROM locks`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLocks(rows)
}

// ExpireDueLocks transitions active locks past their expiry to expired,
// returning the locks freed. Used by the reconciler's lock reaper.
func (s *Store) ExpireDueLocks(ctx context.Context) ([]model.Lock, error) {
	var freed []model.Lock
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, lockSelectCols+` FROM locks WHERE status = 'active' AND expires_at < CURRENT_TIMESTAMP`)
		if err != nil {
			return err
		}
		due, err := scanLocks(rows)
		rows.Close()
		if err != nil {
			return err
		}
		for _, l := range due {
			if _, err := tx.ExecContext(ctx, `UPDATE locks SET status = 'expired' WHERE id = ?`, l.ID); err != nil {
				return err
			}
			l.Status = model.LockExpired
			freed = append(freed, l)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("expiring due locks: %w", err)
	}
	return freed, nil
}

const lockSelectCols = `SELECT id, path, owner, status, created_at, expires_at`

func scanLocks(rows *sql.Rows) ([]model.Lock, error) {
	var out []model.Lock
	for rows.Next() {
		var l model.Lock
		var status string
		if err := rows.Scan(&l.ID, &l.Path, &l.Owner, &status, &l.CreatedAt, &l.ExpiresAt); err != nil {
			return nil, err
		}
		l.Status = model.LockStatus(status)
		out = append(out, l)
	}
	return out, rows.Err()
}
