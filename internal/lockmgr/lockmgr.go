// Package lockmgr manages directory locks: exclusive, TTL-bounded claims on
// a filesystem path that a dispatched prompt's session needs write access
// to. Unlike a raw flock, these locks are enforced by the store's locks
// table so they are visible to, and recoverable by, every asgn process
// sharing the database — not just the process that took them.
package lockmgr

import (
	"context"
	"path/filepath"
	"time"

	"github.com/relaywerks/assigner/internal/model"
	"github.com/relaywerks/assigner/internal/store"
)

// Manager acquires, renews, and releases directory locks atop a Store.
type Manager struct {
	store      *store.Store
	defaultTTL time.Duration
}

// New creates a lock manager with the given default lock lifetime.
func New(s *store.Store, defaultTTL time.Duration) *Manager {
	return &Manager{store: s, defaultTTL: defaultTTL}
}

// canonicalize resolves path to an absolute, symlink-free form so that two
// different spellings of the same directory contend for the same lock.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Path may not exist yet (e.g. a worktree about to be created);
		// fall back to the absolute form rather than failing the lock.
		return abs, nil
	}
	return resolved, nil
}

// Acquire grants owner exclusive access to path for this manager's default
// TTL, returning model.BusyError if another owner already holds it.
func (m *Manager) Acquire(ctx context.Context, path, owner string) (*model.Lock, error) {
	return m.AcquireTTL(ctx, path, owner, m.defaultTTL)
}

// AcquireTTL is Acquire with an explicit TTL override.
func (m *Manager) AcquireTTL(ctx context.Context, path, owner string, ttl time.Duration) (*model.Lock, error) {
	canon, err := canonicalize(path)
	if err != nil {
		return nil, err
	}
	return m.store.AcquireLock(ctx, canon, owner, ttl)
}

// Renew extends an active lock's expiry.
func (m *Manager) Renew(ctx context.Context, id, owner string) error {
	return m.store.RenewLock(ctx, id, owner, m.defaultTTL)
}

// Release releases a lock. A no-op if it's already released or expired.
func (m *Manager) Release(ctx context.Context, id, owner string) error {
	return m.store.ReleaseLock(ctx, id, owner)
}

// List returns locks, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status model.LockStatus) ([]model.Lock, error) {
	return m.store.ListLocks(ctx, status)
}

// Reap expires locks past their TTL, returning the locks freed. Called on
// the reconciler's lock-reaper cadence.
func (m *Manager) Reap(ctx context.Context) ([]model.Lock, error) {
	return m.store.ExpireDueLocks(ctx)
}
