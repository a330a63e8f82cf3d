// Package registry is an in-memory cache of known sessions, held behind a
// single mutex and reconstructable from the store on restart.
package registry

import (
	"context"
	"sync"

	"github.com/relaywerks/assigner/internal/model"
	"github.com/relaywerks/assigner/internal/store"
)

// Registry caches Session records so the matching engine and dispatcher
// don't round-trip to the store for every candidate check.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]model.Session)}
}

// Load populates the registry from the store, replacing any prior contents.
func Load(ctx context.Context, s *store.Store) (*Registry, error) {
	r := New()
	sessions, err := s.ListSessions(ctx, "")
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	for _, sess := range sessions {
		r.sessions[sess.Name] = sess
	}
	r.mu.Unlock()
	return r, nil
}

// Put inserts or replaces a session's cached record.
func (r *Registry) Put(sess model.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.Name] = sess
}

// Get returns the cached record for name, and whether it was found.
func (r *Registry) Get(name string) (model.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[name]
	return sess, ok
}

// Remove evicts a session from the cache, e.g. on deregistration.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, name)
}

// All returns a snapshot of every cached session.
func (r *Registry) All() []model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

// ByStatus returns a snapshot of cached sessions with the given status.
func (r *Registry) ByStatus(status model.SessionStatus) []model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Session
	for _, sess := range r.sessions {
		if sess.Status == status {
			out = append(out, sess)
		}
	}
	return out
}

// Idle returns cached sessions available to claim new work: idle status and
// holding no current task.
func (r *Registry) Idle() []model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Session
	for _, sess := range r.sessions {
		if sess.Status == model.SessionIdle && sess.CurrentTaskID == 0 {
			out = append(out, sess)
		}
	}
	return out
}
