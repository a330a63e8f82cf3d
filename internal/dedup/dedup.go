// Package dedup provides slot-based alert deduplication for the
// reconciler's background loops, so a condition that persists across many
// ticks (a stuck session, an expired lock) is only logged once per
// maxAge window instead of on every tick.
package dedup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Alert tracks a pending alert for deduplication. Only the latest alert
// per slot matters - earlier ones are replaced.
type Alert struct {
	Slot       string    `json:"slot"`
	Session    string    `json:"session"`
	Message    string    `json:"message"`
	SentAt     time.Time `json:"sent_at"`
	Consumed   bool      `json:"consumed"`
	ConsumedAt time.Time `json:"consumed_at,omitempty"`
}

// Manager handles slot-based alert deduplication. It ensures that for a
// given (session, slot) pair, only one alert is pending at a time. Raising
// a new alert on the same slot replaces the previous one.
//
// All exported methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	stateDir string        // directory for slot state files
	maxAge   time.Duration // max age before considering a slot stale
}

// NewManager creates an alert manager backed by stateDir.
func NewManager(stateDir string, maxAge time.Duration) *Manager {
	return &Manager{
		stateDir: stateDir,
		maxAge:   maxAge,
	}
}

// slotPath returns the path to the slot state file.
func (m *Manager) slotPath(session, slot string) string {
	safeSession := session
	for i := range safeSession {
		if safeSession[i] == '/' {
			safeSession = safeSession[:i] + "-" + safeSession[i+1:]
		}
	}
	return filepath.Join(m.stateDir, fmt.Sprintf("slot-%s-%s.json", safeSession, slot))
}

// GetSlot reads the current state of an alert slot.
func (m *Manager) GetSlot(session, slot string) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getSlotLocked(session, slot)
}

func (m *Manager) getSlotLocked(session, slot string) (*Alert, error) {
	path := m.slotPath(session, slot)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var a Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ShouldSend reports whether an alert should be raised for this slot:
// no pending alert exists, the pending one is stale, or it was consumed.
func (m *Manager) ShouldSend(session, slot string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shouldSendLocked(session, slot)
}

func (m *Manager) shouldSendLocked(session, slot string) (bool, error) {
	a, err := m.getSlotLocked(session, slot)
	if err != nil {
		return true, err // on error, allow raising the alert
	}
	if a == nil {
		return true, nil
	}
	if a.Consumed {
		return true, nil
	}
	if time.Since(a.SentAt) > m.maxAge {
		return true, nil
	}
	return false, nil
}

// RecordSend records that an alert was raised for a slot.
func (m *Manager) RecordSend(session, slot, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordSendLocked(session, slot, message)
}

func (m *Manager) recordSendLocked(session, slot, message string) error {
	if err := os.MkdirAll(m.stateDir, 0o755); err != nil {
		return err
	}
	a := &Alert{
		Slot:    slot,
		Session: session,
		Message: message,
		SentAt:  time.Now(),
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return os.WriteFile(m.slotPath(session, slot), data, 0o600)
}

// SendIfReady atomically checks whether an alert should be raised for the
// given slot and, if so, records it. This closes the TOCTOU race between
// separate ShouldSend and RecordSend calls. Returns true if the caller
// should raise the alert.
func (m *Manager) SendIfReady(session, slot, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok, err := m.shouldSendLocked(session, slot)
	if err != nil {
		return true, err
	}
	if !ok {
		return false, nil
	}
	return true, m.recordSendLocked(session, slot, message)
}

// MarkConsumed marks a slot's alert as consumed (the condition cleared).
func (m *Manager) MarkConsumed(session, slot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.getSlotLocked(session, slot)
	if err != nil {
		return err
	}
	if a == nil {
		return nil
	}
	a.Consumed = true
	a.ConsumedAt = time.Now()

	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return os.WriteFile(m.slotPath(session, slot), data, 0o600)
}

// MarkSessionActive marks every slot for a session as consumed. Call this
// when a session transitions back to idle, clearing whatever alerts were
// raised against it while busy or stuck.
func (m *Manager) MarkSessionActive(session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pattern := filepath.Join(m.stateDir, fmt.Sprintf("slot-%s-*.json", session))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var a Alert
		if err := json.Unmarshal(data, &a); err != nil {
			continue
		}
		if !a.Consumed {
			a.Consumed = true
			a.ConsumedAt = time.Now()
			if data, err := json.Marshal(&a); err == nil {
				_ = os.WriteFile(path, data, 0o644)
			}
		}
	}
	return nil
}

// ClearSlot removes the state file for a slot.
func (m *Manager) ClearSlot(session, slot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(m.slotPath(session, slot))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ClearStaleSlots removes slot files older than maxAge.
func (m *Manager) ClearStaleSlots() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pattern := filepath.Join(m.stateDir, "slot-*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > m.maxAge {
			_ = os.Remove(path)
		}
	}
	return nil
}

// Alert slots raised by the reconciler's loops.
const (
	SlotStuck       = "stuck"
	SlotLockExpired = "lock_expired"
)
