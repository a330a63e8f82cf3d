package model

import (
	"testing"
	"time"
)

func TestPromptStatus_Terminal(t *testing.T) {
	terminal := []PromptStatus{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []PromptStatus{StatusPending, StatusAssigned, StatusInProgress}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}

func TestSession_HoldsTask(t *testing.T) {
	s := Session{CurrentTaskID: 5}
	if !s.HoldsTask(5) {
		t.Fatal("expected session to hold task 5")
	}
	if s.HoldsTask(6) {
		t.Fatal("expected session to not hold task 6")
	}
	empty := Session{}
	if empty.HoldsTask(0) {
		t.Fatal("a zero current_task_id never counts as holding task 0")
	}
}

func TestLock_Active(t *testing.T) {
	now := time.Now()
	active := Lock{Status: LockActive, ExpiresAt: now.Add(time.Hour)}
	if !active.Active(now) {
		t.Fatal("expected an unexpired active lock to be active")
	}

	expired := Lock{Status: LockActive, ExpiresAt: now.Add(-time.Hour)}
	if expired.Active(now) {
		t.Fatal("expected a past-expiry lock to not be active")
	}

	released := Lock{Status: LockReleased, ExpiresAt: now.Add(time.Hour)}
	if released.Active(now) {
		t.Fatal("expected a released lock to not be active regardless of expiry")
	}
}
