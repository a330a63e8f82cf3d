package model

import (
	"errors"
	"testing"
)

func TestNotFoundError_IsErrNotFound(t *testing.T) {
	err := &NotFoundError{Kind: "prompt", ID: "1"}
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected NotFoundError to satisfy errors.Is(ErrNotFound)")
	}
	if errors.Is(err, ErrConflict) {
		t.Fatal("expected NotFoundError to not satisfy errors.Is(ErrConflict)")
	}
}

func TestConflictError_IsErrConflict(t *testing.T) {
	err := &ConflictError{Kind: "prompt", ID: "1", Expected: "pending", Actual: "assigned"}
	if !errors.Is(err, ErrConflict) {
		t.Fatal("expected ConflictError to satisfy errors.Is(ErrConflict)")
	}
}

func TestBusyError_IsErrBusy(t *testing.T) {
	err := &BusyError{Path: "/x", CurrentOwner: "sess-a"}
	if !errors.Is(err, ErrBusy) {
		t.Fatal("expected BusyError to satisfy errors.Is(ErrBusy)")
	}
}

func TestStorageUnavailableError_WrapsAndMatches(t *testing.T) {
	inner := errors.New("disk full")
	err := &StorageUnavailableError{Op: "write", Err: inner}
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatal("expected StorageUnavailableError to satisfy errors.Is(ErrStorageUnavailable)")
	}
	if !errors.Is(err, inner) {
		t.Fatal("expected StorageUnavailableError to unwrap to its underlying cause")
	}
}
