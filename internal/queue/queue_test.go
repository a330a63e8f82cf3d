package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaywerks/assigner/internal/config"
	"github.com/relaywerks/assigner/internal/model"
	"github.com/relaywerks/assigner/internal/store"
)

func newTestQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s, config.Default().Retry), s
}

func TestCancel_PendingIsImmediate(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, model.Prompt{Content: "x"})

	if err := q.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	p, err := s.GetPrompt(ctx, id)
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if p.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", p.Status)
	}
}

func TestCancel_InProgressOnlyFlagsRequested(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, model.Prompt{Content: "x"})
	if err := s.Transition(ctx, id, []model.PromptStatus{model.StatusPending}, model.StatusAssigned, store.TransitionFields{}); err != nil {
		t.Fatalf("seed assigned: %v", err)
	}
	if err := s.Transition(ctx, id, []model.PromptStatus{model.StatusAssigned}, model.StatusInProgress, store.TransitionFields{}); err != nil {
		t.Fatalf("seed in_progress: %v", err)
	}

	if err := q.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	p, err := s.GetPrompt(ctx, id)
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if p.Status != model.StatusInProgress {
		t.Fatalf("expected status to remain in_progress, got %s", p.Status)
	}
	if !p.CancelRequested {
		t.Fatal("expected cancel_requested set")
	}
}

func TestCancel_TerminalIsConflict(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, model.Prompt{Content: "x"})
	if err := s.Transition(ctx, id, []model.PromptStatus{model.StatusPending}, model.StatusCompleted, store.TransitionFields{}); err != nil {
		t.Fatalf("seed completed: %v", err)
	}

	err := q.Cancel(ctx, id)
	var conflict *model.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError cancelling a terminal prompt, got %v", err)
	}
}

func TestRequeue_OnlyFromFailed(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, model.Prompt{Content: "x", MaxRetries: 3})

	if err := q.Requeue(ctx, id); err == nil {
		t.Fatal("expected requeue of a pending prompt to fail")
	}

	if err := s.Transition(ctx, id, []model.PromptStatus{model.StatusPending}, model.StatusFailed, store.TransitionFields{}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := q.Requeue(ctx, id); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	p, err := s.GetPrompt(ctx, id)
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if p.Status != model.StatusPending {
		t.Fatalf("expected pending after requeue, got %s", p.Status)
	}
	if p.RetryCount != 1 {
		t.Fatalf("expected retry_count incremented to 1, got %d", p.RetryCount)
	}
}

func TestRequeue_RefusedOnceMaxRetriesReached(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, model.Prompt{Content: "x", MaxRetries: 1})
	if err := s.Transition(ctx, id, []model.PromptStatus{model.StatusPending}, model.StatusFailed, store.TransitionFields{}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := q.Requeue(ctx, id); err != nil {
		t.Fatalf("first Requeue: %v", err)
	}
	if err := s.Transition(ctx, id, []model.PromptStatus{model.StatusPending}, model.StatusFailed, store.TransitionFields{}); err != nil {
		t.Fatalf("seed failed again: %v", err)
	}

	err := q.Requeue(ctx, id)
	var conflict *model.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError once retry_count reaches max_retries, got %v", err)
	}
	p, _ := s.GetPrompt(ctx, id)
	if p.Status != model.StatusFailed {
		t.Fatalf("expected the prompt to remain failed when requeue is refused, got %s", p.Status)
	}
}

func TestRetryDelay_CappedAtTimeout(t *testing.T) {
	q := &Queue{retry: config.Retry{BaseSeconds: 30, MaxSeconds: 3600, Jitter: 0}}
	d := q.RetryDelay(10, 1) // huge backoff, 1-minute timeout cap
	if d != time.Minute {
		t.Fatalf("expected delay capped at the 1-minute timeout, got %v", d)
	}
}

func TestPeek_OrdersByDispatchPriority(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, model.Prompt{Content: "low"})
	highID, _ := q.Enqueue(ctx, model.Prompt{Content: "high", Priority: 9})

	peeked, err := q.Peek(ctx, 10)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if len(peeked) != 2 || peeked[0].ID != highID {
		t.Fatalf("expected the high-priority prompt first, got %+v", peeked)
	}
}
