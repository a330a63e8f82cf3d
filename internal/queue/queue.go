// Package queue exposes the store as an ordered prompt backlog: enqueue,
// cancel, requeue, peek, and the claim that seeds the dispatcher.
package queue

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/relaywerks/assigner/internal/config"
	"github.com/relaywerks/assigner/internal/model"
	"github.com/relaywerks/assigner/internal/store"
)

// Queue wraps a Store with the retry backoff and cancellation semantics
// producers and the retry driver rely on.
type Queue struct {
	store *store.Store
	retry config.Retry
}

// New creates a Queue backed by s, using retry for its backoff schedule.
func New(s *store.Store, retry config.Retry) *Queue {
	return &Queue{store: s, retry: retry}
}

// Enqueue submits a new prompt in the pending state.
func (q *Queue) Enqueue(ctx context.Context, p model.Prompt) (int64, error) {
	return q.store.Enqueue(ctx, p)
}

// Cancel marks a prompt cancelled. Pending prompts are cancelled
// immediately; in_progress prompts are flagged cancel_requested and torn
// down by the completion sweep once the session acknowledges.
func (q *Queue) Cancel(ctx context.Context, id int64) error {
	p, err := q.store.GetPrompt(ctx, id)
	if err != nil {
		return err
	}
	switch p.Status {
	case model.StatusPending, model.StatusAssigned:
		return q.store.Transition(ctx, id,
			[]model.PromptStatus{model.StatusPending, model.StatusAssigned},
			model.StatusCancelled, store.TransitionFields{})
	case model.StatusInProgress:
		cancelRequested := true
		return q.store.Transition(ctx, id,
			[]model.PromptStatus{model.StatusInProgress},
			model.StatusInProgress, store.TransitionFields{CancelRequested: &cancelRequested})
	default:
		return &model.ConflictError{Kind: "prompt", ID: fmt.Sprint(id), Expected: "pending|assigned|in_progress", Actual: string(p.Status)}
	}
}

// Requeue moves a failed prompt back to pending, bumping retry_count. Used
// by both the retry driver and an operator-initiated manual retry — both
// paths increment retry_count identically and are refused once
// retry_count has already reached max_retries, so repeated manual
// `asgn retry` calls can't grow retry_count past the prompt's own limit.
func (q *Queue) Requeue(ctx context.Context, id int64) error {
	p, err := q.store.GetPrompt(ctx, id)
	if err != nil {
		return err
	}
	if p.RetryCount >= p.MaxRetries {
		return &model.ConflictError{Kind: "prompt", ID: fmt.Sprint(id), Expected: "retry_count < max_retries", Actual: fmt.Sprintf("%d/%d", p.RetryCount, p.MaxRetries)}
	}
	return q.store.Transition(ctx, id,
		[]model.PromptStatus{model.StatusFailed},
		model.StatusPending, store.TransitionFields{RetryCountDelta: 1})
}

// Claim delegates to the store's serializable claim_next.
func (q *Queue) Claim(ctx context.Context, session string, filter store.ClaimFilter) (*model.Prompt, error) {
	return q.store.ClaimNext(ctx, session, filter)
}

// Peek returns up to limit pending prompts in dispatch order.
func (q *Queue) Peek(ctx context.Context, limit int) ([]model.Prompt, error) {
	return q.store.ListPending(ctx, limit)
}

// Stats summarizes queue and session counts.
func (q *Queue) Stats(ctx context.Context) (model.Stats, error) {
	return q.store.Stats(ctx)
}

// RetryDelay returns the backoff interval before a failed prompt with the
// given retry_count and timeout_minutes becomes eligible for requeue:
// base*2^retry_count with jitter, capped at timeout_minutes.
func (q *Queue) RetryDelay(retryCount, timeoutMinutes int) time.Duration {
	d := q.retry.RetryDelay(retryCount)
	maxDelay := time.Duration(timeoutMinutes) * time.Minute
	if d > maxDelay {
		d = maxDelay
	}
	if q.retry.Jitter > 0 {
		jitter := 1 + (rand.Float64()*2-1)*q.retry.Jitter
		d = time.Duration(float64(d) * jitter)
	}
	return d
}
