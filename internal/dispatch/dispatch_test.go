package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/relaywerks/assigner/internal/config"
	"github.com/relaywerks/assigner/internal/lockmgr"
	"github.com/relaywerks/assigner/internal/model"
	"github.com/relaywerks/assigner/internal/probe"
	"github.com/relaywerks/assigner/internal/queue"
	"github.com/relaywerks/assigner/internal/registry"
	"github.com/relaywerks/assigner/internal/store"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	q := queue.New(s, config.Default().Retry)
	reg := registry.New()
	locks := lockmgr.New(s, time.Duration(config.Default().Locks.DefaultTTLSeconds)*time.Second)
	d := New(s, q, reg, locks, probe.New(), config.Default().Dispatcher, config.Default().Probe)
	return d, s
}

func TestRequiredPaths_EmptyWorkingDirYieldsNone(t *testing.T) {
	if got := requiredPaths(model.Prompt{}); got != nil {
		t.Fatalf("expected no required paths without a working dir, got %v", got)
	}
}

func TestRequiredPaths_WorkingDirYieldsOnePath(t *testing.T) {
	got := requiredPaths(model.Prompt{Metadata: model.Metadata{WorkingDir: "/repo/x"}})
	if len(got) != 1 || got[0] != "/repo/x" {
		t.Fatalf("expected exactly one required path, got %v", got)
	}
}

func TestAbort_LockContentionReturnsToPendingWithoutIncrementingRetry(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, model.Prompt{Content: "x"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	sess := "sess-a"
	if err := s.Transition(ctx, id, []model.PromptStatus{model.StatusPending}, model.StatusAssigned, store.TransitionFields{AssignedSession: &sess}); err != nil {
		t.Fatalf("seed assigned: %v", err)
	}

	d.abort(ctx, id, sess, false, "lock busy on /repo/x")

	p, err := s.GetPrompt(ctx, id)
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if p.Status != model.StatusPending {
		t.Fatalf("expected pending after abort, got %s", p.Status)
	}
	if p.RetryCount != 0 {
		t.Fatalf("expected retry_count left untouched by lock contention, got %d", p.RetryCount)
	}
	if p.Error == "" {
		t.Fatal("expected the abort reason recorded as the prompt error")
	}

	hist, err := s.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 || hist[0].Action != model.ActionRequeued {
		t.Fatalf("expected one requeued history entry, got %+v", hist)
	}
}

func TestAbort_DispatchFailureIncrementsRetry(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, model.Prompt{Content: "x"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	sess := "sess-a"
	if err := s.Transition(ctx, id, []model.PromptStatus{model.StatusPending}, model.StatusAssigned, store.TransitionFields{AssignedSession: &sess}); err != nil {
		t.Fatalf("seed assigned: %v", err)
	}

	d.abort(ctx, id, sess, true, "context mismatch")

	p, err := s.GetPrompt(ctx, id)
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if p.RetryCount != 1 {
		t.Fatalf("expected retry_count incremented to 1 for a genuine dispatch failure, got %d", p.RetryCount)
	}
}

func TestTick_NoPendingPromptsIsNoop(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.tick(context.Background()) // must not panic or block
}
