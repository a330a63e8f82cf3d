package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaywerks/assigner/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnqueue_RejectsEmptyContent(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Enqueue(context.Background(), model.Prompt{})
	var invalid *model.InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
}

func TestClaimNext_HighestPriorityThenOldestWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, _ := s.Enqueue(ctx, model.Prompt{Content: "low-old"})
	time.Sleep(5 * time.Millisecond)
	_, _ = s.Enqueue(ctx, model.Prompt{Content: "low-new"})
	id3, _ := s.Enqueue(ctx, model.Prompt{Content: "high", Priority: 5})

	claimed, err := s.ClaimNext(ctx, "sess-a", ClaimFilter{})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != id3 {
		t.Fatalf("expected the high-priority prompt #%d claimed first, got %+v", id3, claimed)
	}

	claimed, err = s.ClaimNext(ctx, "sess-a", ClaimFilter{})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != id1 {
		t.Fatalf("expected the oldest remaining prompt #%d claimed next, got %+v", id1, claimed)
	}
}

func TestClaimNext_NothingPendingReturnsNilNil(t *testing.T) {
	s := openTestStore(t)
	claimed, err := s.ClaimNext(context.Background(), "sess-a", ClaimFilter{})
	if err != nil || claimed != nil {
		t.Fatalf("expected (nil, nil) when nothing pending, got (%+v, %v)", claimed, err)
	}
}

func TestClaimNext_PinnedOnlyMatchesTargetSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, _ = s.Enqueue(ctx, model.Prompt{Content: "unpinned"})
	pinnedID, _ := s.Enqueue(ctx, model.Prompt{Content: "pinned", TargetSession: "sess-b"})

	claimed, err := s.ClaimNext(ctx, "sess-b", ClaimFilter{SessionName: "sess-b", Pinned: true})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != pinnedID {
		t.Fatalf("expected the pinned prompt claimed, got %+v", claimed)
	}

	claimed, err = s.ClaimNext(ctx, "sess-c", ClaimFilter{SessionName: "sess-c", Pinned: true})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected no match for an unrelated pinned claim, got %+v", claimed)
	}
}

func TestTransition_RejectsUnexpectedFromState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, _ := s.Enqueue(ctx, model.Prompt{Content: "x"})

	err := s.Transition(ctx, id, []model.PromptStatus{model.StatusInProgress}, model.StatusCompleted, TransitionFields{})
	var conflict *model.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError transitioning from pending while expecting in_progress, got %v", err)
	}
}

func TestTransition_AppliesOptionalFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, _ := s.Enqueue(ctx, model.Prompt{Content: "x"})

	sessName := "sess-a"
	if err := s.Transition(ctx, id, []model.PromptStatus{model.StatusPending}, model.StatusAssigned, TransitionFields{AssignedSession: &sessName}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	errMsg := "boom"
	if err := s.Transition(ctx, id, []model.PromptStatus{model.StatusAssigned}, model.StatusFailed, TransitionFields{Error: &errMsg, RetryCountDelta: 1}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	p, err := s.GetPrompt(ctx, id)
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if p.Status != model.StatusFailed {
		t.Fatalf("expected status failed, got %s", p.Status)
	}
	if p.Error != errMsg {
		t.Fatalf("expected error %q, got %q", errMsg, p.Error)
	}
	if p.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", p.RetryCount)
	}
	if p.CompletedAt.IsZero() {
		t.Fatal("expected completed_at to be set on a terminal transition")
	}
}

func TestTransition_ToPendingClearsAssignment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, _ := s.Enqueue(ctx, model.Prompt{Content: "x"})
	sessName := "sess-a"
	if err := s.Transition(ctx, id, []model.PromptStatus{model.StatusPending}, model.StatusAssigned, TransitionFields{AssignedSession: &sessName}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := s.Transition(ctx, id, []model.PromptStatus{model.StatusAssigned}, model.StatusPending, TransitionFields{}); err != nil {
		t.Fatalf("Transition back to pending: %v", err)
	}
	p, err := s.GetPrompt(ctx, id)
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if p.AssignedSession != "" {
		t.Fatalf("expected assigned_session cleared, got %q", p.AssignedSession)
	}
	if !p.AssignedAt.IsZero() {
		t.Fatal("expected assigned_at cleared")
	}
}

func TestGetPrompt_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetPrompt(context.Background(), 999)
	var nf *model.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCleanupTerminal_RemovesOldTerminalPromptsOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	oldID, _ := s.Enqueue(ctx, model.Prompt{Content: "old"})
	if err := s.Transition(ctx, oldID, []model.PromptStatus{model.StatusPending}, model.StatusCompleted, TransitionFields{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE prompts SET completed_at = ? WHERE id = ?`, time.Now().Add(-10*24*time.Hour), oldID); err != nil {
		t.Fatalf("backdating completed_at: %v", err)
	}

	keepID, _ := s.Enqueue(ctx, model.Prompt{Content: "keep"})

	n, err := s.CleanupTerminal(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupTerminal: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row deleted, got %d", n)
	}
	if _, err := s.GetPrompt(ctx, oldID); err == nil {
		t.Fatal("expected old terminal prompt to be gone")
	}
	if _, err := s.GetPrompt(ctx, keepID); err != nil {
		t.Fatalf("expected pending prompt to survive cleanup, got %v", err)
	}
}

func TestEnqueue_RejectsOutOfRangePriority(t *testing.T) {
	s := openTestStore(t)
	for _, p := range []int{MinPriority - 1, MaxPriority + 1} {
		_, err := s.Enqueue(context.Background(), model.Prompt{Content: "x", Priority: p})
		var invalid *model.InvalidInputError
		if !errors.As(err, &invalid) {
			t.Fatalf("priority %d: expected InvalidInputError, got %v", p, err)
		}
	}
}

func TestListBySession_OnlyNonTerminalClaims(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := "sess-a"

	assigned, _ := s.Enqueue(ctx, model.Prompt{Content: "assigned"})
	if err := s.Transition(ctx, assigned, []model.PromptStatus{model.StatusPending}, model.StatusAssigned, TransitionFields{AssignedSession: &sess}); err != nil {
		t.Fatalf("seed assigned: %v", err)
	}

	done, _ := s.Enqueue(ctx, model.Prompt{Content: "done"})
	if err := s.Transition(ctx, done, []model.PromptStatus{model.StatusPending}, model.StatusAssigned, TransitionFields{AssignedSession: &sess}); err != nil {
		t.Fatalf("seed assigned: %v", err)
	}
	if err := s.Transition(ctx, done, []model.PromptStatus{model.StatusAssigned}, model.StatusCompleted, TransitionFields{}); err != nil {
		t.Fatalf("seed completed: %v", err)
	}

	held, err := s.ListBySession(ctx, sess)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(held) != 1 || held[0].ID != assigned {
		t.Fatalf("expected only the non-terminal assigned prompt, got %+v", held)
	}
}
