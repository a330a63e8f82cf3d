package match

import (
	"testing"
	"time"

	"github.com/relaywerks/assigner/internal/model"
)

func idleSession(name, provider, workDir string) model.Session {
	return model.Session{
		Name:         name,
		Provider:     provider,
		Status:       model.SessionIdle,
		WorkingDir:   workDir,
		LastActivity: time.Now(),
	}
}

func TestBest_PriorityOrdersOverArrival(t *testing.T) {
	// Scenario C: #1 (p0), #2 (p5), #3 (p0) in submission order, one idle
	// matching session. Dispatch order must be #2, then #1, then #3.
	base := time.Now().Add(-time.Minute)
	prompts := []model.Prompt{
		{ID: 1, Priority: 0, CreatedAt: base, Status: model.StatusPending},
		{ID: 2, Priority: 5, CreatedAt: base.Add(time.Second), Status: model.StatusPending},
		{ID: 3, Priority: 0, CreatedAt: base.Add(2 * time.Second), Status: model.StatusPending},
	}
	ordered := sortForDispatch(prompts)

	sessions := []model.Session{idleSession("only", "", "")}

	pair, ok := Best(ordered, sessions, nil)
	if !ok || pair.Prompt.ID != 2 {
		t.Fatalf("expected prompt #2 dispatched first, got %+v ok=%v", pair, ok)
	}

	remaining := []model.Prompt{prompts[0], prompts[2]}
	pair, ok = Best(sortForDispatch(remaining), sessions, nil)
	if !ok || pair.Prompt.ID != 1 {
		t.Fatalf("expected prompt #1 dispatched next, got %+v ok=%v", pair, ok)
	}
}

func TestBest_LockContentionDeterministicTieBreak(t *testing.T) {
	// Scenario D: sessions a and b both idle at /repo/x; #1 requires /repo/x.
	// The lower-named session wins deterministically when otherwise tied.
	p := model.Prompt{
		ID:       1,
		Status:   model.StatusPending,
		Metadata: model.Metadata{WorkingDir: "/repo/x"},
	}
	sessions := []model.Session{
		idleSession("b", "", "/repo/x"),
		idleSession("a", "", "/repo/x"),
	}

	pair, ok := Best([]model.Prompt{p}, sessions, nil)
	if !ok {
		t.Fatal("expected a match")
	}
	if pair.Session.Name != "a" {
		t.Fatalf("expected deterministic tie-break to session a, got %s", pair.Session.Name)
	}
}

func TestBest_NoEligibleSessionWhenLocked(t *testing.T) {
	p := model.Prompt{
		ID:       1,
		Status:   model.StatusPending,
		Metadata: model.Metadata{WorkingDir: "/repo/x"},
	}
	sessions := []model.Session{idleSession("a", "", "/repo/x")}

	locked := func(path, candidate string) bool {
		return path == "/repo/x" && candidate != "other-owner"
	}

	_, ok := Best([]model.Prompt{p}, sessions, locked)
	if ok {
		t.Fatal("expected no match: session a is locked out by another owner")
	}
}

func TestBest_TargetSessionMustBeIdleAndNamed(t *testing.T) {
	p := model.Prompt{ID: 1, Status: model.StatusPending, TargetSession: "claude_1"}
	sessions := []model.Session{
		idleSession("claude_2", "claude", ""),
	}
	if _, ok := Best([]model.Prompt{p}, sessions, nil); ok {
		t.Fatal("expected no match: target session does not exist among candidates")
	}

	sessions = append(sessions, idleSession("claude_1", "claude", ""))
	pair, ok := Best([]model.Prompt{p}, sessions, nil)
	if !ok || pair.Session.Name != "claude_1" {
		t.Fatalf("expected pinned dispatch to claude_1, got %+v ok=%v", pair, ok)
	}
}

func TestScore_WorkingDirAndBranchBonuses(t *testing.T) {
	p := model.Prompt{
		Metadata: model.Metadata{WorkingDir: "/repo/a", GitBranch: "main"},
	}
	s := model.Session{
		WorkingDir:   "/repo/a",
		GitBranch:    "main",
		LastActivity: time.Now(),
	}
	got, eligible := score(p, s, nil)
	if !eligible {
		t.Fatal("expected eligible")
	}
	want := 10 + 3 + 1 // working dir + warm + branch; no env requirement
	if got != want {
		t.Fatalf("score = %d, want %d", got, want)
	}
}

func TestScore_StaleSessionLosesWarmBonus(t *testing.T) {
	p := model.Prompt{}
	s := model.Session{LastActivity: time.Now().Add(-time.Hour)}
	got, eligible := score(p, s, nil)
	if !eligible {
		t.Fatal("expected eligible")
	}
	if got != 0 {
		t.Fatalf("score = %d, want 0 (no bonuses apply)", got)
	}
}

// sortForDispatch mirrors the queue's (priority DESC, created_at ASC)
// ordering that Best assumes its input already has.
func sortForDispatch(prompts []model.Prompt) []model.Prompt {
	out := make([]model.Prompt, len(prompts))
	copy(out, prompts)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			a, b := out[j-1], out[j]
			swap := a.Priority < b.Priority || (a.Priority == b.Priority && a.CreatedAt.After(b.CreatedAt))
			if !swap {
				break
			}
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
