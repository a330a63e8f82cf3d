package registry

import (
	"context"
	"testing"

	"github.com/relaywerks/assigner/internal/model"
	"github.com/relaywerks/assigner/internal/store"
)

func TestLoad_PopulatesFromStore(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	if err := s.UpsertSession(ctx, model.Session{Name: "a", Status: model.SessionIdle}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	r, err := Load(ctx, s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := r.Get("a"); !ok {
		t.Fatal("expected session a loaded into the registry")
	}
}

func TestPutGetRemove(t *testing.T) {
	r := New()
	r.Put(model.Session{Name: "a", Status: model.SessionIdle})
	if _, ok := r.Get("a"); !ok {
		t.Fatal("expected session a present after Put")
	}
	r.Remove("a")
	if _, ok := r.Get("a"); ok {
		t.Fatal("expected session a gone after Remove")
	}
}

func TestIdle_RequiresIdleStatusAndNoCurrentTask(t *testing.T) {
	r := New()
	r.Put(model.Session{Name: "idle-free", Status: model.SessionIdle})
	r.Put(model.Session{Name: "idle-busy", Status: model.SessionIdle, CurrentTaskID: 7})
	r.Put(model.Session{Name: "busy", Status: model.SessionBusy})

	idle := r.Idle()
	if len(idle) != 1 || idle[0].Name != "idle-free" {
		t.Fatalf("expected only idle-free, got %+v", idle)
	}
}

func TestByStatus(t *testing.T) {
	r := New()
	r.Put(model.Session{Name: "a", Status: model.SessionOffline})
	r.Put(model.Session{Name: "b", Status: model.SessionIdle})

	offline := r.ByStatus(model.SessionOffline)
	if len(offline) != 1 || offline[0].Name != "a" {
		t.Fatalf("expected only session a offline, got %+v", offline)
	}
}

func TestAll_ReturnsSnapshot(t *testing.T) {
	r := New()
	r.Put(model.Session{Name: "a"})
	r.Put(model.Session{Name: "b"})
	all := r.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(all))
	}
}
