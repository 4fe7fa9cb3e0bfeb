package session

import (
	"errors"
	"testing"
	"time"
)

func newTestRegistry() *Registry {
	var tick int64
	return NewRegistry("general", func() time.Time {
		tick++
		return time.UnixMilli(1000 + tick)
	})
}

func TestRegisterUsesDefaultRoom(t *testing.T) {
	r := newTestRegistry()

	s, err := r.Register("c1", "alice")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if s.CurrentRoom != "general" {
		t.Errorf("expected default room general, got %q", s.CurrentRoom)
	}
	if s.JoinedAt == 0 {
		t.Error("expected JoinedAt to be set")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Register("c1", "alice"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	_, err := r.Register("c1", "mallory")
	if !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("expected ErrDuplicateConnection, got %v", err)
	}
	if got := r.Username("c1"); got != "alice" {
		t.Errorf("duplicate register overwrote session: username=%q", got)
	}
}

func TestSetRoomAndLookup(t *testing.T) {
	r := newTestRegistry()
	r.Register("c1", "alice")

	r.SetRoom("c1", "tech")
	s, ok := r.Lookup("c1")
	if !ok || s.CurrentRoom != "tech" {
		t.Fatalf("expected c1 in tech, got %+v ok=%v", s, ok)
	}

	// Unknown connection is a silent no-op.
	r.SetRoom("ghost", "tech")
	if _, ok := r.Lookup("ghost"); ok {
		t.Error("SetRoom created a session for an unknown connection")
	}
}

func TestRemove(t *testing.T) {
	r := newTestRegistry()
	r.Register("c1", "alice")

	s, ok := r.Remove("c1")
	if !ok || s.Username != "alice" {
		t.Fatalf("Remove() = %+v, %v", s, ok)
	}
	if _, ok := r.Remove("c1"); ok {
		t.Error("second Remove() reported success")
	}
	if r.Count() != 0 {
		t.Errorf("expected empty registry, got %d", r.Count())
	}
}

func TestAllOrderedByJoin(t *testing.T) {
	r := newTestRegistry()
	r.Register("c2", "bob")
	r.Register("c1", "alice")
	r.Register("c3", "carol")

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(all))
	}
	want := []string{"bob", "alice", "carol"}
	for i, s := range all {
		if s.Username != want[i] {
			t.Errorf("index %d: expected %q, got %q", i, want[i], s.Username)
		}
	}

	// Snapshot must not alias registry state.
	all[0].Username = "changed"
	if r.Username("c2") != "bob" {
		t.Error("All() returned aliased sessions")
	}
}
