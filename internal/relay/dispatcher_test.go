package relay

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/parley/relay/internal/protocol"
	"github.com/parley/relay/internal/room"
	"github.com/parley/relay/internal/session"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeTransport, *room.Directory, *session.Registry) {
	t.Helper()
	rooms, err := room.NewDirectory([]string{"general", "tech"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	sessions := session.NewRegistry("general", nil)
	tr := newFakeTransport()
	return NewDispatcher(tr, rooms, sessions, zerolog.Nop()), tr, rooms, sessions
}

func TestDispatcherAudiences(t *testing.T) {
	d, tr, rooms, sessions := newTestDispatcher(t)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := sessions.Register(id, "user-"+id); err != nil {
			t.Fatal(err)
		}
	}
	_ = rooms.Join("general", "a")
	_ = rooms.Join("general", "b")
	_ = rooms.Join("tech", "c")

	tests := []struct {
		name string
		send func()
		want map[string]int
	}{
		{"to room", func() { d.ToRoom("general", protocol.TypePong, protocol.PongMsg{}) }, map[string]int{"a": 1, "b": 1}},
		{"to room except", func() { d.ToRoomExcept("general", "a", protocol.TypePong, protocol.PongMsg{}) }, map[string]int{"b": 1}},
		{"to connection", func() { d.ToConnection("c", protocol.TypePong, protocol.PongMsg{}) }, map[string]int{"c": 1}},
		{"to all", func() { d.ToAll(protocol.TypePong, protocol.PongMsg{}) }, map[string]int{"a": 1, "b": 1, "c": 1}},
		{"to empty room", func() { d.ToRoom("lobby", protocol.TypePong, protocol.PongMsg{}) }, map[string]int{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.send()
			for _, id := range []string{"a", "b", "c"} {
				if got := len(tr.take(id)); got != tc.want[id] {
					t.Errorf("%s received %d frames, want %d", id, got, tc.want[id])
				}
			}
		})
	}
}

func TestDispatcherDropsForGoneConnections(t *testing.T) {
	d, tr, rooms, _ := newTestDispatcher(t)
	_ = rooms.Join("general", "a")
	_ = rooms.Join("general", "b")
	tr.gone["a"] = true

	d.ToRoom("general", protocol.TypePong, protocol.PongMsg{})

	if got := len(tr.take("b")); got != 1 {
		t.Errorf("b received %d frames, want 1", got)
	}
	if got := len(tr.take("a")); got != 0 {
		t.Errorf("gone connection received %d frames", got)
	}
}

func TestDispatcherSkipsUnencodablePayload(t *testing.T) {
	d, tr, _, _ := newTestDispatcher(t)

	d.ToConnection("a", protocol.TypeError, make(chan int))

	if got := len(tr.take("a")); got != 0 {
		t.Errorf("expected no frame for an unencodable payload, got %d", got)
	}
}
