package messaging

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley/relay/internal/chat"
	"github.com/parley/relay/internal/moderation"
)

func TestRoomSubject(t *testing.T) {
	if got := RoomSubject("general"); got != "chat.room.general" {
		t.Errorf("RoomSubject = %q", got)
	}
}

func TestDecodeMessageEvent(t *testing.T) {
	ev, err := DecodeMessageEvent([]byte(`{"server":"relay-1","message":{"id":"1-c1-1","sender":"alice","room":"general","body":"hi","ts":1,"delivered":true}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Server != "relay-1" || ev.Message.Room != "general" || ev.Message.Body != "hi" {
		t.Errorf("unexpected event %+v", ev)
	}

	if _, err := DecodeMessageEvent([]byte("not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
}

// newTestClient connects to a local NATS server or skips.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.Name = "relay-test"
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg, zerolog.Nop())
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestRoomMessageRoundTrip(t *testing.T) {
	c := newTestClient(t)

	got := make(chan MessageEvent, 1)
	if err := c.SubscribeRoomMessages(func(ev MessageEvent) { got <- ev }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.conn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	msg := chat.Message{ID: "1-c1-1", Sender: "alice", Room: "tech", Body: "hello", Ts: 1}
	if err := c.PublishRoomMessage(msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-got:
		if ev.Server != "relay-test" || ev.Message.ID != msg.ID {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room message")
	}
}

func TestViolationRoundTrip(t *testing.T) {
	c := newTestClient(t)

	got := make(chan moderation.Violation, 1)
	if err := c.SubscribeViolations(func(v moderation.Violation) { got <- v }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	c.conn.Flush()

	if err := c.PublishViolation(moderation.Violation{SessionID: "c1", Reason: "blocked_term", Strikes: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case v := <-got:
		if v.SessionID != "c1" || v.Strikes != 1 {
			t.Errorf("unexpected violation %+v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for violation")
	}
}
