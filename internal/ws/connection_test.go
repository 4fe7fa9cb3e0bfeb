package ws

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// pipeConnection returns a Connection over one end of a net.Pipe and the
// client end.
func pipeConnection(t *testing.T, id string, queue int) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	c := NewConnection(id, server, "127.0.0.1", queue, time.Second)
	t.Cleanup(func() {
		c.Close()
		client.Close()
	})
	return c, client
}

func readText(t *testing.T, client net.Conn) string {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, op, err := wsutil.ReadServerData(client)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if op != ws.OpText {
		t.Fatalf("expected text frame, got %v", op)
	}
	return string(data)
}

func TestConnection_WritesInOrder(t *testing.T) {
	c, client := pipeConnection(t, "c1", 8)
	go c.writePump(func(*Connection, error) {})

	for _, m := range []string{"one", "two", "three"} {
		if err := c.Enqueue([]byte(m)); err != nil {
			t.Fatalf("Enqueue(%q): %v", m, err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		if got := readText(t, client); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestConnection_QueueFull(t *testing.T) {
	c, _ := pipeConnection(t, "c1", 1)

	if err := c.Enqueue([]byte("a")); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := c.Enqueue([]byte("b")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestConnection_EnqueueAfterClose(t *testing.T) {
	c, _ := pipeConnection(t, "c1", 4)
	c.Close()
	if err := c.Enqueue([]byte("a")); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	// Close is idempotent.
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestConnection_WriteErrorReported(t *testing.T) {
	c, client := pipeConnection(t, "c1", 4)
	client.Close()

	failed := make(chan error, 1)
	go c.writePump(func(_ *Connection, err error) { failed <- err })
	c.Enqueue([]byte("x"))

	select {
	case err := <-failed:
		if err == nil {
			t.Error("expected a write error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not report failure")
	}
}

func TestConnection_Ping(t *testing.T) {
	c, client := pipeConnection(t, "c1", 4)
	go c.writePump(func(*Connection, error) {})

	c.Ping()
	c.Ping() // coalesced

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	h, err := ws.ReadHeader(client)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.OpCode != ws.OpPing {
		t.Errorf("expected ping frame, got %v", h.OpCode)
	}
}

func TestConnectionManager(t *testing.T) {
	cm := NewConnectionManager()
	c1, _ := pipeConnection(t, "c1", 1)
	c2, _ := pipeConnection(t, "c2", 1)
	cm.Add(c1)
	cm.Add(c2)

	if cm.Count() != 2 {
		t.Fatalf("expected 2 connections, got %d", cm.Count())
	}
	if cm.Get("c1") != c1 || cm.GetByConn(c2.Conn) != c2 {
		t.Fatal("lookup mismatch")
	}
	if !cm.Remove("c1") {
		t.Fatal("expected Remove to report true")
	}
	if cm.Remove("c1") {
		t.Fatal("expected second Remove to report false")
	}
	if cm.Get("c1") != nil || cm.GetByConn(c1.Conn) != nil {
		t.Fatal("removed connection still reachable")
	}
	if len(cm.All()) != 1 {
		t.Errorf("expected 1 connection left, got %d", len(cm.All()))
	}
}
