package ws

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

func TestRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "10.0.0.1:5000", "10.0.0.1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "10.0.0.1:5000", "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": "5.6.7.8"}, "10.0.0.1:5000", "5.6.7.8"},
		{"no port", nil, "pipe", "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := RealIP(r); got != tt.want {
				t.Errorf("RealIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServer_SendUnknown(t *testing.T) {
	s := NewServer(DefaultServerConfig(), zerolog.Nop(), nil)
	if err := s.Send("missing", []byte("x")); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}

func TestServer_HeartbeatEvictsStale(t *testing.T) {
	s := NewServer(DefaultServerConfig(), zerolog.Nop(), nil)
	var gone []string
	s.SetOnDisconnect(func(id string) { gone = append(gone, id) })

	fresh, _ := pipeConnection(t, "fresh", 4)
	stale, _ := pipeConnection(t, "stale", 4)
	s.conns.Add(fresh)
	s.conns.Add(stale)

	cfg := HeartbeatConfig{Interval: time.Second, Timeout: time.Second}
	s.checkConnections(cfg, time.Now().Add(time.Second))
	if len(gone) != 0 {
		t.Fatalf("expected no evictions, got %v", gone)
	}

	stale.lastSeen.Store(time.Now().Add(-time.Minute).UnixNano())
	s.checkConnections(cfg, time.Now())
	if len(gone) != 1 || gone[0] != "stale" {
		t.Fatalf("expected stale evicted, got %v", gone)
	}
	if s.conns.Get("fresh") == nil {
		t.Error("fresh connection should remain")
	}
}

func TestServer_EndToEnd(t *testing.T) {
	var srv *Server
	srv = NewServer(DefaultServerConfig(), zerolog.Nop(), func(c *Connection, data []byte) {
		_ = srv.Send(c.ID, []byte("echo:"+string(data)))
	})
	srv.SetOnConnect(func(c *Connection) { _ = c.Enqueue([]byte("hello " + c.ID)) })
	disconnected := make(chan string, 1)
	srv.SetOnDisconnect(func(id string) { disconnected <- id })

	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	hs := httptest.NewServer(srv)
	defer hs.Close()
	defer srv.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, br, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(hs.URL, "http"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	// Frames sent right after the handshake may already sit in br.
	rw := struct {
		io.Reader
		io.Writer
	}{conn, conn}
	if br != nil {
		rw.Reader = br
	}

	hello, err := wsutil.ReadServerText(rw)
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if !strings.HasPrefix(string(hello), "hello ") {
		t.Fatalf("unexpected greeting %q", hello)
	}
	if srv.Connections().Count() != 1 {
		t.Fatalf("expected 1 connection, got %d", srv.Connections().Count())
	}

	if err := wsutil.WriteClientText(rw, []byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := wsutil.ReadServerText(rw)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if string(reply) != "echo:hi" {
		t.Errorf("got %q, want echo:hi", reply)
	}

	conn.Close()
	select {
	case id := <-disconnected:
		if "hello "+id != string(hello) {
			t.Errorf("disconnect for unexpected id %q", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect not observed")
	}
}
