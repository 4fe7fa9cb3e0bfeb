package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parley/relay/internal/chat"
	"github.com/parley/relay/internal/relay"
	"github.com/parley/relay/internal/room"
	"github.com/parley/relay/internal/session"
)

// StatsSource is the relay view the handlers read.
type StatsSource interface {
	Stats() relay.Stats
	Rooms() []string
	RoomLog(room string) ([]chat.Message, bool)
}

// Pinger checks a backend dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	relay       StatsSource
	connections func() int
	uptime      func() time.Duration
	server      string
	checks      map[string]Pinger
}

// NewHandler creates a Handler. checks holds the configured backends only;
// a failing check degrades health.
func NewHandler(server string, src StatsSource, connections func() int, uptime func() time.Duration, checks map[string]Pinger) *Handler {
	if connections == nil {
		connections = func() int { return 0 }
	}
	if uptime == nil {
		uptime = func() time.Duration { return 0 }
	}
	return &Handler{relay: src, connections: connections, uptime: uptime, server: server, checks: checks}
}

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string           `json:"status"` // "healthy" or "degraded"
	Server      string           `json:"server"`
	Connections int              `json:"connections"`
	Users       int              `json:"users"`
	Rooms       []room.Stats     `json:"rooms"`
	Uptime      string           `json:"uptime"`
	Checks      map[string]Check `json:"checks"`
	Timestamp   string           `json:"timestamp"`
}

// Health reports liveness, occupancy and backend checks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check, len(h.checks))
	healthy := true
	for name, p := range h.checks {
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			checks[name] = Check{Status: "fail", Message: "connection failed"}
			healthy = false
			continue
		}
		checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	stats := h.relay.Stats()
	resp := HealthResponse{
		Status:      "healthy",
		Server:      h.server,
		Connections: h.connections(),
		Users:       len(stats.Users),
		Rooms:       stats.Rooms,
		Uptime:      h.uptime().Round(time.Second).String(),
		Checks:      checks,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Rooms lists the configured rooms with their occupancy.
func (h *Handler) Rooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": h.relay.Stats().Rooms})
}

// Users lists joined sessions ordered by join time.
func (h *Handler) Users(w http.ResponseWriter, _ *http.Request) {
	users := h.relay.Stats().Users
	if users == nil {
		users = []session.Session{}
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].JoinedAt < users[j].JoinedAt })
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

// RoomMessages returns a snapshot of one room's log.
func (h *Handler) RoomMessages(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "room")
	msgs, ok := h.relay.RoomLog(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown room"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": name, "messages": msgs, "count": len(msgs)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
