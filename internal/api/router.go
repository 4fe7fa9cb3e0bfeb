// Package api serves the relay's HTTP surface: the WebSocket endpoint and the
// read-only status endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/parley/relay/internal/api/middleware"
	"github.com/parley/relay/internal/metrics"
)

// NewRouter creates and configures the HTTP router. The WebSocket handler is
// mounted at /ws outside the request logger; upgrades are logged by the ws
// server.
func NewRouter(logger zerolog.Logger, h *Handler, wsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	if wsHandler != nil {
		r.Handle("/ws", wsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Metrics)
		r.Use(middleware.Logger(logger))
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))

		r.Handle("/metrics", metrics.Handler())
		r.Get("/health", h.Health)
		r.Get("/api/rooms", h.Rooms)
		r.Get("/api/users", h.Users)
		r.Get("/api/messages/{room}", h.RoomMessages)
	})

	return r
}
