package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley/relay/internal/api"
	"github.com/parley/relay/internal/ban"
	"github.com/parley/relay/internal/chat"
	"github.com/parley/relay/internal/config"
	"github.com/parley/relay/internal/gateway"
	"github.com/parley/relay/internal/logging"
	"github.com/parley/relay/internal/messaging"
	"github.com/parley/relay/internal/moderation"
	"github.com/parley/relay/internal/ratelimit"
	"github.com/parley/relay/internal/relay"
	"github.com/parley/relay/internal/report"
	"github.com/parley/relay/internal/session"
	"github.com/parley/relay/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(cfg.Env)

	logger.Info().
		Str("listen_addr", cfg.ListenAddr).
		Int("worker_pool", cfg.WorkerPoolSize).
		Int("max_connections", cfg.MaxConnections).
		Strs("rooms", cfg.Rooms).
		Str("default_room", cfg.DefaultRoom).
		Str("server_name", cfg.ServerName).
		Msg("relay starting")

	deps := gateway.Deps{Filter: moderation.NewFilterWithTerms(append(moderation.DefaultTerms(), cfg.ModerationTerms...))}
	checks := make(map[string]api.Pinger)

	// --- Redis (optional) ---
	var sessionStore *session.Store
	var connLimiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		sessionStore, err = session.NewStore(cfg.RedisAddr, cfg.ServerName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		connLimiter = ratelimit.NewLimiter(sessionStore.Client(), logger)
		deps.Sessions = sessionStore
		deps.Strikes = ban.NewStore(sessionStore.Client())
		deps.Limiter = connLimiter.For(ratelimit.MessageRule(cfg.RateLimitBurst, cfg.RateLimitWindow))
		checks["redis"] = sessionStore
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("redis enabled")
	} else {
		deps.Limiter = ratelimit.NewBuckets(cfg.RateLimitBurst, cfg.RateLimitWindow, nil)
		logger.Warn().Msg("REDIS_ADDR not set: in-memory rate limits, no mutes")
	}

	// --- NATS (optional) ---
	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = cfg.ServerName
		natsClient, err = messaging.NewNATSClient(natsConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		deps.Tap = natsClient
		checks["nats"] = api.PingFunc(func(context.Context) error {
			if !natsClient.Connected() {
				return errors.New("nats disconnected")
			}
			return nil
		})
	}

	// --- Postgres (optional) ---
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = report.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open database")
		}
		if err := report.Migrate(db); err != nil {
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
		reports := report.NewStore(db)
		deps.Reports = reports
		checks["postgres"] = reports
	}

	// --- WebSocket server, relay and gateway ---
	dispatcher := ws.NewMessageDispatcher(logger)
	server := ws.NewServer(ws.ServerConfig{
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		SendQueueSize:  cfg.SendQueueSize,
		MaxFrameBytes:  cfg.MaxFrameBytes,
		Heartbeat:      ws.DefaultHeartbeatConfig(),
	}, logger, dispatcher.Dispatch)

	r, err := relay.New(relay.Config{
		Rooms:       cfg.Rooms,
		DefaultRoom: cfg.DefaultRoom,
		PageSize:    cfg.HistoryLimit,
		LogCapacity: chat.MaxLogMessages,
	}, server, relay.WithLogger(logger.With().Str("component", "relay").Logger()))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create relay")
	}
	deps.Relay = r

	gw := gateway.New(deps, gateway.Options{MaxAttachmentBytes: cfg.MaxAttachmentBytes}, logger)
	gw.Register(dispatcher)
	server.SetOnConnect(func(c *ws.Connection) { gw.Connected(c.ID, c.RemoteAddr) })
	server.SetOnDisconnect(gw.Disconnected)
	if connLimiter != nil {
		server.SetAdmit(func(req *http.Request, remote string) bool {
			ok, _ := connLimiter.Check(req.Context(), remote, ratelimit.RuleConnect)
			return ok
		})
	}

	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start ws server")
	}

	handler := api.NewHandler(cfg.ServerName, r, server.Connections().Count, server.Uptime, checks)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(logger, handler, server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("ws shutdown error")
	}
	if natsClient != nil {
		natsClient.Close()
	}
	if sessionStore != nil {
		_ = sessionStore.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	logger.Info().Msg("relay stopped")
}
