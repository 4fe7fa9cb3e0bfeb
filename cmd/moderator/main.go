// Command moderator consumes the relay's NATS tap. It re-checks every room
// message against the content filter, files flagged messages as reports when
// a database is configured, and logs violations reported by relay nodes.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley/relay/internal/chat"
	"github.com/parley/relay/internal/config"
	"github.com/parley/relay/internal/logging"
	"github.com/parley/relay/internal/messaging"
	"github.com/parley/relay/internal/moderation"
	"github.com/parley/relay/internal/report"
)

const reporterName = "moderator"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(cfg.Env).With().Str("service", reporterName).Logger()

	if cfg.NATSURL == "" {
		logger.Fatal().Msg("NATS_URL is required")
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = cfg.ServerName + "-moderator"
	natsClient, err := messaging.NewNATSClient(natsConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to NATS")
	}

	var db *sql.DB
	var reports *report.Store
	if cfg.DatabaseURL != "" {
		db, err = report.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open database")
		}
		if err := report.Migrate(db); err != nil {
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
		reports = report.NewStore(db)
	}

	filter := moderation.NewFilterWithTerms(append(moderation.DefaultTerms(), cfg.ModerationTerms...))

	err = natsClient.SubscribeRoomMessages(func(ev messaging.MessageEvent) {
		msg := ev.Message
		result := filter.Check(msg.Body)
		if !result.Blocked {
			return
		}
		logger.Warn().
			Str("server", ev.Server).
			Str("room", msg.Room).
			Str("message_id", msg.ID).
			Str("sender", msg.Sender).
			Str("reason", result.Reason).
			Str("term", result.Term).
			Msg("flagged")

		if reports == nil {
			return
		}
		if err := fileReport(reports, msg, result); err != nil {
			logger.Error().Err(err).Str("message_id", msg.ID).Msg("failed to store report")
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to room messages")
	}

	err = natsClient.SubscribeViolations(func(v moderation.Violation) {
		logger.Info().
			Str("session_id", v.SessionID).
			Str("username", v.Username).
			Str("room", v.Room).
			Str("reason", v.Reason).
			Str("term", v.Term).
			Int("strikes", v.Strikes).
			Msg("violation")
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to violations")
	}

	logger.Info().
		Str("nats_url", natsConfig.URL).
		Bool("reports", reports != nil).
		Msg("moderation service running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	natsClient.Close()
	if db != nil {
		_ = db.Close()
	}
}

func fileReport(store *report.Store, msg chat.Message, result moderation.FilterResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return store.Create(ctx, &report.Report{
		ReporterID:   reporterName,
		ReporterName: reporterName,
		Room:         msg.Room,
		MessageID:    msg.ID,
		SenderID:     msg.SenderID,
		SenderName:   msg.Sender,
		Body:         msg.Body,
		Reason:       moderation.ReportReason(result),
	})
}
