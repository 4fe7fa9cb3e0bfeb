// Package report provides PostgreSQL-backed storage for message reports.
// Each report captures who reported which room message, the reason, and the
// few messages that preceded it (for moderator review).
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/parley/relay/internal/chat"
)

// ErrInvalidReason is returned for reasons outside the allowed set.
var ErrInvalidReason = errors.New("report: invalid reason")

// validReasons is the set of allowed reason values, matching the CHECK
// constraint on the message_reports table.
var validReasons = map[string]bool{
	"harassment": true,
	"spam":       true,
	"explicit":   true,
	"other":      true,
}

// ValidReason reports whether reason is accepted by the store.
func ValidReason(reason string) bool {
	return validReasons[reason]
}

// Store manages message reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Report represents a single message report to be persisted.
type Report struct {
	ReporterID   string
	ReporterName string
	Room         string
	MessageID    string
	SenderID     string
	SenderName   string
	Body         string
	Reason       string
	Context      []MessageEntry // messages preceding the reported one, oldest first
}

// MessageEntry is one message in the room snapshot attached to a report.
type MessageEntry struct {
	ID     string `json:"id"`
	Sender string `json:"sender"`
	Body   string `json:"body"`
	Ts     int64  `json:"ts"`
}

// Entries converts room messages to snapshot entries. Attachments are not
// kept.
func Entries(msgs []chat.Message) []MessageEntry {
	out := make([]MessageEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageEntry{ID: m.ID, Sender: m.Sender, Body: m.Body, Ts: m.Ts})
	}
	return out
}

// NewStore creates a new report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a report into PostgreSQL. The context snapshot is
// marshalled to JSONB. The reason is validated against the allowed set
// before insertion.
func (s *Store) Create(ctx context.Context, report *Report) error {
	if !validReasons[report.Reason] {
		return fmt.Errorf("%w %q", ErrInvalidReason, report.Reason)
	}

	var contextJSON []byte
	if len(report.Context) > 0 {
		var err error
		contextJSON, err = json.Marshal(report.Context)
		if err != nil {
			return fmt.Errorf("report: marshal context: %w", err)
		}
	}

	const query = `
		INSERT INTO message_reports
			(reporter_id, reporter_name, room, message_id, sender_id, sender_name, body, reason, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		report.ReporterID,
		report.ReporterName,
		report.Room,
		report.MessageID,
		report.SenderID,
		report.SenderName,
		report.Body,
		report.Reason,
		contextJSON,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of reports filed against a sender within
// the given time window.
func (s *Store) CountRecent(ctx context.Context, senderName string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM message_reports
		WHERE sender_name = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, senderName, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
