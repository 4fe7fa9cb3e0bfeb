// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to stdout: human-readable in development,
// JSON lines otherwise.
func New(env string) zerolog.Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(env string, w io.Writer) zerolog.Logger {
	if env == "development" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		With().
		Timestamp().
		Str("service", "relay").
		Logger()
}
