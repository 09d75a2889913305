// Package logging builds the zerolog loggers used by both services.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the log output encoding.
type Format string

const (
	FormatJSON   Format = "json"   // machine-readable, for log shipping
	FormatPretty Format = "pretty" // human-readable, for local dev
)

// Config holds logger configuration.
type Config struct {
	Level   string // debug, info, warn, error
	Format  Format
	Service string // emitted as the "service" field on every line
}

// New creates a structured logger with timestamps, caller info and a
// service field for filtering.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Caller().
		Str("service", cfg.Service).
		Logger()
}
