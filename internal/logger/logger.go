// Package logger builds the structured logger shared by every component.
// Code logs through *slog.Logger; the handler underneath is zerolog.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures New.
type Options struct {
	Level  string
	Format string
	// Out defaults to os.Stderr.
	Out io.Writer
}

// New returns a slog.Logger writing through zerolog.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var zl zerolog.Logger
	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		zl = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Stamp}).With().Timestamp().Logger()
	case FormatJSON:
		zl = zerolog.New(out).With().Timestamp().Logger()
	default:
		return nil, fmt.Errorf("unknown log format %q (want %q or %q)", opts.Format, FormatConsole, FormatJSON)
	}

	return slog.New(zeroslog.NewHandler(zl, &zeroslog.HandlerOptions{Level: level})), nil
}

// ParseLevel converts a config string into a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// WithSession returns a child logger with the session id pre-attached.
func WithSession(log *slog.Logger, sessionID string) *slog.Logger {
	return log.With("sessionID", sessionID)
}

// WithRequest returns a child logger tagged with the request id and route.
func WithRequest(log *slog.Logger, requestID, route string) *slog.Logger {
	return log.With("requestID", requestID, "route", route)
}
