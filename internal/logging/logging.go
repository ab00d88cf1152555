// Package logging constructs the slog loggers used by all collaborators.
// The scheduler core itself takes no logger: its only diagnostics channel
// is the message bus.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a logger from textual level and format settings, writing to
// stderr (stdout belongs to the console shell).
//
// level: debug, info, warn or error (unrecognized values mean info)
// format: "json" for structured output, anything else for text
func New(level, format string) *slog.Logger {
	return NewWithWriter(level, format, os.Stderr)
}

// NewWithWriter creates a logger writing to the given writer.
func NewWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts a string log level to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
