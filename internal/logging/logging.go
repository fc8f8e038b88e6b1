// Package logging builds the process-wide slog logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// New creates a text slog.Logger writing to stderr, so cron redirection
// keeps logs apart from anything on stdout. Timestamps are rendered in
// UTC; the digest itself is the only place presented in local time.
func New(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: utcTimestamps,
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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

func utcTimestamps(groups []string, attr slog.Attr) slog.Attr {
	if attr.Key == slog.TimeKey && len(groups) == 0 {
		if t, ok := attr.Value.Any().(time.Time); ok {
			attr.Value = slog.TimeValue(t.UTC())
		}
	}
	return attr
}
