// Package logging constructs the process-wide slog logger. JSON output in
// production, human-readable text everywhere else.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds a logger for the given environment. The level is taken from
// LOG_LEVEL (debug, info, warn, error), defaulting to info.
func New(env string) *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
