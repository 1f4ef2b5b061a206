package rconfig

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a structured slog.Logger from the Config's log_level and
// log_format fields. JSON output is expected in production; text is easier
// to read in local development.
func NewLogger(cfg Config, out io.Writer) *slog.Logger {
	if out == nil {
		out = os.Stderr
	}

	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler)
}
