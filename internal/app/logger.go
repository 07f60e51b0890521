package app

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger. JSON output is meant for log
// aggregation; the text form is for local development.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     parseLogLevel(cfg),
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLogLevel(cfg *Config) slog.Level {
	if cfg == nil {
		return slog.LevelInfo
	}
	switch strings.ToLower(cfg.LogLevel) {
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
