// Package logging builds the process logger: colourised tint output for local
// development, JSON lines in production.
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"agrodata/config"
)

// New creates a logger writing to out. JSON output is used in production or
// when the configured format is "json".
func New(cfg config.LogConfig, production bool, out io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)

	if production || strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	}

	return slog.New(tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
}

// ParseLevel maps a level name onto slog levels; unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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
