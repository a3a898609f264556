// Package cfslog provides structured logging via slog, adapted from the
// teacher's pkg/logger to additionally expose a shared slog.LevelVar so
// internal/optionscache can retune the effective level at runtime without
// rebuilding the handler (spec.md §4.3).
package cfslog

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hpcfleet/cfs/internal/cfsconfig"
)

// Level is the process-wide mutable log level, shared by every handler built
// with NewLogger. OptionsCache calls Level.Set when logging_level changes.
var Level = new(slog.LevelVar)

// NewLogger builds a slog.Logger per cfg, honoring Level for dynamic updates.
func NewLogger(cfg cfsconfig.LogConfig) *slog.Logger {
	Level.Set(ParseLevel(cfg.Level))
	writer := setupWriter(cfg)

	opts := &slog.HandlerOptions{Level: Level, AddSource: Level.Level() == slog.LevelDebug}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler)
}

// ParseLevel parses a case-insensitive level name into an slog.Level,
// defaulting to Info for blank or unrecognised input.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupWriter(cfg cfsconfig.LogConfig) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "file":
		if cfg.Filename == "" {
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	default:
		return os.Stdout
	}
}
