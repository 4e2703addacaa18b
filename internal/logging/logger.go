// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns the tracker's slog logger tagged with the binary name.
//   - env=prod: JSON handler without source locations
//   - anything else: text handler with source locations
//
// LOG_LEVEL controls the level (debug/info/warn/error), default info.
func NewLogger(env, service string) *slog.Logger {
	return newLogger(os.Stdout, env, service, parseLevel(os.Getenv("LOG_LEVEL")))
}

func newLogger(w io.Writer, env, service string, level slog.Level) *slog.Logger {
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(env), "prod") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     level,
			AddSource: false,
		})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     level,
			AddSource: true,
		})
	}

	logger := slog.New(handler)
	if service = strings.TrimSpace(service); service != "" {
		logger = logger.With("service", service)
	}
	return logger
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
