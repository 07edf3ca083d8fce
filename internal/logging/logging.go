// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging builds the process logger: human-readable text on stderr
// and, when a log file is configured, JSON lines to that file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"github.com/pdiddy/customer-engine/pkg/types"
)

// ParseLevel maps "debug", "info", "warn", and "error" to slog levels. An
// empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Setup creates the logger described by cfg and returns it with a cleanup
// function that closes the log file. If the file cannot be opened the
// logger falls back to stderr only.
func Setup(cfg types.LogConfig, stderr io.Writer) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	noop := func() error { return nil }

	if cfg.File == "" {
		return slog.New(stderrHandler), noop, nil
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(stderrHandler)
		logger.Error("failed to open log file, using stderr only", "error", err, "file", cfg.File)
		return logger, noop, nil
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler)), file.Close, nil
}

// WithWriters creates a fan-out logger over arbitrary writers (for testing).
func WithWriters(text, jsonOut io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(text, &slog.HandlerOptions{Level: level}),
		slog.NewJSONHandler(jsonOut, &slog.HandlerOptions{Level: level}),
	))
}
