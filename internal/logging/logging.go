// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Keywarden Authors

// Package logging holds the module-wide structured logger.
// Set KEYWARDEN_DEBUG=1 to enable debug logging.
package logging

import (
	"log/slog"
	"os"
)

var Logger = newLogger()

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("KEYWARDEN_DEBUG") != "" {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// SetLogger replaces the module-wide logger. Embedding applications call
// this once at composition time to route vault logs into their own handler.
func SetLogger(l *slog.Logger) {
	if l != nil {
		Logger = l
	}
}

// Debug logs a debug message (only shown when KEYWARDEN_DEBUG is set or the
// host installed a debug-level handler).
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}
