// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// ConsoleSink receives console records forwarded by the guest.
type ConsoleSink func(level string, args []any)

// LogConsole returns a sink that re-emits guest records through logger
// with a source=guest attribute. The message is "[guest <level>]"
// followed by the arguments: strings verbatim, anything else as JSON.
func LogConsole(logger *slog.Logger) ConsoleSink {
	if logger == nil {
		logger = slog.Default()
	}
	return func(level string, args []any) {
		if level == "" {
			level = "log"
		}
		logger.Log(context.Background(), consoleLevel(level),
			"[guest "+level+"] "+formatConsoleArgs(args),
			"source", "guest",
		)
	}
}

func consoleLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func formatConsoleArgs(args []any) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if text, ok := arg.(string); ok {
			parts = append(parts, text)
			continue
		}
		encoded, err := json.Marshal(arg)
		if err != nil {
			parts = append(parts, "<unserializable>")
			continue
		}
		parts = append(parts, string(encoded))
	}
	return strings.Join(parts, " ")
}
