// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger creates the logger for a binary. When stderr is a
// terminal it uses slog.TextHandler for human-readable output; when
// stderr is piped or redirected it uses slog.JSONHandler so records can
// be collected by whatever supervises the process. verbose enables
// Debug records.
func NewCommandLogger(verbose bool) *slog.Logger {
	return slog.New(NewCommandHandler(os.Stderr, verbose))
}

// NewCommandHandler is NewCommandLogger's handler, for callers that
// wrap it.
func NewCommandHandler(output *os.File, verbose bool) slog.Handler {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		options.Level = slog.LevelDebug
	}
	if term.IsTerminal(int(output.Fd())) {
		return slog.NewTextHandler(output, options)
	}
	return slog.NewJSONHandler(output, options)
}

// NewFileHandler writes JSON records to path, for interactive programs
// whose stderr is taken by the display.
func NewFileHandler(path string, verbose bool) (slog.Handler, io.Closer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		options.Level = slog.LevelDebug
	}
	return slog.NewJSONHandler(file, options), file, nil
}
