// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"bytes"
	"context"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/statebridge/bridge"
	"github.com/bureau-foundation/statebridge/envelope"
	"github.com/bureau-foundation/statebridge/lib/clock"
	"github.com/bureau-foundation/statebridge/lib/codec"
)

// readyRuntime returns a runtime whose host has announced itself.
func readyRuntime(t *testing.T) (*Runtime, *rawHost) {
	t.Helper()
	runtime, host := newRawRuntime(t, RuntimeOptions{Clock: clock.Fake(epoch)})
	host.send(&envelope.Ready{Methods: []string{}, State: bridge.State{}})
	waitReady(t, runtime)
	return runtime, host
}

func (h *rawHost) receiveConsole() *envelope.Console {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := h.end.Receive(ctx)
	if err != nil {
		h.t.Fatalf("host Receive: %v", err)
	}
	message, err := envelope.Decode(codec.JSON, data)
	if err != nil {
		h.t.Fatalf("Decode: %v", err)
	}
	console, ok := message.(*envelope.Console)
	if !ok {
		h.t.Fatalf("host received %T, want console", message)
	}
	return console
}

func (h *rawHost) expectNothing() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if data, err := h.end.Receive(ctx); err == nil {
		h.t.Fatalf("host received %s, want nothing", data)
	}
}

func TestConsoleHandlerForwardsInDebug(t *testing.T) {
	runtime, host := readyRuntime(t)
	var local bytes.Buffer
	logger := slog.New(NewConsoleHandler(slog.NewTextHandler(&local, nil), runtime, true))

	logger.Warn("low battery", "percent", 12)

	console := host.receiveConsole()
	if console.Level != "warn" {
		t.Errorf("level = %q, want warn", console.Level)
	}
	want := []any{"low battery", map[string]any{"percent": float64(12)}}
	if !reflect.DeepEqual(console.Args, want) {
		t.Errorf("args = %#v, want %#v", console.Args, want)
	}
	if !strings.Contains(local.String(), "low battery") {
		t.Errorf("local output %q missing the record", local.String())
	}
}

func TestConsoleHandlerGroupsAndAttrs(t *testing.T) {
	runtime, host := readyRuntime(t)
	var local bytes.Buffer
	logger := slog.New(NewConsoleHandler(slog.NewTextHandler(&local, nil), runtime, true)).
		With("session", "s1").
		WithGroup("request").
		With("method", "sum")

	logger.Error("failed", "attempt", 2)

	console := host.receiveConsole()
	want := []any{"failed", map[string]any{
		"session": "s1",
		"request": map[string]any{"method": "sum", "attempt": float64(2)},
	}}
	if console.Level != "error" || !reflect.DeepEqual(console.Args, want) {
		t.Errorf("console = %s %#v, want error %#v", console.Level, console.Args, want)
	}
}

func TestConsoleHandlerQuietWithoutDebug(t *testing.T) {
	runtime, host := readyRuntime(t)
	var local bytes.Buffer
	logger := slog.New(NewConsoleHandler(slog.NewTextHandler(&local, nil), runtime, false))

	logger.Info("hello")

	host.expectNothing()
	if !strings.Contains(local.String(), "hello") {
		t.Errorf("local output %q missing the record", local.String())
	}
}

func TestConsoleHandlerWithoutHost(t *testing.T) {
	runtime := NewRuntime(RuntimeOptions{Clock: clock.Fake(epoch)})
	defer runtime.Close()
	var local bytes.Buffer
	logger := slog.New(NewConsoleHandler(slog.NewTextHandler(&local, nil), runtime, true))

	logger.Info("standalone")

	if !strings.Contains(local.String(), "standalone") {
		t.Errorf("local output %q missing the record", local.String())
	}
}

func TestConsoleLevelName(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, "log"},
		{slog.LevelInfo, "info"},
		{slog.LevelWarn, "warn"},
		{slog.LevelError, "error"},
		{slog.LevelError + 4, "error"},
	}
	for _, test := range tests {
		if got := consoleLevelName(test.level); got != test.want {
			t.Errorf("consoleLevelName(%v) = %q, want %q", test.level, got, test.want)
		}
	}
}
