// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"context"
	"log/slog"
	"time"
)

// consoleSendTimeout bounds forwarding of one record.
const consoleSendTimeout = time.Second

// ConsoleHandler is a slog.Handler that passes every record to an inner
// handler and, when debug is on and a host is attached, also forwards
// it to the host as a console record. Forwarding failures are ignored.
type ConsoleHandler struct {
	inner   slog.Handler
	runtime *Runtime
	debug   bool
	attrs   []slog.Attr
	groups  []string
}

// NewConsoleHandler wraps inner. With debug false it only delegates.
func NewConsoleHandler(inner slog.Handler, runtime *Runtime, debug bool) *ConsoleHandler {
	return &ConsoleHandler{inner: inner, runtime: runtime, debug: debug}
}

func (h *ConsoleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ConsoleHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.inner.Handle(ctx, record)
	if h.debug && h.runtime.HasHost() {
		h.forward(ctx, record)
	}
	return err
}

func (h *ConsoleHandler) forward(ctx context.Context, record slog.Record) {
	fields := map[string]any{}
	for _, attr := range h.attrs {
		addAttr(fields, attr)
	}
	target := fields
	if record.NumAttrs() == 0 {
		target = map[string]any{}
	}
	for _, group := range h.groups {
		nested, ok := target[group].(map[string]any)
		if !ok {
			nested = map[string]any{}
			target[group] = nested
		}
		target = nested
	}
	record.Attrs(func(attr slog.Attr) bool {
		addAttr(target, attr)
		return true
	})

	args := []any{record.Message}
	if len(fields) > 0 {
		args = append(args, fields)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), consoleSendTimeout)
	defer cancel()
	_ = h.runtime.SendConsole(ctx, consoleLevelName(record.Level), args)
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithAttrs(attrs)
	if len(h.groups) == 0 {
		clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	} else {
		// Attributes added inside a group belong to that group.
		group := slog.Attr{Key: h.groups[len(h.groups)-1], Value: slog.GroupValue(attrs...)}
		clone.attrs = append(append([]slog.Attr(nil), h.attrs...), nestAttr(h.groups[:len(h.groups)-1], group))
	}
	return &clone
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.inner = h.inner.WithGroup(name)
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func nestAttr(groups []string, attr slog.Attr) slog.Attr {
	for i := len(groups) - 1; i >= 0; i-- {
		attr = slog.Attr{Key: groups[i], Value: slog.GroupValue(attr)}
	}
	return attr
}

// addAttr stores attr in fields as a JSON-friendly value.
func addAttr(fields map[string]any, attr slog.Attr) {
	value := attr.Value.Resolve()
	if attr.Key == "" && value.Kind() != slog.KindGroup {
		return
	}
	switch value.Kind() {
	case slog.KindGroup:
		target := fields
		if attr.Key != "" {
			existing, ok := fields[attr.Key].(map[string]any)
			if !ok {
				existing = map[string]any{}
				fields[attr.Key] = existing
			}
			target = existing
		}
		for _, member := range value.Group() {
			addAttr(target, member)
		}
	case slog.KindString:
		fields[attr.Key] = value.String()
	case slog.KindInt64:
		fields[attr.Key] = value.Int64()
	case slog.KindUint64:
		fields[attr.Key] = value.Uint64()
	case slog.KindFloat64:
		fields[attr.Key] = value.Float64()
	case slog.KindBool:
		fields[attr.Key] = value.Bool()
	default:
		fields[attr.Key] = value.String()
	}
}

func consoleLevelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "log"
	}
}
