// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"reflect"
	"sort"
	"strings"
)

// ConsoleMethod is the reserved logging sink. The guest sends console
// records to it; the host never announces it as a method.
const ConsoleMethod = "__console"

// State maps top-level keys to JSON-compatible values: nil, bool,
// numbers, string, []any and map[string]any. The host's store may also
// hold Method values in the same map; see Partition.
type State map[string]any

// Method is a host-owned operation invoked by the guest. Arguments and
// the result are JSON-compatible. Returning an error (or panicking)
// produces a failed call on the guest side; it never affects the host.
type Method func(ctx context.Context, args []any) (any, error)

// Clone returns a shallow copy. Nested maps and slices are shared, which
// is safe because the store replaces top-level values wholesale.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	clone := make(State, len(s))
	for key, value := range s {
		clone[key] = value
	}
	return clone
}

// Merge returns a new State with partial's top-level keys overriding
// s's. Keys absent from partial keep their value; nested values are
// replaced, never merged.
func (s State) Merge(partial State) State {
	merged := make(State, len(s)+len(partial))
	for key, value := range s {
		merged[key] = value
	}
	for key, value := range partial {
		merged[key] = value
	}
	return merged
}

// Partition splits store entries into state-only fields and methods.
// The console sink is dropped from both results, as is any function
// value that is not a Method: it cannot be called and must never be
// broadcast as state.
func Partition(entries State) (State, map[string]Method) {
	fields := make(State, len(entries))
	methods := make(map[string]Method)
	for key, value := range entries {
		if key == ConsoleMethod {
			continue
		}
		if method, ok := AsMethod(value); ok {
			methods[key] = method
			continue
		}
		if IsFunc(value) {
			continue
		}
		fields[key] = value
	}
	return fields, methods
}

// StateOnly returns the entries that are not methods: the projection
// broadcast to the guest.
func StateOnly(entries State) State {
	fields, _ := Partition(entries)
	return fields
}

// MethodNames returns the sorted names of the method-valued entries.
func MethodNames(entries State) []string {
	_, methods := Partition(entries)
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AsMethod reports whether value is callable as a Method. Plain
// functions with Method's signature are accepted so initializers can
// write method literals without a conversion.
func AsMethod(value any) (Method, bool) {
	switch fn := value.(type) {
	case Method:
		return fn, fn != nil
	case func(context.Context, []any) (any, error):
		return Method(fn), fn != nil
	default:
		return nil, false
	}
}

// IsFunc reports whether value is a function of any signature,
// including a nil Method.
func IsFunc(value any) bool {
	return value != nil && reflect.TypeOf(value).Kind() == reflect.Func
}

// ValidName reports whether name can be used as a state key or method
// name: non-empty and free of surrounding whitespace.
func ValidName(name string) bool {
	return name != "" && strings.TrimSpace(name) == name
}
