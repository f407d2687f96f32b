// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"reflect"
	"testing"
)

func noop(context.Context, []any) (any, error) { return nil, nil }

func TestMergeIsShallow(t *testing.T) {
	base := State{"count": 1, "user": map[string]any{"name": "a", "age": 3}}
	merged := base.Merge(State{"user": map[string]any{"name": "b"}})

	want := State{"count": 1, "user": map[string]any{"name": "b"}}
	if !reflect.DeepEqual(merged, want) {
		t.Errorf("got %v, want %v", merged, want)
	}
	if _, ok := base["user"].(map[string]any)["age"]; !ok {
		t.Error("Merge mutated the receiver")
	}
}

func TestMergeSequence(t *testing.T) {
	state := State{"a": 1, "b": 2}
	for _, partial := range []State{{"a": 10}, {"c": 3}, {"a": 20, "b": nil}} {
		state = state.Merge(partial)
	}
	want := State{"a": 20, "b": nil, "c": 3}
	if !reflect.DeepEqual(state, want) {
		t.Errorf("got %v, want %v", state, want)
	}
}

func TestCloneNil(t *testing.T) {
	var state State
	clone := state.Clone()
	if clone == nil || len(clone) != 0 {
		t.Errorf("Clone of nil = %#v, want empty non-nil", clone)
	}
}

func TestPartition(t *testing.T) {
	entries := State{
		"count":       3,
		"increase":    Method(noop),
		"decrease":    noop,
		ConsoleMethod: Method(noop),
		"label":       "x",
	}

	fields, methods := Partition(entries)

	if !reflect.DeepEqual(fields, State{"count": 3, "label": "x"}) {
		t.Errorf("fields = %v", fields)
	}
	if len(methods) != 2 || methods["increase"] == nil || methods["decrease"] == nil {
		t.Errorf("methods = %v", methods)
	}
	if _, ok := methods[ConsoleMethod]; ok {
		t.Error("console sink leaked into methods")
	}
	if _, ok := fields[ConsoleMethod]; ok {
		t.Error("console sink leaked into fields")
	}
}

func TestPartitionDropsOtherFunctions(t *testing.T) {
	var nilMethod Method
	entries := State{
		"count":   3,
		"reset":   func() {},
		"format":  func(int) string { return "" },
		"missing": nilMethod,
	}

	fields, methods := Partition(entries)

	if !reflect.DeepEqual(fields, State{"count": 3}) {
		t.Errorf("fields = %v, want only count", fields)
	}
	if len(methods) != 0 {
		t.Errorf("methods = %v, want none", methods)
	}
}

func TestIsFunc(t *testing.T) {
	var nilMethod Method
	tests := []struct {
		value any
		want  bool
	}{
		{nil, false},
		{3, false},
		{"reset", false},
		{func() {}, true},
		{Method(noop), true},
		{nilMethod, true},
	}
	for _, test := range tests {
		if got := IsFunc(test.value); got != test.want {
			t.Errorf("IsFunc(%T) = %v, want %v", test.value, got, test.want)
		}
	}
}

func TestMethodNamesSorted(t *testing.T) {
	entries := State{"sum": noop, "count": 0, "increase": noop, "decrease": noop}
	got := MethodNames(entries)
	want := []string{"decrease", "increase", "sum"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAsMethodRejectsNil(t *testing.T) {
	var method Method
	if _, ok := AsMethod(method); ok {
		t.Error("nil Method should not be callable")
	}
	if _, ok := AsMethod("increase"); ok {
		t.Error("string should not be a method")
	}
}

func TestValidName(t *testing.T) {
	for name, want := range map[string]bool{"count": true, "": false, " count": false, "a b": true} {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}
