// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"reflect"
	"testing"
)

func TestParseArgs(t *testing.T) {
	got := parseArgs([]string{"1", "2.5", "true", "null", `{"a":[1]}`, "hello", `"quoted"`})
	want := []any{
		float64(1),
		2.5,
		true,
		nil,
		map[string]any{"a": []any{float64(1)}},
		"hello",
		"quoted",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseArgs = %#v, want %#v", got, want)
	}
	if args := parseArgs(nil); args == nil || len(args) != 0 {
		t.Errorf("parseArgs(nil) = %#v, want an empty slice", args)
	}
}

func TestPrintJSON(t *testing.T) {
	var buffer bytes.Buffer
	if err := printJSON(&buffer, map[string]any{"count": 3}); err != nil {
		t.Fatal(err)
	}
	if got, want := buffer.String(), "{\n  \"count\": 3\n}\n"; got != want {
		t.Errorf("printJSON = %q, want %q", got, want)
	}

	buffer.Reset()
	if err := printJSON(&buffer, nil); err != nil {
		t.Fatal(err)
	}
	if got := buffer.String(); got != "null\n" {
		t.Errorf("printJSON(nil) = %q, want null", got)
	}
}
