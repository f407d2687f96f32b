// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type callShape struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

func TestFormatsShareJSONTags(t *testing.T) {
	original := callShape{Type: "call", ID: "c-1", Method: "sum", Args: []any{"a", true}}

	for _, format := range []Format{JSON, CBOR} {
		data, err := format.Marshal(original)
		if err != nil {
			t.Fatalf("%s Marshal: %v", format, err)
		}
		var generic map[string]any
		if err := format.Unmarshal(data, &generic); err != nil {
			t.Fatalf("%s Unmarshal: %v", format, err)
		}
		if generic["method"] != "sum" || generic["type"] != "call" {
			t.Errorf("%s: decoded %v, want method=sum type=call", format, generic)
		}
	}
}

func TestCBORDecodesNestedMapsAsStringKeyed(t *testing.T) {
	data, err := CBOR.Marshal(map[string]any{"user": map[string]any{"name": "ada"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := CBOR.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := decoded["user"].(map[string]any); !ok {
		t.Fatalf("nested value has type %T, want map[string]any", decoded["user"])
	}
}

func TestCanonicalIgnoresMapOrder(t *testing.T) {
	first, err := Canonical(map[string]any{"a": 1, "b": "two", "c": []any{3}})
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	for range 10 {
		again, err := Canonical(map[string]any{"c": []any{3}, "b": "two", "a": 1})
		if err != nil {
			t.Fatalf("Canonical: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("canonical encoding differs between equal maps")
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", JSON, false},
		{"json", JSON, false},
		{" CBOR ", CBOR, false},
		{"msgpack", "", true},
	}
	for _, test := range tests {
		got, err := ParseFormat(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", test.input, err, test.wantErr)
			continue
		}
		if got != test.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestSniff(t *testing.T) {
	jsonData, _ := JSON.Marshal(map[string]any{"type": "state"})
	cborData, _ := CBOR.Marshal(map[string]any{"type": "state"})
	if got := Sniff(append([]byte("  \n"), jsonData...)); got != JSON {
		t.Errorf("Sniff(json) = %q", got)
	}
	if got := Sniff(cborData); got != CBOR {
		t.Errorf("Sniff(cbor) = %q", got)
	}
}

func TestNormalize(t *testing.T) {
	data, err := CBOR.Marshal(map[string]any{
		"count":  7,
		"offset": -2,
		"nested": []any{1, map[string]any{"deep": uint8(3)}},
		"label":  "x",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := CBOR.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	normalized := Normalize(decoded).(map[string]any)
	if normalized["count"] != float64(7) {
		t.Errorf("count = %#v, want float64(7)", normalized["count"])
	}
	if normalized["offset"] != float64(-2) {
		t.Errorf("offset = %#v, want float64(-2)", normalized["offset"])
	}
	nested := normalized["nested"].([]any)
	if nested[0] != float64(1) {
		t.Errorf("nested[0] = %#v, want float64(1)", nested[0])
	}
	if deep := nested[1].(map[string]any)["deep"]; deep != float64(3) {
		t.Errorf("deep = %#v, want float64(3)", deep)
	}
	if normalized["label"] != "x" {
		t.Errorf("label = %#v, want x", normalized["label"])
	}
}
