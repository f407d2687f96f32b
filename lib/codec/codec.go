// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Format names a serialization format.
type Format string

const (
	// JSON is the default wire format.
	JSON Format = "json"

	// CBOR is the compact format for Go-to-Go stream channels.
	CBOR Format = "cbor"
)

// ParseFormat maps a configuration string to a Format. The empty string
// selects JSON.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	default:
		return "", fmt.Errorf("codec: unknown format %q", name)
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v in format f.
func (f Format) Marshal(v any) ([]byte, error) {
	switch f {
	case JSON, "":
		return json.Marshal(v)
	case CBOR:
		return encMode.Marshal(v)
	default:
		return nil, fmt.Errorf("codec: unknown format %q", string(f))
	}
}

// Unmarshal decodes data in format f into v.
func (f Format) Unmarshal(data []byte, v any) error {
	switch f {
	case JSON, "":
		return json.Unmarshal(data, v)
	case CBOR:
		return decMode.Unmarshal(data, v)
	default:
		return fmt.Errorf("codec: unknown format %q", string(f))
	}
}

// Canonical returns the deterministic CBOR encoding of v. Two values
// with equal JSON meaning and equal Go number types produce equal
// bytes.
func Canonical(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Sniff guesses the format of an encoded message: JSON objects start
// with '{' after optional whitespace, CBOR maps never do.
func Sniff(data []byte) Format {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return JSON
	}
	return CBOR
}

// Normalize rewrites the numbers in a decoded CBOR value as float64,
// recursing into []any and map[string]any, so values decoded from
// either format compare and type-switch the same way. Integers beyond
// 2^53 lose precision exactly as they would through JSON.
func Normalize(v any) any {
	switch value := v.(type) {
	case uint64:
		return float64(value)
	case int64:
		return float64(value)
	case float32:
		return float64(value)
	case []any:
		for i, element := range value {
			value[i] = Normalize(element)
		}
		return value
	case map[string]any:
		for key, element := range value {
			value[key] = Normalize(element)
		}
		return value
	default:
		return v
	}
}
