// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/statebridge/bridge"
	"github.com/bureau-foundation/statebridge/lib/codec"
)

// Type is the wire discriminator.
type Type string

const (
	TypeCall     Type = "call"
	TypeConsole  Type = "console"
	TypeResponse Type = "response"
	TypeState    Type = "state"
	TypeReady    Type = "ready"
)

// Envelope is one of *Call, *Console, *Response, *State, *Ready.
type Envelope interface {
	Type() Type
}

// Call asks the host to run a method. ID correlates the response.
type Call struct {
	ID     string
	Method string
	Args   []any
}

// Console is a fire-and-forget log record from the guest.
type Console struct {
	Level string
	Args  []any
}

// Response answers exactly one Call.
type Response struct {
	ID     string
	OK     bool
	Result any
	Error  string

	// Code is the failure kind. Empty on success, and on failures from
	// hosts that predate codes.
	Code bridge.Kind
}

// State is a complete state-only snapshot.
type State struct {
	State bridge.State
}

// Ready opens (or reopens) a session: the host's method names and its
// current state.
type Ready struct {
	Methods []string
	State   bridge.State
}

func (*Call) Type() Type     { return TypeCall }
func (*Console) Type() Type  { return TypeConsole }
func (*Response) Type() Type { return TypeResponse }
func (*State) Type() Type    { return TypeState }
func (*Ready) Type() Type    { return TypeReady }

// Success builds the response for a method that returned result.
func Success(id string, result any) *Response {
	return &Response{ID: id, OK: true, Result: result}
}

// Failure builds the response for a failed call. A *bridge.Error keeps
// its kind and message; any other error is reported as a host method
// error with its text.
func Failure(id string, err error) *Response {
	var bridgeErr *bridge.Error
	if errors.As(err, &bridgeErr) {
		return &Response{ID: id, Error: bridgeErr.Error(), Code: bridgeErr.Kind}
	}
	return &Response{ID: id, Error: err.Error(), Code: bridge.KindHostMethod}
}

// Err converts a failed response into the error the caller sees. It
// returns nil for a successful response.
func (r *Response) Err(method string) error {
	if r.OK {
		return nil
	}
	kind := r.Code
	if !kind.Known() {
		kind = bridge.KindHostMethod
	}
	message := r.Error
	if message == "" {
		message = "Bridge error"
	}
	return &bridge.Error{Kind: kind, Method: method, Message: message}
}

// Wire shapes. Field tags are shared by JSON and CBOR.

type callWire struct {
	Type   Type   `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

type consoleWire struct {
	Type  Type   `json:"type"`
	Level string `json:"level"`
	Args  []any  `json:"args"`
}

type responseWire struct {
	Type   Type   `json:"type"`
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Result *any   `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

type stateWire struct {
	Type  Type           `json:"type"`
	State map[string]any `json:"state"`
}

type readyWire struct {
	Type    Type           `json:"type"`
	Methods []string       `json:"methods"`
	State   map[string]any `json:"state"`
}

// inbound is the union of every wire field. Pointers distinguish an
// absent field from a zero value.
type inbound struct {
	Type    Type           `json:"type"`
	ID      *string        `json:"id"`
	Method  *string        `json:"method"`
	Args    []any          `json:"args"`
	Level   string         `json:"level"`
	OK      *bool          `json:"ok"`
	Result  any            `json:"result"`
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	State   map[string]any `json:"state"`
	Methods []string       `json:"methods"`
}

// Encode serializes an envelope in the given format.
func Encode(format codec.Format, envelope Envelope) ([]byte, error) {
	var wire any
	switch message := envelope.(type) {
	case *Call:
		wire = callWire{Type: TypeCall, ID: message.ID, Method: message.Method, Args: nonNilArgs(message.Args)}
	case *Console:
		wire = consoleWire{Type: TypeConsole, Level: message.Level, Args: nonNilArgs(message.Args)}
	case *Response:
		response := responseWire{Type: TypeResponse, ID: message.ID, OK: message.OK}
		if message.OK {
			result := message.Result
			response.Result = &result
		} else {
			response.Error = message.Error
			response.Code = string(message.Code)
		}
		wire = response
	case *State:
		wire = stateWire{Type: TypeState, State: nonNilState(message.State)}
	case *Ready:
		methods := message.Methods
		if methods == nil {
			methods = []string{}
		}
		wire = readyWire{Type: TypeReady, Methods: methods, State: nonNilState(message.State)}
	default:
		return nil, fmt.Errorf("envelope: cannot encode %T", envelope)
	}

	data, err := format.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("envelope: encoding %s: %w", envelope.Type(), err)
	}
	return data, nil
}

// Decode parses one message. Every failure matches bridge.ErrMalformed.
func Decode(format codec.Format, data []byte) (Envelope, error) {
	var message inbound
	if err := format.Unmarshal(data, &message); err != nil {
		return nil, malformed("decoding: %v", err)
	}
	if format == codec.CBOR {
		message.Args = normalizeSlice(message.Args)
		message.Result = codec.Normalize(message.Result)
		if message.State != nil {
			codec.Normalize(message.State)
		}
	}

	messageType := message.Type
	if messageType == "" && message.ID != nil {
		messageType = TypeResponse
	}

	switch messageType {
	case TypeCall:
		if message.ID == nil || *message.ID == "" {
			return nil, malformed("call without id")
		}
		if message.Method == nil || *message.Method == "" {
			return nil, malformed("call %s without method", *message.ID)
		}
		return &Call{ID: *message.ID, Method: *message.Method, Args: nonNilArgs(message.Args)}, nil

	case TypeConsole:
		return &Console{Level: message.Level, Args: nonNilArgs(message.Args)}, nil

	case TypeResponse:
		if message.ID == nil || *message.ID == "" {
			return nil, malformed("response without id")
		}
		if message.OK == nil {
			return nil, malformed("response %s without ok", *message.ID)
		}
		response := &Response{ID: *message.ID, OK: *message.OK}
		if response.OK {
			response.Result = message.Result
		} else {
			response.Error = message.Error
			response.Code = bridge.Kind(message.Code)
		}
		return response, nil

	case TypeState:
		if message.State == nil {
			return nil, malformed("state message without state")
		}
		return &State{State: bridge.State(message.State)}, nil

	case TypeReady:
		return &Ready{Methods: nonNilMethods(message.Methods), State: bridge.State(nonNilState(message.State))}, nil

	case "":
		return nil, malformed("message without type")

	default:
		return nil, malformed("unknown message type %q", messageType)
	}
}

func malformed(format string, args ...any) error {
	return &bridge.Error{
		Kind:    bridge.KindMalformed,
		Message: "envelope: " + fmt.Sprintf(format, args...),
	}
}

func nonNilArgs(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}

func nonNilState(state map[string]any) map[string]any {
	if state == nil {
		return map[string]any{}
	}
	return state
}

func nonNilMethods(methods []string) []string {
	if methods == nil {
		return []string{}
	}
	return methods
}

func normalizeSlice(values []any) []any {
	if values == nil {
		return nil
	}
	return codec.Normalize(values).([]any)
}
