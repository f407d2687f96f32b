// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
)

// Kind is the closed set of ways a bridge call can fail. Kinds travel
// on the wire in the response's "code" field; the message text is kept
// for humans and for guests that predate codes.
type Kind string

const (
	// KindMethodNotFound: the name is not a method on the host.
	KindMethodNotFound Kind = "method_not_found"

	// KindTimeout: no response arrived before the call's deadline.
	KindTimeout Kind = "call_timeout"

	// KindTransportUnavailable: no channel was attached when the call
	// was issued. Nothing was sent and nothing was registered.
	KindTransportUnavailable Kind = "transport_unavailable"

	// KindHostMethod: the host method returned an error or panicked.
	KindHostMethod Kind = "host_method_error"

	// KindMalformed: an inbound message could not be decoded or lacked
	// required fields. Malformed messages are dropped, so this kind
	// only surfaces from the envelope package, never from a call.
	KindMalformed Kind = "malformed_envelope"

	// KindTeardown: the guest runtime closed while the call was
	// pending.
	KindTeardown Kind = "teardown"

	// KindCanceled: the caller's context ended before a response.
	KindCanceled Kind = "canceled"

	// KindReadOnly: the guest attempted to write host-owned state.
	KindReadOnly Kind = "read_only"
)

// Known reports whether k is one of the declared kinds.
func (k Kind) Known() bool {
	switch k {
	case KindMethodNotFound, KindTimeout, KindTransportUnavailable, KindHostMethod,
		KindMalformed, KindTeardown, KindCanceled, KindReadOnly:
		return true
	}
	return false
}

// Error is the error type for every bridge failure.
//
//	var bridgeErr *bridge.Error
//	if errors.As(err, &bridgeErr) && bridgeErr.Kind == bridge.KindTimeout { ... }
//
// or, more simply, errors.Is(err, bridge.ErrTimeout).
type Error struct {
	Kind Kind

	// Method is the method the failed call targeted, when known.
	Method string

	// Message is the human-readable text, matching what the wire
	// carries in the response's "error" field.
	Message string

	// Cause is the underlying error, if the failure originated in Go
	// code on this side of the boundary.
	Cause error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same Kind, so the sentinels below work
// with errors.Is regardless of message or method.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrMethodNotFound       = &Error{Kind: KindMethodNotFound}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrTransportUnavailable = &Error{Kind: KindTransportUnavailable}
	ErrHostMethod           = &Error{Kind: KindHostMethod}
	ErrMalformed            = &Error{Kind: KindMalformed}
	ErrTeardown             = &Error{Kind: KindTeardown}
	ErrCanceled             = &Error{Kind: KindCanceled}
	ErrReadOnly             = &Error{Kind: KindReadOnly}
)

// KindOf returns the Kind of err, or "" when err is not a bridge error.
func KindOf(err error) Kind {
	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr.Kind
	}
	return ""
}

// MethodNotFound builds the error a host reports for an unknown name.
func MethodNotFound(method string) *Error {
	return &Error{
		Kind:    KindMethodNotFound,
		Method:  method,
		Message: fmt.Sprintf("Bridge method %q not found", method),
	}
}

// Timeout builds the error for a call whose deadline passed.
func Timeout(method string) *Error {
	return &Error{Kind: KindTimeout, Method: method, Message: "Bridge call timeout"}
}

// Teardown builds the error for calls pending when the guest closes.
func Teardown(method string) *Error {
	return &Error{Kind: KindTeardown, Method: method, Message: "Page unloading"}
}

// TransportUnavailable builds the error for calls issued with no
// channel attached.
func TransportUnavailable(method string) *Error {
	return &Error{
		Kind:    KindTransportUnavailable,
		Method:  method,
		Message: "bridge transport not available (no host attached)",
	}
}

// HostMethod wraps a failure reported by (or raised in) a host method.
func HostMethod(method, message string) *Error {
	if message == "" {
		message = "Bridge error"
	}
	return &Error{Kind: KindHostMethod, Method: method, Message: message}
}

// Canceled wraps a context cancellation observed while waiting.
func Canceled(method string, cause error) *Error {
	return &Error{Kind: KindCanceled, Method: method, Message: "bridge call canceled: " + cause.Error(), Cause: cause}
}
