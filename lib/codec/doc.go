// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the two serialization formats a bridge channel can
// carry.
//
// JSON is the wire contract: every envelope crossing the host/guest
// boundary is representable as JSON, and the in-memory, WebSocket and
// WebRTC channels always carry JSON text because the guest side of those
// channels is frequently a web view.
//
// CBOR is available for framed stream channels (Unix sockets, socket
// pairs) where both ends are Go processes. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2), so equal values produce equal
// bytes; the digest package relies on that property. Values decoded into
// `any` produce map[string]any rather than CBOR's default
// map[interface{}]interface{} so that decoded state behaves exactly like
// decoded JSON state.
//
// Envelope types carry `json` struct tags only. fxamacker/cbor falls
// back to `json` tags, so one tag set controls both formats.
package codec
