// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope defines the messages exchanged between a bridge host
// and guest, and their encoding.
//
// Every message is a single object with a "type" discriminator:
//
//	guest -> host  {"type":"call","id":"...","method":"increase","args":[]}
//	guest -> host  {"type":"console","level":"warn","args":["..."]}
//	host -> guest  {"type":"response","id":"...","ok":true,"result":5}
//	host -> guest  {"type":"response","id":"...","ok":false,"error":"...","code":"call_timeout"}
//	host -> guest  {"type":"state","state":{"count":5}}
//	host -> guest  {"type":"ready","methods":["increase"],"state":{"count":5}}
//
// A message with no "type" but an "id" is read as a response, which is
// the shape older hosts send. A successful response always carries
// "result", null when the method returned nothing.
//
// [Decode] validates required fields and returns an error matching
// bridge.ErrMalformed for anything it cannot accept. Callers drop such
// messages; they cannot be correlated to a pending call.
//
// Encoding is JSON unless both ends agree on CBOR (see lib/codec).
// Numbers decode as float64 in both formats.
package envelope
