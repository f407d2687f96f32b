// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge defines the data model shared by both sides of a
// host/guest state bridge.
//
// A host process owns a single state object and a set of methods. A
// guest execution context (a web view, a renderer, a child process)
// cannot share memory with the host; it sees a replicated, read-only
// copy of the state and invokes methods by sending call envelopes over
// an asynchronous channel. The host package implements the store and
// dispatcher, the guest package the runtime shim and client facade, and
// the envelope package the messages between them.
//
// This package holds what both sides agree on:
//
//   - [State]: top-level keys to JSON-compatible values. Snapshots are
//     always complete; there is no delta encoding.
//   - [Method]: a host-owned function callable from the guest. Methods
//     and state fields share one namespace and are told apart by type:
//     an entry whose value is a Method is a method, anything else is a
//     state field. [Partition] performs the split.
//   - [Error] and [Kind]: the closed set of failure categories a call can
//     end in. Every failure reaches application code as an *Error so
//     callers branch on the kind with errors.Is rather than matching
//     message text.
//
// [ConsoleMethod] is the reserved name of the host's logging sink. It is
// never listed among the methods announced to the guest and never
// appears in broadcast state.
package bridge
