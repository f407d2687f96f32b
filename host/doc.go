// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package host implements the authoritative side of a state bridge.
//
// A [Store] owns the state and the methods. It is built from an
// initializer that returns the initial entries; method entries close
// over the store to read and mutate it later. SetState shallow-merges
// a partial state and synchronously notifies subscribers, in
// subscription order, from a snapshot of the subscriber list taken at
// notification time.
//
// A [Dispatcher] connects one store to one guest channel. It answers
// call envelopes by running the named method and replying with the
// correlated result or error, and it broadcasts a state-only snapshot
// after every call and every store change. [Dispatcher.Announce] sends
// the ready envelope (method names plus state) followed by a forced
// snapshot; Serve does this once before reading, and hosts call it
// again when the guest reloads.
//
// Host methods run on the dispatcher's executor. By default it has one
// worker, so a get-then-set method never loses an update to a
// concurrent call. Errors and panics inside a method become failed
// responses; they never reach the channel as anything else and never
// take the host down.
//
// Broadcast strategy is a constructor option. [BroadcastImmediate]
// sends one snapshot per change. [BroadcastDebounced] coalesces changes
// within a short window and skips snapshots that are shallowly equal to
// the last one sent; forced broadcasts bypass both.
//
// The reserved [bridge.ConsoleMethod] is handled by the dispatcher
// itself: records are re-emitted through slog and never cause a
// broadcast.
//
// [Persister] keeps the state-only projection of a store in a statedb
// database across restarts.
package host
