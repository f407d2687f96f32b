// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statedb persists a host store's state fields in SQLite so a
// restarted host resumes where it left off.
//
// Each top-level field is one row of the bridge_state table, keyed by
// field name, with the value stored as JSON. Methods are never stored.
// [DB.Save] replaces the whole table inside one immediate transaction,
// so a reader never sees a half-written snapshot.
//
// Connections come from a small pool with WAL journaling and a busy
// timeout, so the save loop and a concurrent Load do not block each
// other.
package statedb
