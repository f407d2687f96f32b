// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by the bridge's tests.
//
// [RequireReceive] and [RequireClosed] are the only places the test
// suite waits on the wall clock; they bound channel waits so a broken
// bridge fails the test instead of hanging it. Everything the bridge
// itself times (deadlines, sweeps, polling, debouncing) runs on a
// clock.FakeClock.
//
// [SocketDir] returns a short directory for Unix sockets, whose paths
// are limited to 108 bytes. [UniqueID] produces distinguishable ids
// for calls and channels.
package testutil
