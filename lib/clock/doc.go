// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for every timer in the bridge: call
// deadlines, the pending-call sweep, discovery polling, and broadcast
// debouncing.
//
// Components hold a Clock and never call time.Now or time.AfterFunc
// directly. Production code uses Real. Tests use Fake, whose time moves
// only when Advance is called:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	runtime := guest.NewRuntime(guest.RuntimeOptions{Clock: c})
//	go runtime.Call(ctx, "sum", args, time.Second)
//	c.WaitForTimers(2)        // call deadline + sweep registered
//	c.Advance(time.Second)    // deadline fires deterministically
//
// Only callback timers are provided. The bridge's timers all re-arm
// themselves from their callback, which keeps each side's timer logic on
// the same code path the message handlers use.
package clock
