// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/statebridge/lib/clock"
)

// BroadcastMode selects when the dispatcher sends state snapshots.
type BroadcastMode int

const (
	// BroadcastImmediate sends a snapshot for every change,
	// unconditionally.
	BroadcastImmediate BroadcastMode = iota

	// BroadcastDebounced waits for a quiet window before sending and
	// skips snapshots shallowly equal to the last one sent.
	BroadcastDebounced
)

// DefaultDebounce is one display refresh interval.
const DefaultDebounce = 16 * time.Millisecond

func (m BroadcastMode) String() string {
	switch m {
	case BroadcastImmediate:
		return "immediate"
	case BroadcastDebounced:
		return "debounced"
	default:
		return fmt.Sprintf("BroadcastMode(%d)", int(m))
	}
}

// ParseBroadcastMode maps a configuration name to a mode. The empty
// string selects immediate.
func ParseBroadcastMode(name string) (BroadcastMode, error) {
	switch name {
	case "", "immediate":
		return BroadcastImmediate, nil
	case "debounced":
		return BroadcastDebounced, nil
	default:
		return 0, fmt.Errorf("host: unknown broadcast mode %q", name)
	}
}

// debouncer runs fire once no trigger has arrived for window.
type debouncer struct {
	clock  clock.Clock
	window time.Duration
	fire   func()

	mu      sync.Mutex
	timer   *clock.Timer
	stopped bool
}

func newDebouncer(clk clock.Clock, window time.Duration, fire func()) *debouncer {
	return &debouncer{clock: clk, window: window, fire: fire}
}

// trigger starts the window, restarting it if one is pending.
func (d *debouncer) trigger() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	var timer *clock.Timer
	timer = d.clock.AfterFunc(d.window, func() {
		d.mu.Lock()
		current := d.timer == timer
		if current {
			d.timer = nil
		}
		d.mu.Unlock()
		if current {
			d.fire()
		}
	})
	d.timer = timer
	d.mu.Unlock()
}

// cancel drops a pending window without firing.
func (d *debouncer) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
}
