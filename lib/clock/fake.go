// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock. It is safe for concurrent
// use. Callbacks run synchronously inside Advance, in deadline order,
// with Now reporting each callback's own deadline while it runs, so a
// callback that re-arms itself fires again within the same Advance when
// the new deadline is still covered.
//
// Calling Advance from inside a callback deadlocks.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	pending []*fakeTimer
	changed *sync.Cond

	// sequence orders timers that share a deadline by registration.
	sequence uint64

	// advancing serializes Advance calls so callbacks never overlap.
	advancing sync.Mutex
}

type fakeTimer struct {
	deadline time.Time
	callback func()
	active   bool
	sequence uint64
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run once the clock reaches now+d. With
// d <= 0, f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	c.mu.Lock()
	timer := &fakeTimer{callback: f}
	c.armLocked(timer, d)
	c.mu.Unlock()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := timer.active
			c.disarmLocked(timer)
			return wasActive
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := timer.active
			c.disarmLocked(timer)
			c.armLocked(timer, d)
			return wasActive
		},
	}
}

func (c *FakeClock) armLocked(timer *fakeTimer, d time.Duration) {
	c.sequence++
	timer.deadline = c.current.Add(d)
	timer.active = true
	timer.sequence = c.sequence
	c.pending = append(c.pending, timer)
	c.changed.Broadcast()
}

func (c *FakeClock) disarmLocked(timer *fakeTimer) {
	if !timer.active {
		return
	}
	timer.active = false
	for i, candidate := range c.pending {
		if candidate == timer {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
}

// Advance moves the clock forward by d, running every callback whose
// deadline falls inside the window.
func (c *FakeClock) Advance(d time.Duration) {
	c.advancing.Lock()
	defer c.advancing.Unlock()

	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.earliestLocked()
		if next == nil || next.deadline.After(target) {
			c.current = target
			c.mu.Unlock()
			return
		}
		if next.deadline.After(c.current) {
			c.current = next.deadline
		}
		c.disarmLocked(next)
		c.mu.Unlock()

		next.callback()
	}
}

func (c *FakeClock) earliestLocked() *fakeTimer {
	var earliest *fakeTimer
	for _, timer := range c.pending {
		if earliest == nil ||
			timer.deadline.Before(earliest.deadline) ||
			(timer.deadline.Equal(earliest.deadline) && timer.sequence < earliest.sequence) {
			earliest = timer
		}
	}
	return earliest
}

// WaitForTimers blocks until at least n callbacks are pending. Tests
// use it to make sure a goroutine has armed its timer before Advance.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of armed callbacks.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
