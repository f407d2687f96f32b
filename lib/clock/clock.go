// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the two time operations the bridge needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f once d has elapsed and returns a Timer that
	// can cancel or re-arm it. With d <= 0, f runs immediately: in a
	// new goroutine for Real, synchronously for Fake.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc callback.
type Timer struct {
	stop  func() bool
	reset func(time.Duration) bool
}

// Stop cancels the callback. It reports whether the call prevented the
// callback from running.
func (t *Timer) Stop() bool { return t.stop() }

// Reset re-arms the timer to fire d from now. It reports whether the
// timer was pending before the reset.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stop: timer.Stop, reset: timer.Reset}
}
