// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	c := Fake(epoch)
	c.Advance(5 * time.Second)
	if got, want := c.Now(), epoch.Add(5*time.Second); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestFakeAfterFuncFiresAtDeadline(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(30*time.Second, func() { fired++ })

	c.Advance(29 * time.Second)
	if fired != 0 {
		t.Fatal("callback fired before its deadline")
	}
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	c.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("one-shot callback fired %d times", fired)
	}
}

func TestFakeAfterFuncNonPositiveRunsImmediately(t *testing.T) {
	c := Fake(epoch)
	fired := false
	c.AfterFunc(0, func() { fired = true })
	if !fired {
		t.Fatal("AfterFunc(0) did not run synchronously")
	}
	if c.PendingCount() != 0 {
		t.Fatalf("PendingCount = %d, want 0", c.PendingCount())
	}
}

func TestFakeStopPreventsCallback(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop on a pending timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}
	c.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestFakeResetRestartsWindow(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	timer := c.AfterFunc(16*time.Millisecond, func() { fired++ })

	c.Advance(10 * time.Millisecond)
	if !timer.Reset(16 * time.Millisecond) {
		t.Fatal("Reset on a pending timer returned false")
	}
	c.Advance(10 * time.Millisecond)
	if fired != 0 {
		t.Fatal("reset timer fired at its original deadline")
	}
	c.Advance(6 * time.Millisecond)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
}

func TestFakeRearmingCallbackFiresEachInterval(t *testing.T) {
	c := Fake(epoch)
	var ticks []time.Time
	var arm func()
	arm = func() {
		c.AfterFunc(20*time.Millisecond, func() {
			ticks = append(ticks, c.Now())
			arm()
		})
	}
	arm()

	c.Advance(100 * time.Millisecond)
	if len(ticks) != 5 {
		t.Fatalf("got %d ticks, want 5", len(ticks))
	}
	for i, tick := range ticks {
		want := epoch.Add(time.Duration(i+1) * 20 * time.Millisecond)
		if !tick.Equal(want) {
			t.Errorf("tick %d at %v, want %v", i, tick, want)
		}
	}
}

func TestFakeCallbacksRunInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "third") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "first") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "second") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "second-later") })

	c.Advance(3 * time.Second)
	want := []string{"first", "second", "second-later", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	registered := make(chan struct{})
	go func() {
		c.AfterFunc(time.Second, func() {})
		c.AfterFunc(time.Second, func() {})
		close(registered)
	}()
	c.WaitForTimers(2)
	<-registered
	if got := c.PendingCount(); got != 2 {
		t.Fatalf("PendingCount = %d, want 2", got)
	}
}
