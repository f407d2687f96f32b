// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/bureau-foundation/statebridge/bridge"
	"github.com/bureau-foundation/statebridge/envelope"
	"github.com/bureau-foundation/statebridge/lib/clock"
	"github.com/bureau-foundation/statebridge/lib/codec"
	"github.com/bureau-foundation/statebridge/lib/testutil"
	"github.com/bureau-foundation/statebridge/transport"
)

// counterStore builds the store most tests serve: a count field and
// methods that read, modify, and misuse it.
func counterStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(func(store *Store) (bridge.State, error) {
		return bridge.State{
			"count": 0,
			"getCount": bridge.Method(func(context.Context, []any) (any, error) {
				return store.GetState()["count"], nil
			}),
			// Read then write, so overlapping calls would lose updates.
			"increase": bridge.Method(func(context.Context, []any) (any, error) {
				count := store.GetState()["count"].(int)
				time.Sleep(time.Millisecond)
				store.SetState(bridge.State{"count": count + 1})
				return nil, nil
			}),
			"sum": bridge.Method(func(_ context.Context, args []any) (any, error) {
				var total float64
				for _, arg := range args {
					number, ok := arg.(float64)
					if !ok {
						return nil, fmt.Errorf("sum: %v is not a number", arg)
					}
					total += number
				}
				return total, nil
			}),
			"fail": bridge.Method(func(context.Context, []any) (any, error) {
				return nil, errors.New("boom")
			}),
			"explode": bridge.Method(func(context.Context, []any) (any, error) {
				panic("kaboom")
			}),
			"unserializable": bridge.Method(func(context.Context, []any) (any, error) {
				return make(chan int), nil
			}),
		}, nil
	}, StoreOptions{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

type session struct {
	dispatcher *Dispatcher
	guest      *transport.PipeEnd
	served     chan error
}

// serve attaches store to a pipe and runs Serve until the test ends.
func serve(t *testing.T, store *Store, options DispatcherOptions) *session {
	t.Helper()
	hostEnd, guestEnd := transport.Pipe(transport.PipeOptions{})
	dispatcher := Attach(store, hostEnd, options)

	served := make(chan error, 1)
	go func() { served <- dispatcher.Serve(context.Background()) }()

	s := &session{dispatcher: dispatcher, guest: guestEnd, served: served}
	t.Cleanup(func() {
		dispatcher.Close()
		guestEnd.Close()
	})
	return s
}

func (s *session) next(t *testing.T) envelope.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := s.guest.Receive(ctx)
	if err != nil {
		t.Fatalf("guest Receive: %v", err)
	}
	message, err := envelope.Decode(codec.JSON, data)
	if err != nil {
		t.Fatalf("decoding %s: %v", data, err)
	}
	return message
}

// expectQuiet fails if the host sends anything within a short window.
func (s *session) expectQuiet(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if data, err := s.guest.Receive(ctx); err == nil {
		t.Fatalf("unexpected message from host: %s", data)
	}
}

func (s *session) expectState(t *testing.T) bridge.State {
	t.Helper()
	message := s.next(t)
	state, ok := message.(*envelope.State)
	if !ok {
		t.Fatalf("got %T, want state", message)
	}
	return state.State
}

// handshake consumes the ready and initial state messages.
func (s *session) handshake(t *testing.T) *envelope.Ready {
	t.Helper()
	message := s.next(t)
	ready, ok := message.(*envelope.Ready)
	if !ok {
		t.Fatalf("first message is %T, want ready", message)
	}
	s.expectState(t)
	return ready
}

func (s *session) send(t *testing.T, message envelope.Envelope) {
	t.Helper()
	data, err := envelope.Encode(codec.JSON, message)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := s.guest.Send(context.Background(), data); err != nil {
		t.Fatalf("guest Send: %v", err)
	}
}

// call sends a call and returns its response, skipping state
// broadcasts that arrive first.
func (s *session) call(t *testing.T, id, method string, args ...any) *envelope.Response {
	t.Helper()
	s.send(t, &envelope.Call{ID: id, Method: method, Args: args})
	for {
		message := s.next(t)
		if response, ok := message.(*envelope.Response); ok {
			if response.ID != id {
				t.Fatalf("response for %q, want %q", response.ID, id)
			}
			return response
		}
	}
}

func TestDispatcherAnnounce(t *testing.T) {
	s := serve(t, counterStore(t), DispatcherOptions{})

	ready := s.handshake(t)
	want := []string{"explode", "fail", "getCount", "increase", "sum", "unserializable"}
	if !reflect.DeepEqual(ready.Methods, want) {
		t.Errorf("ready methods = %v, want %v", ready.Methods, want)
	}
	if !reflect.DeepEqual(ready.State, bridge.State{"count": float64(0)}) {
		t.Errorf("ready state = %v", ready.State)
	}
}

func TestDispatcherSuccess(t *testing.T) {
	s := serve(t, counterStore(t), DispatcherOptions{})
	s.handshake(t)

	response := s.call(t, "1", "sum", 1, 2, 3)
	if !response.OK || response.Result != float64(6) {
		t.Fatalf("sum response = %+v, want ok 6", response)
	}
	if state := s.expectState(t); state["count"] != float64(0) {
		t.Errorf("broadcast after call = %v", state)
	}
}

func TestDispatcherNullResult(t *testing.T) {
	s := serve(t, counterStore(t), DispatcherOptions{})
	s.handshake(t)

	response := s.call(t, "n", "increase")
	if !response.OK || response.Result != nil {
		t.Errorf("increase response = %+v, want ok with null result", response)
	}
}

func TestDispatcherMethodNotFound(t *testing.T) {
	s := serve(t, counterStore(t), DispatcherOptions{})
	s.handshake(t)

	response := s.call(t, "x", "missing")
	if response.OK {
		t.Fatal("call to missing method succeeded")
	}
	if response.Code != bridge.KindMethodNotFound {
		t.Errorf("code = %q, want %q", response.Code, bridge.KindMethodNotFound)
	}
	if response.Error != `Bridge method "missing" not found` {
		t.Errorf("error = %q", response.Error)
	}
	s.expectState(t)
}

func TestDispatcherMethodErrors(t *testing.T) {
	s := serve(t, counterStore(t), DispatcherOptions{})
	s.handshake(t)

	tests := []struct {
		method  string
		message string
	}{
		{"fail", "boom"},
		{"explode", "kaboom"},
	}
	for _, test := range tests {
		response := s.call(t, test.method, test.method)
		if response.OK {
			t.Errorf("%s succeeded", test.method)
			continue
		}
		if response.Code != bridge.KindHostMethod || response.Error != test.message {
			t.Errorf("%s response = %+v, want %s %q", test.method, response, bridge.KindHostMethod, test.message)
		}
	}

	// The session survives a panicking method.
	if response := s.call(t, "after", "getCount"); !response.OK {
		t.Errorf("call after panic failed: %+v", response)
	}
}

func TestDispatcherUnserializableResult(t *testing.T) {
	s := serve(t, counterStore(t), DispatcherOptions{})
	s.handshake(t)

	response := s.call(t, "u", "unserializable")
	if response.OK || response.Code != bridge.KindHostMethod {
		t.Errorf("response = %+v, want host method failure", response)
	}
}

func TestDispatcherSerializesCalls(t *testing.T) {
	store := counterStore(t)
	s := serve(t, store, DispatcherOptions{})
	s.handshake(t)

	for i := range 3 {
		s.send(t, &envelope.Call{ID: fmt.Sprint(i), Method: "increase"})
	}
	responses := 0
	for responses < 3 {
		if response, ok := s.next(t).(*envelope.Response); ok {
			if !response.OK {
				t.Fatalf("increase failed: %+v", response)
			}
			responses++
		}
	}
	// The trailing broadcast of the final call.
	last := s.expectState(t)

	if got := store.GetState()["count"]; got != 3 {
		t.Errorf("count = %v, want 3", got)
	}
	if last["count"] != float64(3) {
		t.Errorf("last broadcast count = %v, want 3", last["count"])
	}
}

func TestDispatcherConsoleCall(t *testing.T) {
	records := make(chan []any, 1)
	levels := make(chan string, 1)
	s := serve(t, counterStore(t), DispatcherOptions{
		Console: func(level string, args []any) {
			levels <- level
			records <- args
		},
	})
	s.handshake(t)

	s.send(t, &envelope.Call{ID: "c", Method: bridge.ConsoleMethod, Args: []any{"warn", "low", 1}})
	message := s.next(t)
	response, ok := message.(*envelope.Response)
	if !ok || response.ID != "c" || !response.OK || response.Result != nil {
		t.Fatalf("console call answered with %+v, want ok null", message)
	}
	if level := testutil.RequireReceive(t, levels, time.Second); level != "warn" {
		t.Errorf("level = %q, want warn", level)
	}
	if args := testutil.RequireReceive(t, records, time.Second); !reflect.DeepEqual(args, []any{"low", float64(1)}) {
		t.Errorf("args = %v", args)
	}

	// No broadcast follows a console call: the next message is the
	// answer to the next call.
	s.send(t, &envelope.Call{ID: "g", Method: "getCount"})
	if response, ok := s.next(t).(*envelope.Response); !ok || response.ID != "g" {
		t.Errorf("expected getCount response directly after the console call")
	}
}

func TestDispatcherConsoleEnvelope(t *testing.T) {
	levels := make(chan string, 1)
	s := serve(t, counterStore(t), DispatcherOptions{
		Console: func(level string, args []any) { levels <- level },
	})
	s.handshake(t)

	s.send(t, &envelope.Console{Level: "error", Args: []any{"oops"}})
	if level := testutil.RequireReceive(t, levels, 5*time.Second); level != "error" {
		t.Errorf("level = %q, want error", level)
	}
	s.expectQuiet(t)
}

func TestDispatcherIgnoresMalformed(t *testing.T) {
	s := serve(t, counterStore(t), DispatcherOptions{})
	s.handshake(t)

	for _, raw := range []string{"not json", `{"type":"call"}`, `{"type":"state","state":{}}`} {
		if err := s.guest.Send(context.Background(), []byte(raw)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if response := s.call(t, "ok", "getCount"); !response.OK {
		t.Errorf("call after malformed input failed: %+v", response)
	}
}

func TestDispatcherImmediateBroadcast(t *testing.T) {
	store := counterStore(t)
	hostEnd, guestEnd := transport.Pipe(transport.PipeOptions{})
	dispatcher := Attach(store, hostEnd, DispatcherOptions{})
	t.Cleanup(func() { dispatcher.Close() })
	s := &session{dispatcher: dispatcher, guest: guestEnd}

	store.SetState(bridge.State{"count": 5})
	store.SetState(bridge.State{"count": 5})

	for range 2 {
		if state := s.expectState(t); state["count"] != float64(5) {
			t.Errorf("broadcast = %v, want count 5", state)
		}
	}
}

func TestDispatcherDebouncedBroadcast(t *testing.T) {
	store := counterStore(t)
	fake := clock.Fake(time.Unix(1700000000, 0))
	hostEnd, guestEnd := transport.Pipe(transport.PipeOptions{})
	dispatcher := Attach(store, hostEnd, DispatcherOptions{
		Broadcast: BroadcastDebounced,
		Clock:     fake,
	})
	t.Cleanup(func() { dispatcher.Close() })
	s := &session{dispatcher: dispatcher, guest: guestEnd}

	if err := dispatcher.Announce(context.Background()); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	s.handshake(t)

	store.SetState(bridge.State{"count": 1})
	store.SetState(bridge.State{"count": 2})
	if pending := fake.PendingCount(); pending != 1 {
		t.Fatalf("pending timers = %d, want 1", pending)
	}
	s.expectQuiet(t)

	fake.Advance(DefaultDebounce)
	if state := s.expectState(t); state["count"] != float64(2) {
		t.Errorf("debounced broadcast = %v, want count 2", state)
	}

	// Unchanged state is not sent again.
	dispatcher.Broadcast(false)
	fake.Advance(DefaultDebounce)
	s.expectQuiet(t)

	// A forced broadcast is sent even when unchanged.
	dispatcher.Broadcast(true)
	if state := s.expectState(t); state["count"] != float64(2) {
		t.Errorf("forced broadcast = %v, want count 2", state)
	}
}

func TestDispatcherForceCancelsPendingDebounce(t *testing.T) {
	store := counterStore(t)
	fake := clock.Fake(time.Unix(1700000000, 0))
	hostEnd, guestEnd := transport.Pipe(transport.PipeOptions{})
	dispatcher := Attach(store, hostEnd, DispatcherOptions{
		Broadcast: BroadcastDebounced,
		Clock:     fake,
	})
	t.Cleanup(func() { dispatcher.Close() })
	s := &session{dispatcher: dispatcher, guest: guestEnd}

	store.SetState(bridge.State{"count": 4})
	dispatcher.Broadcast(true)
	if state := s.expectState(t); state["count"] != float64(4) {
		t.Errorf("forced broadcast = %v", state)
	}
	if pending := fake.PendingCount(); pending != 0 {
		t.Errorf("pending timers after force = %d, want 0", pending)
	}
}

func TestDispatcherServeEndsOnGuestClose(t *testing.T) {
	s := serve(t, counterStore(t), DispatcherOptions{})
	s.handshake(t)

	s.guest.Close()
	if err := testutil.RequireReceive(t, s.served, 5*time.Second); err != nil {
		t.Errorf("Serve = %v, want nil on guest disconnect", err)
	}
}

func TestDispatcherServeEndsOnClose(t *testing.T) {
	s := serve(t, counterStore(t), DispatcherOptions{})
	s.handshake(t)

	s.dispatcher.Close()
	if err := testutil.RequireReceive(t, s.served, 5*time.Second); err != nil {
		t.Errorf("Serve = %v, want nil after Close", err)
	}
}

func TestDispatcherConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	store, err := NewStore(func(*Store) (bridge.State, error) {
		return bridge.State{
			"block": bridge.Method(func(context.Context, []any) (any, error) {
				started <- struct{}{}
				<-release
				return "done", nil
			}),
		}, nil
	}, StoreOptions{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s := serve(t, store, DispatcherOptions{MaxConcurrentCalls: 2})
	s.handshake(t)

	s.send(t, &envelope.Call{ID: "a", Method: "block"})
	s.send(t, &envelope.Call{ID: "b", Method: "block"})
	testutil.RequireReceive(t, started, 5*time.Second, "first call")
	testutil.RequireReceive(t, started, 5*time.Second, "second call running alongside the first")
	close(release)

	seen := map[string]bool{}
	for len(seen) < 2 {
		if response, ok := s.next(t).(*envelope.Response); ok {
			seen[response.ID] = response.OK
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("responses = %v, want both ok", seen)
	}
}

func TestParseBroadcastMode(t *testing.T) {
	for name, want := range map[string]BroadcastMode{
		"":          BroadcastImmediate,
		"immediate": BroadcastImmediate,
		"debounced": BroadcastDebounced,
	} {
		got, err := ParseBroadcastMode(name)
		if err != nil || got != want {
			t.Errorf("ParseBroadcastMode(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseBroadcastMode("eventually"); err == nil {
		t.Error("ParseBroadcastMode accepted an unknown mode")
	}
}
