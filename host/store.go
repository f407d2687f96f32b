// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/statebridge/bridge"
)

// Initializer builds a store's initial entries: state fields and
// bridge.Method values. Methods capture store to read and write state
// when they are later invoked. The initializer must not invoke them.
type Initializer func(store *Store) (bridge.State, error)

// Listener receives the full entries (methods included) after each
// change.
type Listener func(entries bridge.State)

// StoreOptions configures a Store.
type StoreOptions struct {
	// Logger receives lifecycle messages. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store is the host's mutable state container.
type Store struct {
	logger *slog.Logger

	mu        sync.Mutex
	entries   bridge.State
	listeners []*subscription
	disposed  bool
}

type subscription struct {
	listener Listener
}

// NewStore runs initializer and returns the store. An initializer that
// fails or panics fails construction.
func NewStore(initializer Initializer, options StoreOptions) (store *Store, err error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store = &Store{logger: logger, entries: bridge.State{}}

	defer func() {
		if recovered := recover(); recovered != nil {
			store = nil
			err = fmt.Errorf("host: store initializer panicked: %v", recovered)
		}
	}()

	initial, err := initializer(store)
	if err != nil {
		return nil, fmt.Errorf("host: store initializer: %w", err)
	}
	for key, value := range initial {
		if !bridge.ValidName(key) {
			return nil, fmt.Errorf("host: store initializer: invalid key %q", key)
		}
		if _, ok := bridge.AsMethod(value); !ok && bridge.IsFunc(value) {
			return nil, fmt.Errorf("host: store initializer: %q is a %T, not a bridge.Method", key, value)
		}
	}

	store.mu.Lock()
	store.entries = store.entries.Merge(initial)
	store.mu.Unlock()

	logger.Debug("store initialized",
		"fields", len(bridge.StateOnly(initial)),
		"methods", len(bridge.MethodNames(initial)),
	)
	return store, nil
}

// GetState returns a shallow copy of the current entries, methods
// included.
func (s *Store) GetState() bridge.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Clone()
}

// Snapshot returns the state-only projection: what a guest sees.
func (s *Store) Snapshot() bridge.State {
	return bridge.StateOnly(s.GetState())
}

// Method returns the named method. The console sink is never returned.
func (s *Store) Method(name string) (bridge.Method, bool) {
	if name == bridge.ConsoleMethod {
		return nil, false
	}
	s.mu.Lock()
	value, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return bridge.AsMethod(value)
}

// MethodNames returns the sorted method names.
func (s *Store) MethodNames() []string {
	return bridge.MethodNames(s.GetState())
}

// SetState shallow-merges partial into the entries and notifies every
// subscriber with the result before returning.
func (s *Store) SetState(partial bridge.State) {
	s.Update(func(bridge.State) bridge.State { return partial })
}

// Update computes a partial state from the current entries and merges
// it, atomically with respect to other writers. updater runs with the
// store locked and must not call back into the store. A nil or empty
// result still notifies subscribers.
func (s *Store) Update(updater func(current bridge.State) bridge.State) {
	s.mu.Lock()
	partial := s.dropUncallable(updater(s.entries.Clone()))
	s.entries = s.entries.Merge(partial)
	next := s.entries.Clone()
	listeners := make([]*subscription, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, subscription := range listeners {
		subscription.listener(next)
	}
}

// dropUncallable removes function values that are not Methods from
// partial. Methods are defined by the initializer; a later write can
// only replace one with another Method.
func (s *Store) dropUncallable(partial bridge.State) bridge.State {
	var dropped []string
	for key, value := range partial {
		if _, ok := bridge.AsMethod(value); !ok && bridge.IsFunc(value) {
			dropped = append(dropped, key)
		}
	}
	if len(dropped) == 0 {
		return partial
	}
	kept := partial.Clone()
	for _, key := range dropped {
		delete(kept, key)
		s.logger.Error("store write ignored: function value is not a bridge.Method",
			"key", key,
			"type", fmt.Sprintf("%T", partial[key]),
		)
	}
	return kept
}

// Subscribe registers listener and returns a function that removes it.
// Removing a listener during a notification does not affect that
// notification.
func (s *Store) Subscribe(listener Listener) (unsubscribe func()) {
	entry := &subscription{listener: listener}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		s.logger.Warn("subscribe on disposed store ignored")
		return func() {}
	}
	s.listeners = append(s.listeners, entry)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, existing := range s.listeners {
				if existing == entry {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Dispose removes every subscriber. State remains readable and
// writable; later changes notify no one.
func (s *Store) Dispose() {
	s.mu.Lock()
	s.listeners = nil
	s.disposed = true
	s.mu.Unlock()
}
