// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/statebridge/bridge"
)

// StateDB is the storage a Persister writes to. *statedb.DB satisfies
// it.
type StateDB interface {
	Load(ctx context.Context) (bridge.State, error)
	Save(ctx context.Context, state bridge.State) error
}

// Persister mirrors a store's state fields into a StateDB. Saves run on
// a background goroutine; when changes arrive faster than saves finish,
// only the latest snapshot is written.
type Persister struct {
	store  *Store
	db     StateDB
	logger *slog.Logger

	unsubscribe func()

	mu      sync.Mutex
	pending bridge.State
	wake    chan struct{}
	done    chan struct{}
	closed  bool
}

// Persist restores the stored state into store and starts saving every
// later change. Stored keys that name a method in store are ignored so
// a stale database can never replace a method with data.
func Persist(ctx context.Context, store *Store, db StateDB, logger *slog.Logger) (*Persister, error) {
	if logger == nil {
		logger = slog.Default()
	}

	stored, err := db.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("host: restoring state: %w", err)
	}
	restore := bridge.State{}
	for key, value := range stored {
		if _, isMethod := store.Method(key); isMethod || key == bridge.ConsoleMethod {
			logger.Warn("ignoring stored value for method name", "key", key)
			continue
		}
		restore[key] = value
	}
	if len(restore) > 0 {
		store.SetState(restore)
		logger.Info("state restored", "fields", len(restore))
	}

	p := &Persister{
		store:  store,
		db:     db,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	p.unsubscribe = store.Subscribe(func(entries bridge.State) {
		p.enqueue(bridge.StateOnly(entries))
	})
	go p.loop()
	return p, nil
}

func (p *Persister) enqueue(state bridge.State) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.pending = state
	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.mu.Unlock()
}

func (p *Persister) loop() {
	defer close(p.done)
	for range p.wake {
		p.flush()
	}
}

func (p *Persister) flush() {
	p.mu.Lock()
	state := p.pending
	p.pending = nil
	p.mu.Unlock()
	if state == nil {
		return
	}
	if err := p.db.Save(context.Background(), state); err != nil {
		p.logger.Error("saving state failed", "error", err)
	}
}

// Close stops watching the store and writes the final state.
func (p *Persister) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.wake)
	p.mu.Unlock()

	p.unsubscribe()
	<-p.done

	if err := p.db.Save(context.Background(), p.store.Snapshot()); err != nil {
		return fmt.Errorf("host: saving final state: %w", err)
	}
	return nil
}
