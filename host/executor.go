// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"sync"
)

// executorQueue is how many calls may wait for a worker before the
// dispatcher stops reading from the channel.
const executorQueue = 64

// executor runs host method calls on a fixed set of worker goroutines.
// With one worker, calls run one at a time in arrival order.
type executor struct {
	jobs    chan func(context.Context)
	quit    chan struct{}
	workers sync.WaitGroup
}

func startExecutor(ctx context.Context, workers int) *executor {
	if workers < 1 {
		workers = 1
	}
	e := &executor{
		jobs: make(chan func(context.Context), executorQueue),
		quit: make(chan struct{}),
	}
	for range workers {
		e.workers.Add(1)
		go e.loop(ctx)
	}
	return e
}

func (e *executor) loop(ctx context.Context) {
	defer e.workers.Done()
	for {
		select {
		case job := <-e.jobs:
			job(ctx)
		case <-e.quit:
			return
		}
	}
}

// submit queues job, blocking while the queue is full.
func (e *executor) submit(ctx context.Context, job func(context.Context)) error {
	select {
	case e.jobs <- job:
		return nil
	case <-e.quit:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop lets running jobs finish and discards queued ones.
func (e *executor) stop() {
	close(e.quit)
	e.workers.Wait()
}
