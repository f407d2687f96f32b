// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
)

// PipeOptions configures Pipe.
type PipeOptions struct {
	// Drop is consulted for every message sent from either end. When it
	// returns true the message is discarded and Send still succeeds,
	// as on a lossy link.
	Drop func(message []byte) bool
}

// Pipe returns two connected in-memory channel endpoints. Queues are
// unbounded, so Send never blocks.
func Pipe(options PipeOptions) (*PipeEnd, *PipeEnd) {
	forward := newQueue()
	backward := newQueue()
	left := &PipeEnd{incoming: backward, outgoing: forward, drop: options.Drop, closed: make(chan struct{})}
	right := &PipeEnd{incoming: forward, outgoing: backward, drop: options.Drop, closed: make(chan struct{})}
	return left, right
}

// PipeEnd is one side of a Pipe.
type PipeEnd struct {
	incoming *queue
	outgoing *queue
	drop     func([]byte) bool

	closed    chan struct{}
	closeOnce sync.Once
}

var _ Channel = (*PipeEnd)(nil)

func (p *PipeEnd) Send(ctx context.Context, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.closed:
		return net.ErrClosed
	default:
	}
	if p.drop != nil && p.drop(message) {
		return nil
	}
	return p.outgoing.push(bytes.Clone(message))
}

func (p *PipeEnd) Receive(ctx context.Context) ([]byte, error) {
	return p.incoming.pop(ctx, p.closed)
}

// Close closes both directions. The peer drains what was already sent
// and then receives io.EOF.
func (p *PipeEnd) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.outgoing.close()
		p.incoming.close()
	})
	return nil
}

// queue is an unbounded FIFO with a single wakeup signal.
type queue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) push(message []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return io.ErrClosedPipe
	}
	q.items = append(q.items, message)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *queue) pop(ctx context.Context, localClosed <-chan struct{}) ([]byte, error) {
	for {
		select {
		case <-localClosed:
			return nil, net.ErrClosed
		default:
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			message := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				q.wake()
			}
			return message, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			// Pass the wakeup on to any other waiter.
			q.wake()
			return nil, io.EOF
		}

		select {
		case <-q.signal:
		case <-localClosed:
			return nil, net.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
