// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// Channel carries whole messages in both directions. Send and Receive
// may be called concurrently with each other; concurrent Sends are
// serialized and concurrent Receives each get a distinct message.
type Channel interface {
	// Send transmits one message. The channel does not retain message
	// after Send returns.
	Send(ctx context.Context, message []byte) error

	// Receive blocks until the next message arrives, the peer closes
	// (io.EOF), the channel is closed locally (net.ErrClosed), or ctx
	// ends.
	Receive(ctx context.Context) ([]byte, error)

	// Close releases the channel. Blocked Receives return
	// net.ErrClosed.
	Close() error
}

// inboxBuffer is how many decoded messages a reader goroutine holds
// before it stops reading from the underlying connection.
const inboxBuffer = 64

// inbox runs a blocking read function on its own goroutine so Receive
// can select on its context.
type inbox struct {
	messages chan []byte

	// done is closed when the reader stops; err is set before that.
	done chan struct{}
	err  error

	stop     chan struct{}
	stopOnce sync.Once
}

func startInbox(read func() ([]byte, error)) *inbox {
	in := &inbox{
		messages: make(chan []byte, inboxBuffer),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	go in.run(read)
	return in
}

func (in *inbox) run(read func() ([]byte, error)) {
	defer close(in.done)
	for {
		message, err := read()
		if err != nil {
			in.err = err
			return
		}
		select {
		case in.messages <- message:
		case <-in.stop:
			in.err = net.ErrClosed
			return
		}
	}
}

func (in *inbox) receive(ctx context.Context) ([]byte, error) {
	select {
	case <-in.stop:
		return nil, net.ErrClosed
	default:
	}

	select {
	case message := <-in.messages:
		return message, nil
	case <-in.done:
		// Deliver anything read before the reader stopped.
		select {
		case message := <-in.messages:
			return message, nil
		default:
		}
		return nil, in.finalError()
	case <-in.stop:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finalError maps the reader's terminal error onto the Channel
// contract.
func (in *inbox) finalError() error {
	select {
	case <-in.stop:
		return net.ErrClosed
	default:
	}
	if in.err == nil || errors.Is(in.err, io.EOF) || errors.Is(in.err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return in.err
}

func (in *inbox) close() {
	in.stopOnce.Do(func() { close(in.stop) })
}

// interruptWrite moves the write deadline into the past if ctx ends
// before release is called, failing a write blocked on a peer that has
// stopped reading.
func interruptWrite(ctx context.Context, setDeadline func(time.Time) error) (release func()) {
	var mu sync.Mutex
	released := false
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if !released {
			setDeadline(time.Now())
		}
	})
	return func() {
		stop()
		mu.Lock()
		released = true
		mu.Unlock()
	}
}
