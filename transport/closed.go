// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// closedErrors end a session without anything having gone wrong.
var closedErrors = []error{io.EOF, net.ErrClosed, io.ErrClosedPipe, syscall.EPIPE, syscall.ECONNRESET}

// IsClosed reports whether err from Send or Receive only means the
// channel is gone: the peer hung up, or this side closed it. Sessions
// end quietly on these. Stream sockets report a peer that exited
// without closing as EPIPE or ECONNRESET rather than EOF.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	for _, closed := range closedErrors {
		if errors.Is(err, closed) {
			return true
		}
	}
	return false
}
