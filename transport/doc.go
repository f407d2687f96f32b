// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport moves whole messages between a bridge host and
// guest.
//
// The bridge core needs only a [Channel]: send one message, receive the
// next one, close. Messages are delivered whole and in order per
// direction. Nothing here understands envelopes; the host and guest
// packages encode and decode them.
//
// Implementations:
//
//   - [Pipe] connects two in-process endpoints. An optional drop
//     function makes it lossy for tests.
//   - [StreamChannel] frames messages over any byte stream with a
//     4-byte length and a compression tag (none, lz4, zstd). [ListenUnix]
//     and [DialUnix] use it over Unix sockets.
//   - [SocketPair] creates a SOCK_SEQPACKET pair for a host that spawns
//     its guest as a child process; the child opens its end with
//     [FileChannel].
//   - [WebSocketHandler] and [DialWebSocket] carry one message per
//     WebSocket text frame, the shape a browser-based guest speaks.
//   - [NewDataChannel] wraps a pion WebRTC data channel; [WebRTCPair]
//     builds a connected loopback pair for local use and tests.
//
// Receive honors its context on every implementation: blocking reads run
// on a per-channel reader goroutine. Receive returns io.EOF once the
// peer has closed and everything it sent has been read, and
// net.ErrClosed after the local side closes.
package transport
