// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// Frame layout:
//
//	uint32  length of everything after this field (big-endian)
//	uint8   compression tag
//	uint32  uncompressed size (only when the tag is not none)
//	[]byte  body
const (
	frameLengthSize = 4
	frameSizeField  = 4
)

// DefaultCompressionThreshold is the smallest message StreamChannel
// compresses when compression is enabled.
const DefaultCompressionThreshold = 4096

// DefaultMaxMessageSize bounds a single message in either direction.
const DefaultMaxMessageSize = 64 << 20

// StreamOptions configures a StreamChannel.
type StreamOptions struct {
	// Compression applied to outgoing messages of at least Threshold
	// bytes. Incoming frames declare their own compression, so the two
	// ends need not agree.
	Compression Compression

	// Threshold defaults to DefaultCompressionThreshold.
	Threshold int

	// MaxMessageSize defaults to DefaultMaxMessageSize.
	MaxMessageSize int
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.Threshold <= 0 {
		o.Threshold = DefaultCompressionThreshold
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	return o
}

// StreamChannel frames messages over a byte stream.
type StreamChannel struct {
	conn    io.ReadWriteCloser
	options StreamOptions

	writeMu sync.Mutex
	inbox   *inbox

	closeOnce sync.Once
	closeErr  error
}

var _ Channel = (*StreamChannel)(nil)

// NewStreamChannel starts reading frames from conn. The channel owns
// conn and closes it on Close.
func NewStreamChannel(conn io.ReadWriteCloser, options StreamOptions) *StreamChannel {
	channel := &StreamChannel{conn: conn, options: options.withDefaults()}
	channel.inbox = startInbox(channel.readFrame)
	return channel
}

func (c *StreamChannel) Send(ctx context.Context, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(message) > c.options.MaxMessageSize {
		return fmt.Errorf("transport: message of %d bytes exceeds limit of %d", len(message), c.options.MaxMessageSize)
	}

	frame, err := c.encodeFrame(message)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadliner, ok := c.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		deadline, _ := ctx.Deadline()
		deadliner.SetWriteDeadline(deadline)
		defer interruptWrite(ctx, deadliner.SetWriteDeadline)()
	}
	if _, err := c.conn.Write(frame); err != nil {
		// A partially written frame leaves the stream unusable.
		c.Close()
		return fmt.Errorf("transport: writing frame: %w", err)
	}
	return nil
}

func (c *StreamChannel) Receive(ctx context.Context) ([]byte, error) {
	return c.inbox.receive(ctx)
}

func (c *StreamChannel) Close() error {
	c.closeOnce.Do(func() {
		c.inbox.close()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *StreamChannel) encodeFrame(message []byte) ([]byte, error) {
	compression := CompressionNone
	body := message
	if c.options.Compression != CompressionNone && len(message) >= c.options.Threshold {
		compressed, err := compress(message, c.options.Compression)
		switch {
		case err == nil:
			compression = c.options.Compression
			body = compressed
		case errors.Is(err, errIncompressible):
		default:
			return nil, fmt.Errorf("transport: %w", err)
		}
	}

	headerSize := frameLengthSize + 1
	if compression != CompressionNone {
		headerSize += frameSizeField
	}
	frame := make([]byte, headerSize, headerSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(headerSize-frameLengthSize+len(body)))
	frame[frameLengthSize] = byte(compression)
	if compression != CompressionNone {
		binary.BigEndian.PutUint32(frame[frameLengthSize+1:], uint32(len(message)))
	}
	return append(frame, body...), nil
}

func (c *StreamChannel) readFrame() ([]byte, error) {
	var lengthField [frameLengthSize]byte
	if _, err := io.ReadFull(c.conn, lengthField[:]); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint32(lengthField[:]))
	if length < 1 || length > c.options.MaxMessageSize+1+frameSizeField {
		return nil, fmt.Errorf("transport: invalid frame length %d", length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(c.conn, frame); err != nil {
		return nil, err
	}

	compression := Compression(frame[0])
	if compression == CompressionNone {
		return frame[1:], nil
	}
	if len(frame) < 1+frameSizeField {
		return nil, fmt.Errorf("transport: truncated %s frame", compression)
	}
	size := int(binary.BigEndian.Uint32(frame[1:]))
	if size > c.options.MaxMessageSize {
		return nil, fmt.Errorf("transport: message of %d bytes exceeds limit of %d", size, c.options.MaxMessageSize)
	}
	message, err := decompress(frame[1+frameSizeField:], compression, size)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	return message, nil
}

// UnixListener accepts bridge connections on a Unix socket.
type UnixListener struct {
	listener *net.UnixListener
	path     string
	options  StreamOptions
}

// ListenUnix binds path, removing a stale socket file first.
func ListenUnix(path string, options StreamOptions) (*UnixListener, error) {
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	return &UnixListener{listener: listener, path: path, options: options}, nil
}

// Path returns the socket path.
func (l *UnixListener) Path() string { return l.path }

// Serve accepts connections until ctx is cancelled or the listener is
// closed, handing each to accept on its own goroutine. It removes the
// socket file on return.
func (l *UnixListener) Serve(ctx context.Context, accept func(Channel)) error {
	defer l.Close()

	// Unblock Accept when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { l.listener.Close() })
	defer stop()

	var active sync.WaitGroup
	defer active.Wait()

	for {
		conn, err := l.listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting on %s: %w", l.path, err)
		}
		active.Add(1)
		go func() {
			defer active.Done()
			accept(NewStreamChannel(conn, l.options))
		}()
	}
}

// Close stops accepting and removes the socket file.
func (l *UnixListener) Close() error {
	err := l.listener.Close()
	if removeErr := removeStaleSocket(l.path); removeErr != nil && err == nil {
		err = removeErr
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// DialUnix connects to a host listening on path.
func DialUnix(ctx context.Context, path string, options StreamOptions) (*StreamChannel, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", path, err)
	}
	return NewStreamChannel(conn, options), nil
}

func removeStaleSocket(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	return nil
}
