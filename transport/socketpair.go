// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MaxPacketSize is the largest message a PacketChannel carries. It fits
// within the kernel's default socket buffer limit, so a send never
// fails with EMSGSIZE on an untuned host. Hosts with larger state
// should use a StreamChannel.
const MaxPacketSize = 128 << 10

// PacketChannel carries one message per SOCK_SEQPACKET packet. The
// kernel preserves message boundaries, so no framing is needed.
type PacketChannel struct {
	conn *net.UnixConn

	writeMu sync.Mutex
	inbox   *inbox

	closeOnce sync.Once
	closeErr  error
}

var _ Channel = (*PacketChannel)(nil)

// SocketPair creates a connected SOCK_SEQPACKET pair. The returned
// channel is the host's end. The file is the guest's end, suitable for
// exec.Cmd.ExtraFiles; the caller closes it once the child has started.
func SocketPair() (*PacketChannel, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: socketpair: %w", err)
	}
	for _, fd := range fds {
		// Best effort: the kernel clamps to its configured maximum.
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, 2*MaxPacketSize)
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, 2*MaxPacketSize)
	}

	local := os.NewFile(uintptr(fds[0]), "statebridge-host")
	remote := os.NewFile(uintptr(fds[1]), "statebridge-guest")

	channel, err := FileChannel(local)
	if err != nil {
		remote.Close()
		return nil, nil, err
	}
	return channel, remote, nil
}

// FileChannel wraps an inherited SOCK_SEQPACKET socket, such as the
// guest end of SocketPair received by a child process. It takes
// ownership of file.
func FileChannel(file *os.File) (*PacketChannel, error) {
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("transport: wrapping %s: %w", file.Name(), err)
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("transport: %s is not a unix socket", file.Name())
	}

	channel := &PacketChannel{conn: unixConn}
	channel.inbox = startInbox(channel.readPacket)
	return channel, nil
}

func (c *PacketChannel) readPacket() ([]byte, error) {
	buffer := make([]byte, MaxPacketSize+1)
	n, _, flags, _, err := c.conn.ReadMsgUnix(buffer, nil)
	if err != nil {
		return nil, err
	}
	// Senders never write empty packets, so a zero-length read is the
	// peer's shutdown.
	if n == 0 {
		return nil, io.EOF
	}
	if flags&unix.MSG_TRUNC != 0 || n > MaxPacketSize {
		return nil, fmt.Errorf("transport: received packet larger than %d bytes", MaxPacketSize)
	}
	return buffer[:n], nil
}

func (c *PacketChannel) Send(ctx context.Context, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(message) == 0 {
		return fmt.Errorf("transport: empty message")
	}
	if len(message) > MaxPacketSize {
		return fmt.Errorf("transport: message of %d bytes exceeds packet limit of %d", len(message), MaxPacketSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	c.conn.SetWriteDeadline(deadline)
	if _, err := c.conn.Write(message); err != nil {
		return fmt.Errorf("transport: writing packet: %w", err)
	}
	return nil
}

func (c *PacketChannel) Receive(ctx context.Context) ([]byte, error) {
	return c.inbox.receive(ctx)
}

func (c *PacketChannel) Close() error {
	c.closeOnce.Do(func() {
		c.inbox.close()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
