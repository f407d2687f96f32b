// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// webSocketCloseTimeout bounds the close handshake on Close.
const webSocketCloseTimeout = time.Second

// WebSocketChannel carries one message per WebSocket text frame.
type WebSocketChannel struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	inbox   *inbox

	closeOnce sync.Once
	closeErr  error
}

var _ Channel = (*WebSocketChannel)(nil)

// NewWebSocketChannel wraps an established connection. The channel owns
// conn.
func NewWebSocketChannel(conn *websocket.Conn) *WebSocketChannel {
	channel := &WebSocketChannel{conn: conn}
	channel.inbox = startInbox(channel.read)
	return channel
}

func (c *WebSocketChannel) read() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *WebSocketChannel) Send(ctx context.Context, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	c.conn.SetWriteDeadline(deadline)
	defer interruptWrite(ctx, c.conn.SetWriteDeadline)()
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		return fmt.Errorf("transport: writing websocket message: %w", err)
	}
	return nil
}

func (c *WebSocketChannel) Receive(ctx context.Context) ([]byte, error) {
	return c.inbox.receive(ctx)
}

// Close sends a normal-closure frame and closes the connection.
func (c *WebSocketChannel) Close() error {
	c.closeOnce.Do(func() {
		c.inbox.close()
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bridge closed"),
			time.Now().Add(webSocketCloseTimeout))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// WebSocketHandler upgrades each request and hands the resulting
// channel to accept. The handler returns when accept returns; accept
// owns the channel.
func WebSocketHandler(accept func(Channel), logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	upgrader := websocket.Upgrader{
		// Guests are local web views and renderers, often served from
		// file:// or a custom scheme with no meaningful Origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "remote", request.RemoteAddr, "error", err)
			return
		}
		logger.Debug("websocket guest connected", "remote", request.RemoteAddr)
		accept(NewWebSocketChannel(conn))
	})
}

// DialWebSocket connects to a host's WebSocket endpoint.
func DialWebSocket(ctx context.Context, url string) (*WebSocketChannel, error) {
	conn, response, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %s)", url, err, response.Status)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return NewWebSocketChannel(conn), nil
}
