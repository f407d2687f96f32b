// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/statebridge/lib/testutil"
)

func TestWebSocketRoundTrip(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	accepted := make(chan Channel, 1)
	release := make(chan struct{})
	server := httptest.NewServer(WebSocketHandler(func(channel Channel) {
		accepted <- channel
		<-release
	}, logger))
	defer server.Close()
	defer close(release)

	ctx := testContext(t)
	client, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(server.URL, "http")+"/bridge")
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer client.Close()

	host := testutil.RequireReceive(t, accepted, 5*time.Second, "websocket accept")
	defer host.Close()

	exchange(t, client, host, []string{`{"type":"call","id":"a","method":"increase","args":[]}`})
	exchange(t, host, client, []string{`{"type":"response","id":"a","ok":true,"result":null}`, `{"type":"state","state":{"count":1}}`})

	host.Close()
	if _, err := client.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Receive after host close = %v, want io.EOF", err)
	}
}

func TestDialWebSocketFailure(t *testing.T) {
	server := httptest.NewServer(nil)
	defer server.Close()

	_, err := DialWebSocket(testContext(t), "ws"+strings.TrimPrefix(server.URL, "http")+"/missing")
	if err == nil {
		t.Fatal("expected dial to a non-websocket endpoint to fail")
	}
}
