// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/statebridge/guest"
	"github.com/bureau-foundation/statebridge/host"
	"github.com/bureau-foundation/statebridge/lib/codec"
	"github.com/bureau-foundation/statebridge/lib/config"
	"github.com/bureau-foundation/statebridge/lib/testutil"
	"github.com/bureau-foundation/statebridge/transport"
)

func TestFlagsApply(t *testing.T) {
	cfg := config.Default()
	(&flags{}).apply(cfg)
	if *cfg != *config.Default() {
		t.Error("empty flags changed the config")
	}

	options := flags{
		transport:    config.TransportWebSocket,
		socketPath:   "/run/test.sock",
		listen:       "127.0.0.1:9000",
		stateDB:      "/var/lib/counter.db",
		initialState: "initial.jsonc",
		broadcast:    "debounced",
	}
	options.apply(cfg)
	if cfg.Transport.Kind != config.TransportWebSocket ||
		cfg.Transport.SocketPath != "/run/test.sock" ||
		cfg.Transport.Listen != "127.0.0.1:9000" ||
		cfg.Host.StateDB != "/var/lib/counter.db" ||
		cfg.Host.InitialState != "initial.jsonc" ||
		cfg.Host.Broadcast != "debounced" {
		t.Errorf("flags not applied: %+v %+v", cfg.Transport, cfg.Host)
	}
}

func TestNewDispatcherOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Host.Broadcast = "debounced"
	cfg.Host.Debounce = config.Duration(40 * time.Millisecond)
	cfg.Host.MaxConcurrentCalls = 4
	cfg.Transport.Encoding = "cbor"

	options, err := newDispatcherOptions(cfg, nil)
	if err != nil {
		t.Fatalf("newDispatcherOptions: %v", err)
	}
	if options.Broadcast != host.BroadcastDebounced {
		t.Errorf("Broadcast = %v, want debounced", options.Broadcast)
	}
	if options.Debounce != 40*time.Millisecond {
		t.Errorf("Debounce = %v, want 40ms", options.Debounce)
	}
	if options.MaxConcurrentCalls != 4 {
		t.Errorf("MaxConcurrentCalls = %d, want 4", options.MaxConcurrentCalls)
	}
	if options.Format != codec.CBOR {
		t.Errorf("Format = %q, want cbor", options.Format)
	}

	cfg.Host.Broadcast = "sometimes"
	if _, err := newDispatcherOptions(cfg, nil); err == nil {
		t.Error("unknown broadcast mode accepted")
	}
}

func TestRunSpawnedRequiresCommand(t *testing.T) {
	s := &server{logger: slog.New(slog.DiscardHandler)}
	if err := s.runSpawned(context.Background(), nil); err == nil {
		t.Error("runSpawned without a command should fail")
	}
}

func TestServeUnix(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store, err := newCounterStore(nil, host.StoreOptions{Logger: logger})
	if err != nil {
		t.Fatalf("newCounterStore: %v", err)
	}
	s := &server{store: store, options: host.DispatcherOptions{Logger: logger}, logger: logger}

	socketPath := filepath.Join(testutil.SocketDir(t), "host.sock")
	cfg := config.Default().Transport
	cfg.SocketPath = socketPath

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- s.serveUnix(ctx, cfg) }()

	var channel transport.Channel
	deadline := time.Now().Add(5 * time.Second)
	for {
		dialed, err := transport.DialUnix(ctx, socketPath, transport.StreamOptions{})
		if err == nil {
			channel = dialed
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("host never listened: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	runtime := guest.NewRuntime(guest.RuntimeOptions{Logger: logger})
	if err := runtime.Attach(channel); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	client, err := guest.NewClient(runtime, guest.ClientOptions{Logger: logger})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	if mode, err := client.Wait(waitCtx); err != nil || mode != guest.ModeHost {
		t.Fatalf("Wait = %v, %v; want host", mode, err)
	}

	if _, err := client.Call(ctx, "increase"); err != nil {
		t.Fatalf("increase: %v", err)
	}
	result, err := client.Call(ctx, "getCount")
	if err != nil {
		t.Fatalf("getCount: %v", err)
	}
	if result != float64(1) {
		t.Errorf("getCount = %#v, want 1", result)
	}
	if got := currentCount(store); got != 1 {
		t.Errorf("host count = %d, want 1", got)
	}

	client.Close()
	runtime.Close()
	cancel()
	if err := testutil.RequireReceive(t, served, 5*time.Second, "serveUnix did not return"); err != nil {
		t.Errorf("serveUnix: %v", err)
	}
}
