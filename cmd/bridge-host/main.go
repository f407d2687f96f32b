// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/statebridge/bridge"
	"github.com/bureau-foundation/statebridge/guest"
	"github.com/bureau-foundation/statebridge/host"
	"github.com/bureau-foundation/statebridge/internal/cli"
	"github.com/bureau-foundation/statebridge/lib/config"
	"github.com/bureau-foundation/statebridge/lib/process"
	"github.com/bureau-foundation/statebridge/lib/version"
	"github.com/bureau-foundation/statebridge/statedb"
	"github.com/bureau-foundation/statebridge/transport"
)

// defaultWebSocketPath is used when transport.url has no path.
const defaultWebSocketPath = "/bridge"

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

type flags struct {
	configPath   string
	transport    string
	socketPath   string
	listen       string
	stateDB      string
	initialState string
	broadcast    string
	resetAfter   time.Duration
	spawn        bool
	verbose      bool
}

// apply overrides cfg with the flags that were given.
func (f *flags) apply(cfg *config.Config) {
	if f.transport != "" {
		cfg.Transport.Kind = f.transport
	}
	if f.socketPath != "" {
		cfg.Transport.SocketPath = f.socketPath
	}
	if f.listen != "" {
		cfg.Transport.Listen = f.listen
	}
	if f.stateDB != "" {
		cfg.Host.StateDB = f.stateDB
	}
	if f.initialState != "" {
		cfg.Host.InitialState = f.initialState
	}
	if f.broadcast != "" {
		cfg.Host.Broadcast = f.broadcast
	}
}

func run() error {
	var options flags
	flagSet := pflag.NewFlagSet("bridge-host", pflag.ContinueOnError)
	flagSet.StringVar(&options.configPath, "config", "", "config file (default: $STATEBRIDGE_CONFIG, else built-in defaults)")
	flagSet.StringVar(&options.transport, "transport", "", "unix, websocket, or webrtc (overrides transport.kind)")
	flagSet.StringVar(&options.socketPath, "socket", "", "Unix socket path (overrides transport.socket_path)")
	flagSet.StringVar(&options.listen, "listen", "", "WebSocket listen address (overrides transport.listen)")
	flagSet.StringVar(&options.stateDB, "state-db", "", "SQLite file that keeps state across restarts")
	flagSet.StringVar(&options.initialState, "initial-state", "", "JSONC file with initial state fields")
	flagSet.StringVar(&options.broadcast, "broadcast", "", "immediate or debounced (overrides host.broadcast)")
	flagSet.DurationVar(&options.resetAfter, "reset-after", 0, "set count to 10 after this long (0 disables)")
	flagSet.BoolVar(&options.spawn, "spawn", false, "run the command after -- as the guest over a socketpair")
	flagSet.BoolVarP(&options.verbose, "verbose", "v", false, "log every call and broadcast")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("bridge-host")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	cfg, err := cli.LoadConfig(options.configPath)
	if err != nil {
		return err
	}
	options.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	logger := cli.NewCommandLogger(options.verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var initial bridge.State
	if cfg.Host.InitialState != "" {
		initial, err = config.LoadState(cfg.Host.InitialState)
		if err != nil {
			return err
		}
	}
	store, err := newCounterStore(initial, host.StoreOptions{Logger: logger})
	if err != nil {
		return err
	}
	defer store.Dispose()

	if cfg.Host.StateDB != "" {
		db, err := statedb.Open(statedb.Config{Path: cfg.Host.StateDB, Logger: logger})
		if err != nil {
			return err
		}
		defer db.Close()
		persister, err := host.Persist(ctx, store, db, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := persister.Close(); err != nil {
				logger.Error("saving state on exit failed", "error", err)
			}
		}()
	}

	if options.resetAfter > 0 {
		reset := time.AfterFunc(options.resetAfter, func() {
			store.SetState(bridge.State{"count": 10})
			logger.Info("count reset by timer", "count", 10)
		})
		defer reset.Stop()
	}

	dispatcherOptions, err := newDispatcherOptions(cfg, logger)
	if err != nil {
		return err
	}
	bridgeServer := &server{store: store, options: dispatcherOptions, logger: logger}

	if options.spawn {
		return bridgeServer.runSpawned(ctx, flagSet.Args())
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s (use --spawn to run a guest command)", args[0])
	}

	switch cfg.Transport.Kind {
	case config.TransportUnix:
		return bridgeServer.serveUnix(ctx, cfg.Transport)
	case config.TransportWebSocket:
		return bridgeServer.serveWebSocket(ctx, cfg.Transport)
	case config.TransportWebRTC:
		return bridgeServer.runLoopback(ctx)
	default:
		return fmt.Errorf("unsupported transport %q", cfg.Transport.Kind)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `bridge-host - serve a counter store to statebridge guests

Usage:
  bridge-host [flags]
  bridge-host [flags] --spawn -- <guest command> [args...]

Examples:
  # Serve guests on the default Unix socket
  bridge-host

  # Serve web views over WebSocket, keeping state across restarts
  bridge-host --transport websocket --listen 127.0.0.1:7480 --state-db counter.db

  # Start the terminal guest as a child process over a socketpair
  bridge-host --spawn -- bridge-guest

  # Host and scripted guest in one process over a WebRTC data channel
  bridge-host --transport webrtc

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

func newDispatcherOptions(cfg *config.Config, logger *slog.Logger) (host.DispatcherOptions, error) {
	mode, err := host.ParseBroadcastMode(cfg.Host.Broadcast)
	if err != nil {
		return host.DispatcherOptions{}, err
	}
	format, err := cli.Format(cfg.Transport)
	if err != nil {
		return host.DispatcherOptions{}, err
	}
	return host.DispatcherOptions{
		Format:             format,
		Broadcast:          mode,
		Debounce:           cfg.Host.Debounce.Std(),
		MaxConcurrentCalls: cfg.Host.MaxConcurrentCalls,
		Logger:             logger,
	}, nil
}

// server runs one dispatcher per connected guest over a shared store.
type server struct {
	store    *host.Store
	options  host.DispatcherOptions
	logger   *slog.Logger
	sessions atomic.Int64
}

// serveGuest runs a bridge session on channel until the guest leaves or
// ctx ends.
func (s *server) serveGuest(ctx context.Context, channel transport.Channel) {
	logger := s.logger.With("session", s.sessions.Add(1))
	options := s.options
	options.Logger = logger

	dispatcher := host.Attach(s.store, channel, options)
	defer dispatcher.Close()
	if err := dispatcher.Serve(ctx); err != nil {
		logger.Warn("bridge session failed", "error", err)
	}
}

func (s *server) serveUnix(ctx context.Context, cfg config.TransportConfig) error {
	streamOptions, err := cli.StreamOptions(cfg)
	if err != nil {
		return err
	}
	listener, err := transport.ListenUnix(cfg.SocketPath, streamOptions)
	if err != nil {
		return err
	}
	s.logger.Info("bridge host listening",
		"transport", config.TransportUnix,
		"socket", listener.Path(),
		"compression", streamOptions.Compression.String(),
	)
	return listener.Serve(ctx, func(channel transport.Channel) {
		s.serveGuest(ctx, channel)
	})
}

func (s *server) serveWebSocket(ctx context.Context, cfg config.TransportConfig) error {
	path := defaultWebSocketPath
	if parsed, err := url.Parse(cfg.URL); err == nil && parsed.Path != "" {
		path = parsed.Path
	}

	mux := http.NewServeMux()
	mux.Handle(path, transport.WebSocketHandler(func(channel transport.Channel) {
		s.serveGuest(ctx, channel)
	}, s.logger))
	httpServer := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}
	s.logger.Info("bridge host listening",
		"transport", config.TransportWebSocket,
		"address", listener.Addr().String(),
		"path", path,
	)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// runSpawned starts command with one end of a socketpair as descriptor
// 3 and serves it until the command exits.
func (s *server) runSpawned(ctx context.Context, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("--spawn requires a guest command after --")
	}

	channel, file, err := transport.SocketPair()
	if err != nil {
		return err
	}

	child := exec.Command(command[0], command[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.ExtraFiles = []*os.File{file}
	child.Env = append(os.Environ(), cli.ChannelFDEnv+"=3")
	if err := child.Start(); err != nil {
		file.Close()
		channel.Close()
		return fmt.Errorf("starting guest: %w", err)
	}
	file.Close()
	s.logger.Info("guest started", "command", command[0], "pid", child.Process.Pid)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		s.serveGuest(sessionCtx, channel)
	}()

	stopForwarding := context.AfterFunc(ctx, func() {
		child.Process.Signal(syscall.SIGTERM)
	})
	defer stopForwarding()

	err = child.Wait()
	cancel()
	<-sessionDone
	if err != nil {
		return err
	}
	s.logger.Info("guest exited")
	return nil
}

// runLoopback connects an in-process guest over a WebRTC data channel
// and increases the count once a second.
func (s *server) runLoopback(ctx context.Context) error {
	hostEnd, guestEnd, err := transport.WebRTCPair(ctx)
	if err != nil {
		return err
	}
	go s.serveGuest(ctx, hostEnd)

	guestLogger := s.logger.With("side", "guest")
	runtime := guest.NewRuntime(guest.RuntimeOptions{Format: s.options.Format, Logger: guestLogger})
	defer runtime.Close()
	if err := runtime.Attach(guestEnd); err != nil {
		return err
	}
	client, err := guest.NewClient(runtime, guest.ClientOptions{Logger: guestLogger})
	if err != nil {
		return err
	}
	defer client.Close()

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	mode, err := client.Wait(waitCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("loopback guest did not find the host: %w", err)
	}
	guestLogger.Info("loopback guest attached", "mode", mode.String(), "methods", client.Methods())

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := client.Call(ctx, "increase"); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				guestLogger.Warn("increase failed", "error", err, "kind", string(bridge.KindOf(err)))
				continue
			}
			count, _ := client.Get("count")
			guestLogger.Info("count", "value", count)
		}
	}
}
