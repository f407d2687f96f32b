// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/statebridge/guest"
	"github.com/bureau-foundation/statebridge/internal/cli"
	"github.com/bureau-foundation/statebridge/lib/codec"
	"github.com/bureau-foundation/statebridge/lib/config"
	"github.com/bureau-foundation/statebridge/lib/process"
	"github.com/bureau-foundation/statebridge/lib/version"
)

// dialTimeout bounds the initial connection attempt. A guest that
// cannot reach its host still starts, in fallback or waiting mode.
const dialTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

type flags struct {
	configPath    string
	transport     string
	socketPath    string
	url           string
	fallbackState string
	logFile       string
	debug         bool
	verbose       bool
}

func (f *flags) apply(cfg *config.Config) {
	if f.transport != "" {
		cfg.Transport.Kind = f.transport
	}
	if f.socketPath != "" {
		cfg.Transport.SocketPath = f.socketPath
	}
	if f.url != "" {
		cfg.Transport.URL = f.url
	}
	if f.fallbackState != "" {
		cfg.Guest.FallbackState = f.fallbackState
	}
	if f.debug {
		cfg.Guest.Debug = true
	}
}

func run() error {
	var options flags
	flagSet := pflag.NewFlagSet("bridge-guest", pflag.ContinueOnError)
	flagSet.StringVar(&options.configPath, "config", "", "config file (default: $STATEBRIDGE_CONFIG, else built-in defaults)")
	flagSet.StringVar(&options.transport, "transport", "", "unix or websocket (overrides transport.kind)")
	flagSet.StringVar(&options.socketPath, "socket", "", "host Unix socket (overrides transport.socket_path)")
	flagSet.StringVar(&options.url, "url", "", "host WebSocket URL (overrides transport.url)")
	flagSet.StringVar(&options.fallbackState, "fallback-state", "", "JSONC state for a local counter when no host answers")
	flagSet.StringVar(&options.logFile, "log-file", "", "write logs to this file (the display owns the terminal)")
	flagSet.BoolVar(&options.debug, "debug", false, "forward log records to the host console")
	flagSet.BoolVarP(&options.verbose, "verbose", "v", false, "include debug records in the log file")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("bridge-guest")
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
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := cli.LoadConfig(options.configPath)
	if err != nil {
		return err
	}
	options.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	format, err := cli.Format(cfg.Transport)
	if err != nil {
		return err
	}

	var inner slog.Handler = slog.DiscardHandler
	if options.logFile != "" {
		handler, closer, err := cli.NewFileHandler(options.logFile, options.verbose)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer closer.Close()
		inner = handler
	}

	runtime := guest.NewRuntime(runtimeOptions(cfg, format, slog.New(inner)))
	defer runtime.Close()
	logger := slog.New(guest.NewConsoleHandler(inner, runtime, cfg.Guest.Debug))
	slog.SetDefault(logger)

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	channel, err := cli.DialHost(dialCtx, cfg.Transport)
	cancel()
	if err != nil {
		logger.Warn("bridge host unavailable", "error", err)
	} else if err := runtime.Attach(channel); err != nil {
		channel.Close()
		return err
	}

	clientOpts, err := clientOptions(cfg, logger)
	if err != nil {
		return err
	}
	client, err := guest.NewClient(runtime, clientOpts)
	if err != nil {
		return err
	}
	defer client.Close()

	program := tea.NewProgram(newModel(client), tea.WithAltScreen())
	unsubscribe := client.Subscribe(func() {
		program.Send(stateChangedMsg{})
	})
	defer unsubscribe()

	_, err = program.Run()
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `bridge-guest - terminal view of a bridge-host counter

Usage:
  bridge-guest [flags]

Examples:
  # Connect to a host on the default Unix socket
  bridge-guest

  # Connect over WebSocket and forward logs to the host console
  bridge-guest --transport websocket --url ws://127.0.0.1:7480/bridge --debug

  # Run standalone with a local counter when no host is listening
  bridge-guest --fallback-state counter.jsonc

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

func runtimeOptions(cfg *config.Config, format codec.Format, logger *slog.Logger) guest.RuntimeOptions {
	return guest.RuntimeOptions{
		Format:        format,
		CallTimeout:   cfg.Guest.CallTimeout.Std(),
		SweepInterval: cfg.Guest.SweepInterval.Std(),
		Debug:         cfg.Guest.Debug,
		Logger:        logger,
	}
}

// clientOptions maps the guest config section onto the facade. The
// fallback is a local counter, present only when fallback_state is set.
func clientOptions(cfg *config.Config, logger *slog.Logger) (guest.ClientOptions, error) {
	options := guest.ClientOptions{
		DeferFallbackReady: !cfg.Guest.TreatFallbackAsReady,
		AllowPromotion:     cfg.Guest.AllowPromotion,
		Timeout:            cfg.Guest.FacadeTimeout.Std(),
		PollInterval:       cfg.Guest.PollInterval.Std(),
		PollAttempts:       cfg.Guest.PollAttempts,
		Logger:             logger,
	}
	if cfg.Guest.FallbackState != "" {
		initial, err := config.LoadState(cfg.Guest.FallbackState)
		if err != nil {
			return guest.ClientOptions{}, err
		}
		options.Fallback = localCounter(initial)
	}
	return options, nil
}
