// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/statebridge/bridge"
	"github.com/bureau-foundation/statebridge/guest"
	"github.com/bureau-foundation/statebridge/internal/cli"
	"github.com/bureau-foundation/statebridge/lib/process"
	"github.com/bureau-foundation/statebridge/lib/version"
)

func main() {
	if err := run(); err != nil {
		var bridgeErr *bridge.Error
		if errors.As(err, &bridgeErr) {
			process.Exit(err, 2)
		}
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath string
		transport  string
		socketPath string
		url        string
		timeout    time.Duration
		showState  bool
		verbose    bool
	)
	flagSet := pflag.NewFlagSet("bridge-call", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (default: $STATEBRIDGE_CONFIG, else built-in defaults)")
	flagSet.StringVar(&transport, "transport", "", "unix or websocket (overrides transport.kind)")
	flagSet.StringVar(&socketPath, "socket", "", "host Unix socket (overrides transport.socket_path)")
	flagSet.StringVar(&url, "url", "", "host WebSocket URL (overrides transport.url)")
	flagSet.DurationVar(&timeout, "timeout", 10*time.Second, "overall deadline for connecting and calling")
	flagSet.BoolVar(&showState, "state", false, "print the host state instead of calling a method")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log bridge activity to stderr")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("bridge-call")
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

	args := flagSet.Args()
	if !showState && len(args) == 0 {
		printHelp(flagSet)
		return fmt.Errorf("method name required")
	}
	if showState && len(args) > 0 {
		return fmt.Errorf("--state takes no arguments")
	}

	cfg, err := cli.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if transport != "" {
		cfg.Transport.Kind = transport
	}
	if socketPath != "" {
		cfg.Transport.SocketPath = socketPath
	}
	if url != "" {
		cfg.Transport.URL = url
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	format, err := cli.Format(cfg.Transport)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if verbose {
		logger = cli.NewCommandLogger(true)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	channel, err := cli.DialHost(ctx, cfg.Transport)
	if err != nil {
		return err
	}
	runtime := guest.NewRuntime(guest.RuntimeOptions{
		Format:      format,
		CallTimeout: cfg.Guest.CallTimeout.Std(),
		Logger:      logger,
	})
	defer runtime.Close()
	if err := runtime.Attach(channel); err != nil {
		channel.Close()
		return err
	}

	client, err := guest.NewClient(runtime, guest.ClientOptions{
		Timeout:      timeout,
		PollInterval: cfg.Guest.PollInterval.Std(),
		PollAttempts: cfg.Guest.PollAttempts,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for the host announcement: %w", err)
	}

	if showState {
		return printJSON(os.Stdout, client.State())
	}
	result, err := client.Call(ctx, args[0], parseArgs(args[1:])...)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, result)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `bridge-call - call one method on a bridge host

Usage:
  bridge-call [flags] <method> [args...]
  bridge-call [flags] --state

Each argument is decoded as JSON; anything that is not valid JSON is
passed as a string.

Examples:
  bridge-call increase
  bridge-call sum 1 2 3
  bridge-call --transport websocket --url ws://127.0.0.1:7480/bridge getCount
  bridge-call --state

Exit status is 2 when the host reports an error, 1 for anything else.

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

// parseArgs decodes each argument as JSON, keeping it as a string when
// it is not JSON.
func parseArgs(args []string) []any {
	values := make([]any, 0, len(args))
	for _, arg := range args {
		var value any
		if err := json.Unmarshal([]byte(arg), &value); err != nil {
			value = arg
		}
		values = append(values, value)
	}
	return values
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
