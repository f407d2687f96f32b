// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/bureau-foundation/statebridge/lib/codec"
	"github.com/bureau-foundation/statebridge/lib/config"
	"github.com/bureau-foundation/statebridge/transport"
)

// ChannelFDEnv names the environment variable through which a host that
// spawned its guest passes the inherited socketpair descriptor.
const ChannelFDEnv = "STATEBRIDGE_CHANNEL_FD"

// LoadConfig loads path (or STATEBRIDGE_CONFIG, or the defaults) and
// validates the result.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Format returns the envelope encoding selected by cfg.
func Format(cfg config.TransportConfig) (codec.Format, error) {
	return codec.ParseFormat(cfg.Encoding)
}

// StreamOptions returns the framing options selected by cfg.
func StreamOptions(cfg config.TransportConfig) (transport.StreamOptions, error) {
	compression, err := transport.ParseCompression(cfg.Compression)
	if err != nil {
		return transport.StreamOptions{}, err
	}
	return transport.StreamOptions{
		Compression: compression,
		Threshold:   cfg.CompressionThreshold,
	}, nil
}

// DialHost opens the guest side of a channel to a host. A descriptor
// inherited through ChannelFDEnv takes precedence over cfg.
func DialHost(ctx context.Context, cfg config.TransportConfig) (transport.Channel, error) {
	if value := os.Getenv(ChannelFDEnv); value != "" {
		fd, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%s=%q: %w", ChannelFDEnv, value, err)
		}
		channel, err := transport.FileChannel(os.NewFile(uintptr(fd), "statebridge-channel"))
		if err != nil {
			return nil, fmt.Errorf("opening inherited channel: %w", err)
		}
		return channel, nil
	}

	switch cfg.Kind {
	case config.TransportUnix:
		options, err := StreamOptions(cfg)
		if err != nil {
			return nil, err
		}
		channel, err := transport.DialUnix(ctx, cfg.SocketPath, options)
		if err != nil {
			return nil, err
		}
		return channel, nil
	case config.TransportWebSocket:
		channel, err := transport.DialWebSocket(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return channel, nil
	default:
		return nil, fmt.Errorf("transport %q has no dialable endpoint; a %s host runs its guest in-process", cfg.Kind, cfg.Kind)
	}
}
