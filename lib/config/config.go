// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for shipped builds.
	Production Environment = "production"
)

// Broadcast modes for HostConfig.Broadcast.
const (
	BroadcastImmediate = "immediate"
	BroadcastDebounced = "debounced"
)

// Transport kinds for TransportConfig.Kind.
const (
	TransportUnix      = "unix"
	TransportWebSocket = "websocket"
	TransportWebRTC    = "webrtc"
)

// Config is the master configuration for a bridge host or guest.
type Config struct {
	// Environment identifies the deployment type (development, production).
	Environment Environment `yaml:"environment" toml:"environment" json:"environment"`

	// Host configures the store and dispatcher.
	Host HostConfig `yaml:"host" toml:"host" json:"host"`

	// Guest configures the runtime shim and client facade.
	Guest GuestConfig `yaml:"guest" toml:"guest" json:"guest"`

	// Transport configures the channel between host and guest.
	Transport TransportConfig `yaml:"transport" toml:"transport" json:"transport"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty" toml:"development,omitempty" json:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty" toml:"production,omitempty" json:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
// Pointer booleans distinguish "not set" from "set to false".
type ConfigOverrides struct {
	Broadcast   string   `yaml:"broadcast,omitempty" toml:"broadcast,omitempty" json:"broadcast,omitempty"`
	Debounce    Duration `yaml:"debounce,omitempty" toml:"debounce,omitempty" json:"debounce,omitempty"`
	CallTimeout Duration `yaml:"call_timeout,omitempty" toml:"call_timeout,omitempty" json:"call_timeout,omitempty"`
	Debug       *bool    `yaml:"debug,omitempty" toml:"debug,omitempty" json:"debug,omitempty"`
	SocketPath  string   `yaml:"socket_path,omitempty" toml:"socket_path,omitempty" json:"socket_path,omitempty"`
	Listen      string   `yaml:"listen,omitempty" toml:"listen,omitempty" json:"listen,omitempty"`
	StateDB     string   `yaml:"state_db,omitempty" toml:"state_db,omitempty" json:"state_db,omitempty"`
}

// HostConfig configures the host side.
type HostConfig struct {
	// Broadcast selects when state snapshots are sent: "immediate"
	// sends one per store notification, "debounced" coalesces bursts.
	// Default: immediate
	Broadcast string `yaml:"broadcast" toml:"broadcast" json:"broadcast"`

	// Debounce is the coalescing window for debounced broadcast.
	// Default: 16ms
	Debounce Duration `yaml:"debounce" toml:"debounce" json:"debounce"`

	// MaxConcurrentCalls bounds how many host methods run at once.
	// Default: 1 (methods are serialized)
	MaxConcurrentCalls int `yaml:"max_concurrent_calls" toml:"max_concurrent_calls" json:"max_concurrent_calls"`

	// StateDB is a SQLite file the store is restored from at startup
	// and saved to on every change. Empty disables persistence.
	StateDB string `yaml:"state_db" toml:"state_db" json:"state_db"`

	// InitialState is a JSONC file whose fields seed the store.
	InitialState string `yaml:"initial_state" toml:"initial_state" json:"initial_state"`
}

// GuestConfig configures the guest side.
type GuestConfig struct {
	// CallTimeout is the runtime's default per-call deadline.
	// Default: 30s
	CallTimeout Duration `yaml:"call_timeout" toml:"call_timeout" json:"call_timeout"`

	// FacadeTimeout is the client facade's default per-call deadline.
	// Default: 5s
	FacadeTimeout Duration `yaml:"facade_timeout" toml:"facade_timeout" json:"facade_timeout"`

	// SweepInterval is how often stale pending calls are collected.
	// Default: 30s
	SweepInterval Duration `yaml:"sweep_interval" toml:"sweep_interval" json:"sweep_interval"`

	// PollInterval and PollAttempts bound host discovery.
	// Default: 20ms, 500 attempts
	PollInterval Duration `yaml:"poll_interval" toml:"poll_interval" json:"poll_interval"`
	PollAttempts int      `yaml:"poll_attempts" toml:"poll_attempts" json:"poll_attempts"`

	// TreatFallbackAsReady marks the facade ready once it settles
	// into fallback mode.
	// Default: true
	TreatFallbackAsReady bool `yaml:"treat_fallback_as_ready" toml:"treat_fallback_as_ready" json:"treat_fallback_as_ready"`

	// AllowPromotion lets a facade in fallback mode switch to bridge
	// mode if a host attaches later.
	// Default: false
	AllowPromotion bool `yaml:"allow_promotion" toml:"allow_promotion" json:"allow_promotion"`

	// Debug forwards guest log records to the host console sink.
	// Default: false
	Debug bool `yaml:"debug" toml:"debug" json:"debug"`

	// FallbackState is a JSONC file holding the state used when no
	// host is attached.
	FallbackState string `yaml:"fallback_state" toml:"fallback_state" json:"fallback_state"`
}

// TransportConfig configures the channel.
type TransportConfig struct {
	// Kind is one of "unix", "websocket", "webrtc".
	// Default: unix
	Kind string `yaml:"kind" toml:"kind" json:"kind"`

	// SocketPath is the Unix socket for the unix transport.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/statebridge.sock
	SocketPath string `yaml:"socket_path" toml:"socket_path" json:"socket_path"`

	// Listen is the host's HTTP listen address for the websocket
	// transport.
	// Default: 127.0.0.1:7480
	Listen string `yaml:"listen" toml:"listen" json:"listen"`

	// URL is the guest's dial target for the websocket transport.
	// Default: ws://127.0.0.1:7480/bridge
	URL string `yaml:"url" toml:"url" json:"url"`

	// Encoding is the envelope encoding on stream channels: "json" or
	// "cbor". WebSocket and WebRTC always carry JSON.
	// Default: json
	Encoding string `yaml:"encoding" toml:"encoding" json:"encoding"`

	// Compression is applied to stream frames at or above
	// CompressionThreshold bytes: "none", "lz4", or "zstd".
	// Default: none, 4096
	Compression          string `yaml:"compression" toml:"compression" json:"compression"`
	CompressionThreshold int    `yaml:"compression_threshold" toml:"compression_threshold" json:"compression_threshold"`
}

// Duration is a time.Duration that decodes from a Go duration string
// ("16ms", "30s") in YAML, TOML, and JSON alike.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the default configuration. Loaded files are decoded
// on top of it, so absent fields keep these values.
func Default() *Config {
	return &Config{
		Environment: Development,
		Host: HostConfig{
			Broadcast:          BroadcastImmediate,
			Debounce:           Duration(16 * time.Millisecond),
			MaxConcurrentCalls: 1,
		},
		Guest: GuestConfig{
			CallTimeout:          Duration(30 * time.Second),
			FacadeTimeout:        Duration(5 * time.Second),
			SweepInterval:        Duration(30 * time.Second),
			PollInterval:         Duration(20 * time.Millisecond),
			PollAttempts:         500,
			TreatFallbackAsReady: true,
			AllowPromotion:       false,
			Debug:                false,
		},
		Transport: TransportConfig{
			Kind:                 TransportUnix,
			SocketPath:           "${XDG_RUNTIME_DIR:-/tmp}/statebridge.sock",
			Listen:               "127.0.0.1:7480",
			URL:                  "ws://127.0.0.1:7480/bridge",
			Encoding:             "json",
			Compression:          "none",
			CompressionThreshold: 4096,
		},
	}
}

// Load loads configuration from the STATEBRIDGE_CONFIG environment
// variable. If it is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("STATEBRIDGE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("STATEBRIDGE_CONFIG environment variable not set; " +
			"set it to the path of your statebridge config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadOrDefault loads path, or STATEBRIDGE_CONFIG when path is empty.
// With neither set it returns the defaults, with environment overrides
// and variables applied as if they had been loaded from a file.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("STATEBRIDGE_CONFIG")
	}
	if path != "" {
		return LoadFile(path)
	}
	cfg := Default()
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile decodes path on top of the current config, choosing the
// parser by extension.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .toml, or .jsonc)", filepath.Ext(path))
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		// Production never forwards guest logs unless asked to.
		c.Guest.Debug = false
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Broadcast != "" {
		c.Host.Broadcast = overrides.Broadcast
	}
	if overrides.Debounce != 0 {
		c.Host.Debounce = overrides.Debounce
	}
	if overrides.CallTimeout != 0 {
		c.Guest.CallTimeout = overrides.CallTimeout
	}
	if overrides.Debug != nil {
		c.Guest.Debug = *overrides.Debug
	}
	if overrides.SocketPath != "" {
		c.Transport.SocketPath = overrides.SocketPath
	}
	if overrides.Listen != "" {
		c.Transport.Listen = overrides.Listen
	}
	if overrides.StateDB != "" {
		c.Host.StateDB = overrides.StateDB
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Transport.SocketPath = expandVars(c.Transport.SocketPath, vars)
	c.Host.StateDB = expandVars(c.Host.StateDB, vars)
	c.Host.InitialState = expandVars(c.Host.InitialState, vars)
	c.Guest.FallbackState = expandVars(c.Guest.FallbackState, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if !contains([]string{BroadcastImmediate, BroadcastDebounced}, c.Host.Broadcast) {
		errs = append(errs, fmt.Errorf("host.broadcast must be %q or %q", BroadcastImmediate, BroadcastDebounced))
	}
	if c.Host.Broadcast == BroadcastDebounced && c.Host.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("host.debounce must be positive in debounced mode"))
	}
	if c.Host.MaxConcurrentCalls < 1 {
		errs = append(errs, fmt.Errorf("host.max_concurrent_calls must be at least 1"))
	}

	if c.Guest.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("guest.call_timeout must be positive"))
	}
	if c.Guest.FacadeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("guest.facade_timeout must be positive"))
	}
	if c.Guest.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("guest.sweep_interval must be positive"))
	}
	if c.Guest.PollInterval <= 0 || c.Guest.PollAttempts < 1 {
		errs = append(errs, fmt.Errorf("guest.poll_interval and guest.poll_attempts must be positive"))
	}

	if !contains([]string{TransportUnix, TransportWebSocket, TransportWebRTC}, c.Transport.Kind) {
		errs = append(errs, fmt.Errorf("transport.kind must be one of: unix, websocket, webrtc"))
	}
	if c.Transport.Kind == TransportUnix && c.Transport.SocketPath == "" {
		errs = append(errs, fmt.Errorf("transport.socket_path is required for the unix transport"))
	}
	if !contains([]string{"json", "cbor"}, c.Transport.Encoding) {
		errs = append(errs, fmt.Errorf("transport.encoding must be json or cbor"))
	}
	if !contains([]string{"none", "lz4", "zstd"}, c.Transport.Compression) {
		errs = append(errs, fmt.Errorf("transport.compression must be one of: none, lz4, zstd"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

// LoadState reads a JSONC file holding a single object and returns its
// fields. Comments and trailing commas are permitted.
func LoadState(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseState(data)
}

// ParseState decodes a JSONC object into a state map.
func ParseState(data []byte) (map[string]any, error) {
	var state map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &state); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if state == nil {
		return nil, fmt.Errorf("parsing state: document is not an object")
	}
	return state, nil
}
