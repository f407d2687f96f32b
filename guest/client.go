// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/statebridge/bridge"
	"github.com/bureau-foundation/statebridge/host"
	"github.com/bureau-foundation/statebridge/lib/clock"
)

const (
	// DefaultFacadeTimeout applies to calls made through a Client.
	DefaultFacadeTimeout = 5 * time.Second

	// DefaultPollInterval and DefaultPollAttempts bound host discovery
	// polling to about ten seconds.
	DefaultPollInterval = 20 * time.Millisecond
	DefaultPollAttempts = 500
)

// Mode is the session mode of a Client.
type Mode int

const (
	// ModeUndetermined: no host detected and no fallback configured.
	ModeUndetermined Mode = iota

	// ModeHost: calls go to the attached host and state mirrors it.
	ModeHost

	// ModeFallback: calls go to local fallback methods and state is
	// the fallback's.
	ModeFallback
)

func (m Mode) String() string {
	switch m {
	case ModeUndetermined:
		return "undetermined"
	case ModeHost:
		return "host"
	case ModeFallback:
		return "fallback"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Resolution is what a name refers to in the current mode.
type Resolution int

const (
	// ResolveUnknown: the name is neither a method nor a state field.
	ResolveUnknown Resolution = iota

	// ResolveMethod: a host method.
	ResolveMethod

	// ResolveFallback: a local fallback method, used with no host.
	ResolveFallback

	// ResolveState: a state field.
	ResolveState
)

func (r Resolution) String() string {
	switch r {
	case ResolveUnknown:
		return "unknown"
	case ResolveMethod:
		return "method"
	case ResolveFallback:
		return "fallback"
	case ResolveState:
		return "state"
	default:
		return fmt.Sprintf("Resolution(%d)", int(r))
	}
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Fallback builds the local state and methods used when no host is
	// attached. It has the same shape as a host initializer: fallback
	// methods capture the local store to read and write local state.
	// Nil means no fallback.
	Fallback host.Initializer

	// DeferFallbackReady keeps Ready false in fallback mode.
	DeferFallbackReady bool

	// AllowPromotion lets a host detected after fallback mode was
	// chosen take over the session.
	AllowPromotion bool

	// Timeout applies to host calls. Defaults to DefaultFacadeTimeout.
	Timeout time.Duration

	// PollInterval and PollAttempts bound discovery polling. They
	// default to DefaultPollInterval and DefaultPollAttempts.
	PollInterval time.Duration
	PollAttempts int

	// Clock drives polling. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client is the application-facing view of a bridge.
type Client struct {
	runtime *Runtime
	local   *host.Store
	options ClientOptions
	logger  *slog.Logger

	mu                 sync.Mutex
	mode               Mode
	done               chan struct{}
	poll               *clock.Timer
	attempts           int
	listeners          []*clientListener
	unsubscribeRuntime func()
	unsubscribeLocal   func()
	closed             bool
}

type clientListener struct {
	fn func()
}

// NewClient starts discovery over runtime. If the runtime already has a
// host the client starts in host mode; otherwise a configured fallback
// selects fallback mode; otherwise the client polls for a host and
// listens for its ready and state messages, whichever comes first.
func NewClient(runtime *Runtime, options ClientOptions) (*Client, error) {
	if options.Timeout <= 0 {
		options.Timeout = DefaultFacadeTimeout
	}
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultPollInterval
	}
	if options.PollAttempts <= 0 {
		options.PollAttempts = DefaultPollAttempts
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		runtime: runtime,
		options: options,
		logger:  logger,
		done:    make(chan struct{}),
	}

	if options.Fallback != nil {
		local, err := host.NewStore(options.Fallback, host.StoreOptions{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("guest: building fallback: %w", err)
		}
		c.local = local
		c.unsubscribeLocal = local.Subscribe(func(bridge.State) {
			if c.Mode() == ModeFallback {
				c.notify()
			}
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribeRuntime = runtime.Subscribe(c.onRuntimeUpdate)
	switch {
	case runtime.HasHost():
		c.promoteLocked("attached")
	case c.local != nil:
		c.mode = ModeFallback
		close(c.done)
		logger.Info("bridge running in fallback mode", "ready", !options.DeferFallbackReady)
		if options.AllowPromotion {
			c.armPollLocked()
		}
	default:
		c.armPollLocked()
	}
	return c, nil
}

// Mode returns the current session mode.
func (c *Client) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Ready reports whether application code can rely on the client: a
// host is attached, or fallback mode is active and not deferred.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode == ModeHost || (c.mode == ModeFallback && !c.options.DeferFallbackReady)
}

// Done is closed once the mode leaves ModeUndetermined.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until discovery settles or ctx ends and returns the
// current mode.
func (c *Client) Wait(ctx context.Context) (Mode, error) {
	select {
	case <-c.done:
		return c.Mode(), nil
	case <-ctx.Done():
		return c.Mode(), ctx.Err()
	}
}

// Subscribe registers fn to run after every change visible through
// the client: host state or methods, fallback state, or mode. It is
// the re-render hook for a user interface.
func (c *Client) Subscribe(fn func()) (unsubscribe func()) {
	entry := &clientListener{fn: fn}
	c.mu.Lock()
	c.listeners = append(c.listeners, entry)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.listeners = slices.DeleteFunc(c.listeners, func(existing *clientListener) bool {
				return existing == entry
			})
		})
	}
}

// Resolve reports what name refers to, in priority order: a host
// method, a fallback method (only without a host), a state field.
func (c *Client) Resolve(name string) Resolution {
	mode := c.Mode()
	if mode == ModeHost && c.runtime.HasMethod(name) {
		return ResolveMethod
	}
	if mode != ModeHost && c.local != nil {
		if _, ok := c.local.Method(name); ok {
			return ResolveFallback
		}
	}
	if _, ok := c.State()[name]; ok {
		return ResolveState
	}
	return ResolveUnknown
}

// State returns the state visible in the current mode.
func (c *Client) State() bridge.State {
	if c.Mode() == ModeFallback {
		return c.local.Snapshot()
	}
	return c.runtime.State()
}

// Get returns a state field. Unknown names report false; they are not
// an error.
func (c *Client) Get(name string) (any, bool) {
	value, ok := c.State()[name]
	return value, ok
}

// Methods returns the callable names in the current mode.
func (c *Client) Methods() []string {
	switch c.Mode() {
	case ModeHost:
		return c.runtime.Methods()
	case ModeFallback:
		return c.local.MethodNames()
	default:
		return nil
	}
}

// Call invokes name with args: on the host with the client's timeout
// when it is a host method, locally when it is a fallback method.
func (c *Client) Call(ctx context.Context, name string, args ...any) (any, error) {
	switch c.Resolve(name) {
	case ResolveMethod:
		return c.runtime.Call(ctx, name, args, c.options.Timeout)
	case ResolveFallback:
		method, _ := c.local.Method(name)
		return c.callFallback(ctx, name, method, args)
	}
	if c.Mode() == ModeHost {
		return nil, bridge.MethodNotFound(name)
	}
	return nil, bridge.TransportUnavailable(name)
}

func (c *Client) callFallback(ctx context.Context, name string, method bridge.Method, args []any) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error("fallback method panicked", "method", name, "panic", recovered)
			result = nil
			err = bridge.HostMethod(name, fmt.Sprint(recovered))
		}
	}()
	return method(ctx, args)
}

// Set always fails: state belongs to the host.
func (c *Client) Set(name string, value any) error {
	c.logger.Warn("Bridge state is read-only on guest", "key", name)
	return &bridge.Error{Kind: bridge.KindReadOnly, Method: name, Message: "Bridge state is read-only on guest"}
}

// Close stops discovery and detaches from the runtime. The runtime
// itself stays open.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.poll != nil {
		c.poll.Stop()
		c.poll = nil
	}
	c.listeners = nil
	c.mu.Unlock()

	c.unsubscribeRuntime()
	if c.unsubscribeLocal != nil {
		c.unsubscribeLocal()
	}
}

func (c *Client) canPromoteLocked() bool {
	if c.closed {
		return false
	}
	return c.mode == ModeUndetermined || (c.mode == ModeFallback && c.options.AllowPromotion)
}

func (c *Client) promoteLocked(via string) {
	previous := c.mode
	c.mode = ModeHost
	if c.poll != nil {
		c.poll.Stop()
		c.poll = nil
	}
	if previous == ModeUndetermined {
		close(c.done)
	}
	c.logger.Info("bridge host attached", "via", via, "previous_mode", previous.String())
}

func (c *Client) onRuntimeUpdate(update Update) {
	c.mu.Lock()
	promoted := false
	if update.Kind != UpdateDisconnected && c.canPromoteLocked() && c.runtime.HasHost() {
		c.promoteLocked(update.Kind.String())
		promoted = true
	}
	mode := c.mode
	c.mu.Unlock()

	if promoted || mode == ModeHost {
		c.notify()
	}
}

func (c *Client) armPollLocked() {
	c.poll = c.options.Clock.AfterFunc(c.options.PollInterval, c.pollOnce)
}

func (c *Client) pollOnce() {
	c.mu.Lock()
	if !c.canPromoteLocked() {
		c.mu.Unlock()
		return
	}
	c.attempts++
	if c.runtime.HasHost() {
		c.promoteLocked("poll")
		c.mu.Unlock()
		c.notify()
		return
	}
	c.logger.Debug("bridge host not detected yet", "attempt", c.attempts)
	if c.attempts >= c.options.PollAttempts {
		c.poll = nil
		c.logger.Warn("bridge host not detected, polling stopped",
			"attempts", c.attempts,
			"mode", c.mode.String(),
		)
		c.mu.Unlock()
		return
	}
	c.armPollLocked()
	c.mu.Unlock()
}

func (c *Client) notify() {
	c.mu.Lock()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()
	for _, listener := range listeners {
		listener.fn()
	}
}
