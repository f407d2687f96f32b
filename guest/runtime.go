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

	"github.com/google/uuid"

	"github.com/bureau-foundation/statebridge/bridge"
	"github.com/bureau-foundation/statebridge/envelope"
	"github.com/bureau-foundation/statebridge/lib/clock"
	"github.com/bureau-foundation/statebridge/lib/codec"
	"github.com/bureau-foundation/statebridge/transport"
)

const (
	// DefaultCallTimeout applies to calls issued without a timeout.
	DefaultCallTimeout = 30 * time.Second

	// DefaultSweepInterval is how often expired calls are swept.
	DefaultSweepInterval = 30 * time.Second
)

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	// Format is the envelope encoding. Defaults to JSON.
	Format codec.Format

	// CallTimeout defaults to DefaultCallTimeout.
	CallTimeout time.Duration

	// SweepInterval defaults to DefaultSweepInterval.
	SweepInterval time.Duration

	// Debug enables logging of dropped malformed messages.
	Debug bool

	// Clock drives deadlines and the sweep. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// UpdateKind identifies what changed in a runtime's mirror.
type UpdateKind int

const (
	// UpdateReady follows a ready message: methods and state replaced.
	UpdateReady UpdateKind = iota

	// UpdateState follows a state broadcast.
	UpdateState

	// UpdateDisconnected follows the loss of the host channel.
	UpdateDisconnected
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateReady:
		return "ready"
	case UpdateState:
		return "state"
	case UpdateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("UpdateKind(%d)", int(k))
	}
}

// Update describes a mirror change delivered to subscribers.
type Update struct {
	Kind    UpdateKind
	Methods []string
	State   bridge.State
}

type callResult struct {
	value any
	err   error
}

type pendingCall struct {
	id       string
	method   string
	created  time.Time
	deadline time.Time
	timer    *clock.Timer
	result   chan callResult

	// cancelSend releases a Send still blocked when the call settles.
	cancelSend context.CancelFunc
}

// Runtime is the guest's connection to a host.
type Runtime struct {
	options RuntimeOptions
	logger  *slog.Logger

	lifetime context.Context
	cancel   context.CancelFunc

	mu         sync.Mutex
	channel    transport.Channel
	readerDone chan struct{}
	pending    map[string]*pendingCall
	methods    []string
	hasMethods bool
	state      bridge.State
	listeners  []*runtimeListener
	sweep      *clock.Timer
	closed     bool
}

type runtimeListener struct {
	fn func(Update)
}

// NewRuntime returns a runtime with no host attached. Calls fail with
// bridge.ErrTransportUnavailable until Attach.
func NewRuntime(options RuntimeOptions) *Runtime {
	if options.Format == "" {
		options.Format = codec.JSON
	}
	if options.CallTimeout <= 0 {
		options.CallTimeout = DefaultCallTimeout
	}
	if options.SweepInterval <= 0 {
		options.SweepInterval = DefaultSweepInterval
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lifetime, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		options:  options,
		logger:   logger,
		lifetime: lifetime,
		cancel:   cancel,
		pending:  make(map[string]*pendingCall),
		state:    bridge.State{},
	}
	r.mu.Lock()
	r.armSweepLocked()
	r.mu.Unlock()
	return r
}

// Attach connects the runtime to a host channel and starts reading
// from it. The runtime owns channel until it disconnects or Close.
func (r *Runtime) Attach(channel transport.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("guest: runtime is closed")
	}
	if r.channel != nil {
		return fmt.Errorf("guest: a host channel is already attached")
	}
	r.channel = channel
	r.readerDone = make(chan struct{})
	go r.read(channel, r.readerDone)
	return nil
}

// HasHost reports whether a host channel is attached and has announced
// its methods.
func (r *Runtime) HasHost() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel != nil && r.hasMethods
}

// Methods returns the host method names from the last ready message.
func (r *Runtime) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.methods)
}

// HasMethod reports whether the host announced name.
func (r *Runtime) HasMethod(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.methods, name)
}

// State returns a copy of the last state received from the host.
func (r *Runtime) State() bridge.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Pending returns the number of calls awaiting a response.
func (r *Runtime) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Subscribe registers fn for mirror changes. fn runs on the reader
// goroutine and must not block.
func (r *Runtime) Subscribe(fn func(Update)) (unsubscribe func()) {
	entry := &runtimeListener{fn: fn}
	r.mu.Lock()
	r.listeners = append(r.listeners, entry)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.listeners = slices.DeleteFunc(r.listeners, func(existing *runtimeListener) bool {
				return existing == entry
			})
		})
	}
}

// Call invokes method on the host and waits for its result. A timeout
// of zero or less uses the runtime's CallTimeout. Every failure is a
// *bridge.Error: transport unavailable (nothing was sent), timeout,
// teardown, cancellation of ctx, or whatever the host reported.
func (r *Runtime) Call(ctx context.Context, method string, args []any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = r.options.CallTimeout
	}
	if args == nil {
		args = []any{}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, bridge.Teardown(method)
	}
	channel := r.channel
	if channel == nil {
		r.mu.Unlock()
		return nil, bridge.TransportUnavailable(method)
	}
	id := uuid.NewString()
	for r.pending[id] != nil {
		id = uuid.NewString()
	}
	now := r.options.Clock.Now()
	call := &pendingCall{
		id:       id,
		method:   method,
		created:  now,
		deadline: now.Add(timeout),
		result:   make(chan callResult, 1),
	}
	sendCtx, cancelSend := context.WithCancel(ctx)
	call.cancelSend = cancelSend
	call.timer = r.options.Clock.AfterFunc(timeout, func() {
		r.settle(id, callResult{err: bridge.Timeout(method)})
	})
	r.pending[id] = call
	r.mu.Unlock()

	data, err := envelope.Encode(r.options.Format, &envelope.Call{ID: id, Method: method, Args: args})
	if err != nil {
		r.settle(id, callResult{err: notSent(method, err)})
	} else {
		// The deadline covers the send: a host that stops reading must
		// not hold the caller past its timeout.
		go func() {
			defer cancelSend()
			if err := channel.Send(sendCtx, data); err != nil {
				r.settle(id, callResult{err: notSent(method, err)})
			}
		}()
	}

	select {
	case result := <-call.result:
		return result.value, result.err
	case <-ctx.Done():
		r.settle(id, callResult{err: bridge.Canceled(method, ctx.Err())})
		result := <-call.result
		return result.value, result.err
	}
}

func notSent(method string, err error) *bridge.Error {
	failure := bridge.TransportUnavailable(method)
	failure.Message = fmt.Sprintf("bridge call %s not sent: %v", method, err)
	failure.Cause = err
	return failure
}

// settle completes the pending call id with result. It reports false
// when the call was already settled.
func (r *Runtime) settle(id string, result callResult) bool {
	r.mu.Lock()
	call, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	call.timer.Stop()
	if call.cancelSend != nil {
		call.cancelSend()
	}
	call.result <- result
	if result.err != nil && bridge.KindOf(result.err) == bridge.KindTimeout {
		r.logger.Debug("bridge call timed out",
			"method", call.method,
			"id", id,
			"elapsed", r.options.Clock.Now().Sub(call.created),
		)
	}
	return true
}

// SendConsole forwards a console record to the host. Records are
// fire-and-forget: nothing is awaited.
func (r *Runtime) SendConsole(ctx context.Context, level string, args []any) error {
	r.mu.Lock()
	channel := r.channel
	r.mu.Unlock()
	if channel == nil {
		return bridge.TransportUnavailable(bridge.ConsoleMethod)
	}
	data, err := envelope.Encode(r.options.Format, &envelope.Console{Level: level, Args: args})
	if err != nil {
		return err
	}
	return channel.Send(ctx, data)
}

func (r *Runtime) armSweepLocked() {
	r.sweep = r.options.Clock.AfterFunc(r.options.SweepInterval, r.sweepExpired)
}

// sweepExpired rejects calls whose deadline has passed and re-arms
// itself.
func (r *Runtime) sweepExpired() {
	now := r.options.Clock.Now()
	var expired []*pendingCall

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	for _, call := range r.pending {
		if !call.deadline.After(now) {
			expired = append(expired, call)
		}
	}
	r.armSweepLocked()
	r.mu.Unlock()

	for _, call := range expired {
		if r.settle(call.id, callResult{err: bridge.Timeout(call.method)}) {
			r.logger.Debug("swept expired bridge call", "method", call.method, "id", call.id)
		}
	}
}

func (r *Runtime) read(channel transport.Channel, done chan struct{}) {
	defer close(done)
	for {
		data, err := channel.Receive(r.lifetime)
		if err != nil {
			r.disconnect(channel, err)
			return
		}
		r.handleMessage(data)
	}
}

func (r *Runtime) handleMessage(data []byte) {
	message, err := envelope.Decode(r.options.Format, data)
	if err != nil {
		if r.options.Debug {
			r.logger.Debug("dropping malformed message", "error", err, "size", len(data))
		}
		return
	}

	switch message := message.(type) {
	case *envelope.Ready:
		r.mu.Lock()
		r.methods = slices.Clone(message.Methods)
		r.hasMethods = true
		r.state = message.State.Clone()
		r.mu.Unlock()
		r.logger.Debug("host ready", "methods", len(message.Methods))
		r.notify(Update{Kind: UpdateReady, Methods: slices.Clone(message.Methods), State: message.State.Clone()})
	case *envelope.State:
		r.mu.Lock()
		r.state = message.State.Clone()
		methods := slices.Clone(r.methods)
		r.mu.Unlock()
		r.notify(Update{Kind: UpdateState, Methods: methods, State: message.State.Clone()})
	case *envelope.Response:
		r.mu.Lock()
		call, ok := r.pending[message.ID]
		r.mu.Unlock()
		if !ok {
			r.logger.Debug("ignoring response for unknown call", "id", message.ID)
			return
		}
		if message.OK {
			r.settle(message.ID, callResult{value: message.Result})
		} else {
			r.settle(message.ID, callResult{err: message.Err(call.method)})
		}
	default:
		if r.options.Debug {
			r.logger.Debug("ignoring guest-bound message of unexpected type", "type", message.Type())
		}
	}
}

// disconnect detaches channel after its reader stopped and fails the
// calls that can no longer be answered.
func (r *Runtime) disconnect(channel transport.Channel, cause error) {
	r.mu.Lock()
	if r.channel != channel {
		r.mu.Unlock()
		return
	}
	r.channel = nil
	r.hasMethods = false
	closed := r.closed
	pending := make([]*pendingCall, 0, len(r.pending))
	for _, call := range r.pending {
		pending = append(pending, call)
	}
	r.mu.Unlock()

	channel.Close()
	if closed {
		return
	}

	if transport.IsClosed(cause) {
		r.logger.Info("host disconnected")
	} else {
		r.logger.Warn("host channel failed", "error", cause)
	}
	for _, call := range pending {
		failure := bridge.TransportUnavailable(call.method)
		failure.Cause = cause
		r.settle(call.id, callResult{err: failure})
	}
	r.notify(Update{Kind: UpdateDisconnected})
}

func (r *Runtime) notify(update Update) {
	r.mu.Lock()
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()
	for _, listener := range listeners {
		listener.fn(update)
	}
}

// Close rejects every pending call with bridge.ErrTeardown, stops the
// sweep, and closes the host channel.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pending := make([]*pendingCall, 0, len(r.pending))
	for _, call := range r.pending {
		pending = append(pending, call)
	}
	channel := r.channel
	readerDone := r.readerDone
	sweep := r.sweep
	r.mu.Unlock()

	for _, call := range pending {
		r.settle(call.id, callResult{err: bridge.Teardown(call.method)})
	}
	if sweep != nil {
		sweep.Stop()
	}
	r.cancel()

	var err error
	if channel != nil {
		err = channel.Close()
		<-readerDone
	}
	return err
}
