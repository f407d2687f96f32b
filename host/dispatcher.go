// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/statebridge/bridge"
	"github.com/bureau-foundation/statebridge/envelope"
	"github.com/bureau-foundation/statebridge/lib/clock"
	"github.com/bureau-foundation/statebridge/lib/codec"
	"github.com/bureau-foundation/statebridge/lib/digest"
	"github.com/bureau-foundation/statebridge/transport"
)

// sendTimeout bounds a single outbound message.
const sendTimeout = 10 * time.Second

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Format is the envelope encoding. Defaults to JSON.
	Format codec.Format

	// Broadcast selects the snapshot strategy. Defaults to
	// BroadcastImmediate.
	Broadcast BroadcastMode

	// Debounce is the quiet window for BroadcastDebounced. Defaults to
	// DefaultDebounce.
	Debounce time.Duration

	// MaxConcurrentCalls is how many host methods may run at once.
	// Defaults to 1, which serializes every call.
	MaxConcurrentCalls int

	// Console receives guest console records. Defaults to
	// LogConsole(Logger).
	Console ConsoleSink

	// Clock drives the debounce timer. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Dispatcher serves one guest channel from one store.
type Dispatcher struct {
	store   *Store
	channel transport.Channel
	options DispatcherOptions
	logger  *slog.Logger

	// lifetime bounds sends that have no caller context (broadcasts
	// triggered by store changes). Cancelled by Close.
	lifetime context.Context
	cancel   context.CancelFunc

	// sendMu orders outbound messages. State snapshots are read under
	// it, so the last snapshot sent is never older than one sent
	// before it.
	sendMu   sync.Mutex
	lastSent digest.Snapshot

	debounce    *debouncer
	unsubscribe func()
	serving     atomic.Bool
	closeOnce   sync.Once
}

// Attach wires store to channel and subscribes to store changes. The
// dispatcher owns channel from here on. Call Serve to start answering
// calls.
func Attach(store *Store, channel transport.Channel, options DispatcherOptions) *Dispatcher {
	if options.Format == "" {
		options.Format = codec.JSON
	}
	if options.Debounce <= 0 {
		options.Debounce = DefaultDebounce
	}
	if options.MaxConcurrentCalls < 1 {
		options.MaxConcurrentCalls = 1
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if options.Console == nil {
		options.Console = LogConsole(logger)
	}

	lifetime, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:    store,
		channel:  channel,
		options:  options,
		logger:   logger,
		lifetime: lifetime,
		cancel:   cancel,
	}
	if options.Broadcast == BroadcastDebounced {
		d.debounce = newDebouncer(options.Clock, options.Debounce, func() {
			d.sendState(d.lifetime, false)
		})
	}
	d.unsubscribe = store.Subscribe(func(bridge.State) {
		d.Broadcast(false)
	})
	return d
}

// Serve announces the session and answers calls until the guest
// disconnects, ctx is cancelled, or Close is called. A guest going away
// is a clean shutdown and returns nil.
func (d *Dispatcher) Serve(ctx context.Context) error {
	if !d.serving.CompareAndSwap(false, true) {
		return fmt.Errorf("host: dispatcher is already serving")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(d.lifetime, cancel)
	defer stop()

	calls := startExecutor(ctx, d.options.MaxConcurrentCalls)
	defer calls.stop()

	if err := d.Announce(ctx); err != nil {
		return err
	}
	d.logger.Info("bridge session started",
		"methods", len(d.store.MethodNames()),
		"broadcast", d.options.Broadcast.String(),
	)

	for {
		message, err := d.channel.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || transport.IsClosed(err) {
				d.logger.Info("bridge session ended", "reason", endReason(ctx, err))
				return nil
			}
			return fmt.Errorf("host: receiving: %w", err)
		}
		d.handleMessage(ctx, calls, message)
	}
}

func endReason(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "shutdown"
	}
	if errors.Is(err, net.ErrClosed) {
		return "channel closed"
	}
	return "guest disconnected"
}

// Announce sends the ready envelope (method names and state) followed
// by a forced state snapshot. Call it again when the guest reloads.
func (d *Dispatcher) Announce(ctx context.Context) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	entries := d.store.GetState()
	ready := &envelope.Ready{Methods: bridge.MethodNames(entries), State: bridge.StateOnly(entries)}
	if err := d.sendLocked(ctx, ready); err != nil {
		return fmt.Errorf("host: announcing: %w", err)
	}
	if err := d.sendStateLocked(ctx, true); err != nil {
		return fmt.Errorf("host: announcing: %w", err)
	}
	return nil
}

// Broadcast sends the current state-only snapshot. In debounced mode an
// unforced broadcast waits for the quiet window and is skipped when
// nothing changed; force sends immediately either way.
func (d *Dispatcher) Broadcast(force bool) {
	if d.debounce != nil {
		if !force {
			d.debounce.trigger()
			return
		}
		d.debounce.cancel()
	}
	d.sendState(d.lifetime, force)
}

func (d *Dispatcher) sendState(ctx context.Context, force bool) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	if err := d.sendStateLocked(ctx, force); err != nil {
		d.logger.Debug("state broadcast failed", "error", err)
	}
}

func (d *Dispatcher) sendStateLocked(ctx context.Context, force bool) error {
	state := d.store.Snapshot()

	if d.debounce != nil {
		snapshot, err := digest.Of(state)
		if err != nil {
			return fmt.Errorf("digesting state: %w", err)
		}
		if !force && snapshot.Equal(d.lastSent) {
			d.logger.Debug("state broadcast skipped, unchanged")
			return nil
		}
		if err := d.sendLocked(ctx, &envelope.State{State: state}); err != nil {
			return err
		}
		d.lastSent = snapshot
		return nil
	}
	return d.sendLocked(ctx, &envelope.State{State: state})
}

// send encodes and transmits one envelope.
func (d *Dispatcher) send(ctx context.Context, message envelope.Envelope) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	return d.sendLocked(ctx, message)
}

func (d *Dispatcher) sendLocked(ctx context.Context, message envelope.Envelope) error {
	data, err := envelope.Encode(d.options.Format, message)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return d.channel.Send(ctx, data)
}

func (d *Dispatcher) handleMessage(ctx context.Context, calls *executor, data []byte) {
	message, err := envelope.Decode(d.options.Format, data)
	if err != nil {
		d.logger.Debug("dropping malformed message", "error", err, "size", len(data))
		return
	}

	switch message := message.(type) {
	case *envelope.Call:
		if message.Method == bridge.ConsoleMethod {
			d.handleConsoleCall(ctx, message)
			return
		}
		if err := calls.submit(ctx, func(ctx context.Context) { d.handleCall(ctx, message) }); err != nil {
			d.logger.Debug("call dropped at shutdown", "method", message.Method, "id", message.ID)
		}
	case *envelope.Console:
		d.options.Console(message.Level, message.Args)
	default:
		d.logger.Debug("ignoring host-bound message of unexpected type", "type", message.Type())
	}
}

// handleConsoleCall serves the console sink invoked as a method:
// args are (level, ...rest). It replies but never broadcasts.
func (d *Dispatcher) handleConsoleCall(ctx context.Context, call *envelope.Call) {
	level := "log"
	args := call.Args
	if len(args) > 0 {
		if text, ok := args[0].(string); ok {
			level = text
		}
		args = args[1:]
	}
	d.options.Console(level, args)
	d.respond(ctx, call, envelope.Success(call.ID, nil))
}

func (d *Dispatcher) handleCall(ctx context.Context, call *envelope.Call) {
	method, ok := d.store.Method(call.Method)
	if !ok {
		d.logger.Debug("call to unknown method", "method", call.Method, "id", call.ID)
		d.respond(ctx, call, envelope.Failure(call.ID, bridge.MethodNotFound(call.Method)))
	} else {
		start := time.Now()
		result, err := d.invoke(ctx, call.Method, method, call.Args)
		if err != nil {
			d.logger.Debug("host method failed",
				"method", call.Method,
				"id", call.ID,
				"duration", time.Since(start),
				"error", err,
			)
			d.respond(ctx, call, envelope.Failure(call.ID, err))
		} else {
			d.logger.Debug("host method completed",
				"method", call.Method,
				"id", call.ID,
				"duration", time.Since(start),
			)
			d.respond(ctx, call, envelope.Success(call.ID, result))
		}
	}
	d.Broadcast(false)
}

// invoke runs method, converting a panic into a host method error.
func (d *Dispatcher) invoke(ctx context.Context, name string, method bridge.Method, args []any) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("host method panicked",
				"method", name,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			result = nil
			err = bridge.HostMethod(name, fmt.Sprint(recovered))
		}
	}()

	result, err = method(ctx, args)
	if err != nil {
		var bridgeErr *bridge.Error
		if errors.As(err, &bridgeErr) {
			return nil, err
		}
		return nil, bridge.HostMethod(name, err.Error())
	}
	return result, nil
}

// respond sends a response, replacing an unencodable result with a
// failure so the call still completes.
func (d *Dispatcher) respond(ctx context.Context, call *envelope.Call, response *envelope.Response) {
	err := d.send(ctx, response)
	if err != nil && response.OK {
		var bridgeErr *bridge.Error
		if !errors.As(err, &bridgeErr) && !isChannelError(err) {
			d.logger.Warn("host method result is not serializable",
				"method", call.Method,
				"error", err,
			)
			err = d.send(ctx, envelope.Failure(call.ID,
				bridge.HostMethod(call.Method, "result is not serializable: "+err.Error())))
		}
	}
	if err != nil {
		d.logger.Debug("response not delivered", "method", call.Method, "id", call.ID, "error", err)
	}
}

func isChannelError(err error) bool {
	return transport.IsClosed(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Close stops broadcasting, unsubscribes from the store, and closes the
// channel. Serve returns.
func (d *Dispatcher) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.unsubscribe()
		if d.debounce != nil {
			d.debounce.stop()
		}
		d.cancel()
		err = d.channel.Close()
	})
	return err
}
