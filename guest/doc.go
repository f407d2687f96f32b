// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package guest is the guest side of a state bridge.
//
// [Runtime] is the primitive layer: it owns the channel to the host,
// issues calls with correlation ids and per-call deadlines, and keeps a
// mirror of the host's method names and state, replaced wholesale by
// every ready and state message. A background sweep rejects calls
// whose deadline passed without a timer firing, and [Runtime.Close]
// rejects everything still pending.
//
// [Client] is what application code uses. It resolves each name to a
// host method, a local fallback method, or a state field, and decides
// whether the session runs against a host or in fallback mode:
//
//	undetermined ──ready/state event or successful poll──▶ host
//	undetermined ──fallback configured──▶ fallback
//	fallback ──host detected, AllowPromotion──▶ host
//
// Discovery completion is awaitable through [Client.Wait] and
// [Client.Done]. Without a fallback and without a host the client stays
// undetermined, which is a valid steady state for a guest running
// standalone.
//
// [NewConsoleHandler] wraps a slog.Handler so that, in debug mode, guest
// log records are also forwarded to the host's console sink.
package guest
