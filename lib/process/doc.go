// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers for the statebridge
// binaries: reporting the error returned by run() to stderr, where the
// structured logger may not exist yet, and choosing the exit status.
package process
