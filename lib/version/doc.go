// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the bridge binaries.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected with
// -ldflags -X and default to "unknown" / "0.1.0-dev" in development
// builds. [Protocol] is the wire protocol revision the host announces
// in its ready handshake; it changes only when envelope shapes change.
package version
