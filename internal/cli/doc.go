// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli holds what the statebridge binaries share: the command
// logger, configuration loading, and opening a guest channel from the
// transport configuration.
package cli
