// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"
)

var counter atomic.Uint64

// UniqueID returns "prefix-N" with N increasing across the test binary.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, counter.Add(1))
}

// SocketDir creates a short-named directory under /tmp for Unix
// sockets and removes it when the test ends.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "statebridge-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(directory) })
	return directory
}
