// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bridge-call connects to a bridge host as a guest, calls one method,
// prints the JSON result, and exits. With --state it prints the host's
// state instead. Scripts use it to drive a host without a display.
package main
