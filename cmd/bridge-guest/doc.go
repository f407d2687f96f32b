// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bridge-guest is a terminal view of a bridge-host counter. It connects
// over the configured transport (or a descriptor inherited from
// bridge-host --spawn), mirrors the host's state, and calls increase or
// decrease on key presses.
//
// Without a host it falls back to a local counter when
// guest.fallback_state is set, and otherwise waits for a host to
// appear. Log output goes to --log-file; with guest.debug set, records
// are also forwarded to the host console.
package main
