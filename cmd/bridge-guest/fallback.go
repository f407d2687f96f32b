// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"math"

	"github.com/bureau-foundation/statebridge/bridge"
	"github.com/bureau-foundation/statebridge/host"
)

// localCounter returns the fallback used when no host answers: the
// given state plus increase and decrease methods on a local count.
func localCounter(initial bridge.State) host.Initializer {
	return func(store *host.Store) (bridge.State, error) {
		add := func(delta int) bridge.Method {
			return func(context.Context, []any) (any, error) {
				store.Update(func(current bridge.State) bridge.State {
					return bridge.State{"count": countOf(current["count"]) + delta}
				})
				return nil, nil
			}
		}
		result := bridge.StateOnly(initial)
		result["count"] = countOf(initial["count"])
		result["increase"] = add(1)
		result["decrease"] = add(-1)
		return result, nil
	}
}

// countOf reads a count that may have come back from JSON as a float.
func countOf(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	}
	return 0
}
