// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"math"

	"github.com/bureau-foundation/statebridge/bridge"
	"github.com/bureau-foundation/statebridge/host"
)

// newCounterStore builds the demo store. initial seeds state fields
// (from --initial-state); count defaults to zero.
func newCounterStore(initial bridge.State, options host.StoreOptions) (*host.Store, error) {
	return host.NewStore(func(store *host.Store) (bridge.State, error) {
		entries := bridge.State{"count": 0}
		for key, value := range initial {
			if _, isMethod := bridge.AsMethod(value); isMethod {
				continue
			}
			entries[key] = value
		}
		count, err := asCount(entries["count"])
		if err != nil {
			return nil, err
		}
		entries["count"] = count

		entries["getCount"] = bridge.Method(func(context.Context, []any) (any, error) {
			return currentCount(store), nil
		})
		entries["increase"] = bridge.Method(func(context.Context, []any) (any, error) {
			addToCount(store, 1)
			return nil, nil
		})
		entries["decrease"] = bridge.Method(func(context.Context, []any) (any, error) {
			addToCount(store, -1)
			return nil, nil
		})
		entries["sum"] = bridge.Method(func(_ context.Context, args []any) (any, error) {
			var total float64
			for i, arg := range args {
				number, ok := arg.(float64)
				if !ok {
					return nil, fmt.Errorf("sum: argument %d is %T, not a number", i, arg)
				}
				total += number
			}
			return total, nil
		})
		return entries, nil
	}, options)
}

func currentCount(store *host.Store) int {
	count, _ := asCount(store.GetState()["count"])
	return count
}

func addToCount(store *host.Store, delta int) {
	store.Update(func(current bridge.State) bridge.State {
		count, _ := asCount(current["count"])
		return bridge.State{"count": count + delta}
	})
}

// asCount accepts the numeric forms a count arrives in: Go ints from
// the initializer and float64 from JSON (state files, the state
// database).
func asCount(value any) (int, error) {
	switch number := value.(type) {
	case nil:
		return 0, nil
	case int:
		return number, nil
	case int64:
		return int(number), nil
	case float64:
		if number != math.Trunc(number) {
			return 0, fmt.Errorf("count %v is not an integer", number)
		}
		return int(number), nil
	default:
		return 0, fmt.Errorf("count has type %T, want a number", value)
	}
}
