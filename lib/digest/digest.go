// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest fingerprints state snapshots so a broadcaster can tell
// whether a snapshot differs from the last one it sent without holding
// a deep copy of it.
//
// Each top-level value is hashed independently (BLAKE3 over its
// canonical CBOR encoding). Two snapshots are shallowly equal when they
// have the same key set and the same per-key digest.
package digest

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/statebridge/lib/codec"
)

// Sum is the BLAKE3-256 digest of one value.
type Sum [32]byte

// String returns the hex form of the first 8 bytes, enough for logs.
func (s Sum) String() string {
	return hex.EncodeToString(s[:8])
}

// Value digests a single JSON-compatible value.
func Value(value any) (Sum, error) {
	data, err := codec.Canonical(value)
	if err != nil {
		return Sum{}, fmt.Errorf("digest: encoding value: %w", err)
	}
	return blake3.Sum256(data), nil
}

// Snapshot maps each top-level key to the digest of its value.
type Snapshot map[string]Sum

// Of digests every top-level entry of state.
func Of(state map[string]any) (Snapshot, error) {
	snapshot := make(Snapshot, len(state))
	for key, value := range state {
		sum, err := Value(value)
		if err != nil {
			return nil, fmt.Errorf("digest: key %q: %w", key, err)
		}
		snapshot[key] = sum
	}
	return snapshot, nil
}

// Equal reports whether s and other have the same keys and the same
// digest for every key. A nil snapshot equals nothing, so the first
// comparison against "never sent" always reports a difference.
func (s Snapshot) Equal(other Snapshot) bool {
	if s == nil || other == nil {
		return false
	}
	if len(s) != len(other) {
		return false
	}
	for key, sum := range s {
		otherSum, ok := other[key]
		if !ok || otherSum != sum {
			return false
		}
	}
	return true
}

// Changed returns the keys whose digest differs between s and other,
// including keys present in only one of them.
func (s Snapshot) Changed(other Snapshot) []string {
	var changed []string
	for key, sum := range s {
		if otherSum, ok := other[key]; !ok || otherSum != sum {
			changed = append(changed, key)
		}
	}
	for key := range other {
		if _, ok := s[key]; !ok {
			changed = append(changed, key)
		}
	}
	return changed
}
