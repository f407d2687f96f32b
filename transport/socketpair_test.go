// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package transport

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestSocketPairPreservesBoundaries(t *testing.T) {
	host, guestFile, err := SocketPair()
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	defer host.Close()

	guest, err := FileChannel(guestFile)
	if err != nil {
		t.Fatalf("FileChannel: %v", err)
	}
	defer guest.Close()

	exchange(t, host, guest, []string{`{"type":"ready"}`, `{"type":"state"}`})
	exchange(t, guest, host, []string{`{"type":"call","id":"1"}`, strings.Repeat("y", 64<<10)})
}

func TestSocketPairLimits(t *testing.T) {
	host, guestFile, err := SocketPair()
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	defer host.Close()
	guest, err := FileChannel(guestFile)
	if err != nil {
		t.Fatalf("FileChannel: %v", err)
	}

	ctx := testContext(t)
	if err := host.Send(ctx, make([]byte, MaxPacketSize+1)); err == nil {
		t.Error("oversized Send should fail")
	}
	if err := host.Send(ctx, nil); err == nil {
		t.Error("empty Send should fail")
	}

	guest.Close()
	if _, err := host.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Receive after peer close = %v, want io.EOF", err)
	}
}
