// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Bridge-host serves a counter store to statebridge guests.
//
// The store holds a count and exposes getCount, increase, decrease and
// sum. Guests connect over a Unix socket (length-framed, optionally
// compressed) or a WebSocket; with --spawn the host starts the guest
// itself and hands it one end of a socketpair. The webrtc transport
// runs a loopback demo: host and a scripted guest in one process,
// talking over a real WebRTC data channel.
//
// With --state-db the count survives restarts.
package main
