// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// DataChannelLabel is the label of the bridge's data channel.
const DataChannelLabel = "statebridge"

// iceGatherTimeout is the maximum time to wait for ICE candidate
// gathering to complete before exchanging the SDP.
const iceGatherTimeout = 15 * time.Second

// iceConnectTimeout is the maximum time to wait for the data channel to
// open after the descriptions are exchanged.
const iceConnectTimeout = 30 * time.Second

// DataChannelChannel carries one message per data channel message.
// Messages are sent as text, which is what a browser guest expects for
// JSON envelopes.
type DataChannelChannel struct {
	dc       *webrtc.DataChannel
	incoming *queue

	opened   chan struct{}
	openOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once

	// release runs after the data channel closes; WebRTCPair uses it to
	// close the PeerConnection it created.
	release func()
}

var _ Channel = (*DataChannelChannel)(nil)

// NewDataChannel wraps dc. Call it before the channel opens (from
// OnDataChannel, or right after CreateDataChannel) so no message is
// missed. The channel should be ordered and reliable.
func NewDataChannel(dc *webrtc.DataChannel) *DataChannelChannel {
	channel := &DataChannelChannel{
		dc:       dc,
		incoming: newQueue(),
		opened:   make(chan struct{}),
		closed:   make(chan struct{}),
	}
	dc.OnOpen(func() {
		channel.openOnce.Do(func() { close(channel.opened) })
	})
	dc.OnMessage(func(message webrtc.DataChannelMessage) {
		channel.incoming.push(bytes.Clone(message.Data))
	})
	dc.OnClose(func() {
		channel.incoming.close()
	})
	return channel
}

// Opened is closed once the data channel can carry messages.
func (c *DataChannelChannel) Opened() <-chan struct{} {
	return c.opened
}

func (c *DataChannelChannel) Send(ctx context.Context, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	if err := c.dc.SendText(string(message)); err != nil {
		return fmt.Errorf("transport: sending on data channel %s: %w", c.dc.Label(), err)
	}
	return nil
}

func (c *DataChannelChannel) Receive(ctx context.Context) ([]byte, error) {
	return c.incoming.pop(ctx, c.closed)
}

func (c *DataChannelChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.dc.Close()
		c.incoming.close()
		if c.release != nil {
			c.release()
		}
	})
	return err
}

// WebRTCPair connects two in-process PeerConnections over loopback and
// returns the two ends of one ordered, reliable data channel: offer
// first, answer second. Closing an end closes its PeerConnection.
func WebRTCPair(ctx context.Context) (*DataChannelChannel, *DataChannelChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	offerer, err := newPeerConnection()
	if err != nil {
		return nil, nil, fmt.Errorf("transport: creating offering peer: %w", err)
	}
	answerer, err := newPeerConnection()
	if err != nil {
		offerer.Close()
		return nil, nil, fmt.Errorf("transport: creating answering peer: %w", err)
	}
	fail := func(err error) (*DataChannelChannel, *DataChannelChannel, error) {
		offerer.Close()
		answerer.Close()
		return nil, nil, err
	}

	accepted := make(chan *DataChannelChannel, 1)
	answerer.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			return
		}
		accepted <- NewDataChannel(dc)
	})

	ordered := true
	dc, err := offerer.CreateDataChannel(DataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fail(fmt.Errorf("transport: creating data channel: %w", err))
	}
	local := NewDataChannel(dc)

	// Vanilla ICE: gather every candidate before handing over the SDP.
	offer, err := offerer.CreateOffer(nil)
	if err != nil {
		return fail(fmt.Errorf("transport: creating SDP offer: %w", err))
	}
	if err := setLocalAndGather(ctx, offerer, offer); err != nil {
		return fail(err)
	}
	if err := answerer.SetRemoteDescription(*offerer.LocalDescription()); err != nil {
		return fail(fmt.Errorf("transport: setting remote offer: %w", err))
	}
	answer, err := answerer.CreateAnswer(nil)
	if err != nil {
		return fail(fmt.Errorf("transport: creating SDP answer: %w", err))
	}
	if err := setLocalAndGather(ctx, answerer, answer); err != nil {
		return fail(err)
	}
	if err := offerer.SetRemoteDescription(*answerer.LocalDescription()); err != nil {
		return fail(fmt.Errorf("transport: setting remote answer: %w", err))
	}

	timeout := time.NewTimer(iceConnectTimeout)
	defer timeout.Stop()

	var remote *DataChannelChannel
	select {
	case remote = <-accepted:
	case <-timeout.C:
		return fail(fmt.Errorf("transport: data channel not announced within %s", iceConnectTimeout))
	case <-ctx.Done():
		return fail(ctx.Err())
	}
	for _, end := range []*DataChannelChannel{local, remote} {
		select {
		case <-end.Opened():
		case <-timeout.C:
			return fail(fmt.Errorf("transport: data channel did not open within %s", iceConnectTimeout))
		case <-ctx.Done():
			return fail(ctx.Err())
		}
	}

	local.release = func() { offerer.Close() }
	remote.release = func() { answerer.Close() }
	return local, remote, nil
}

func setLocalAndGather(ctx context.Context, pc *webrtc.PeerConnection, description webrtc.SessionDescription) error {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(description); err != nil {
		return fmt.Errorf("transport: setting local description: %w", err)
	}
	select {
	case <-gatherComplete:
		return nil
	case <-time.After(iceGatherTimeout):
		return fmt.Errorf("transport: ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newPeerConnection creates a PeerConnection that offers loopback
// candidates, which is all a same-machine host and guest need.
func newPeerConnection() (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{})
}
