// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/hearth-chat/hearth/signal"
)

// fakeConn is an in-memory PeerConnection. SDP handshakes succeed
// structurally (descriptions recorded, signaling state tracked) and
// connection health is driven by the test through fireState.
type fakeConn struct {
	mu             sync.Mutex
	signaling      webrtc.SignalingState
	localDesc      *webrtc.SessionDescription
	remoteDesc     *webrtc.SessionDescription
	remoteSetCount int
	candidates     []webrtc.ICECandidateInit
	tracks         []webrtc.TrackLocal
	removedTracks  int
	offerCount     int
	restartOffers  int
	stats          webrtc.StatsReport
	closed         bool

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)

	setRemoteErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{signaling: webrtc.SignalingStateStable}
}

func (c *fakeConn) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offerCount++
	sdp := fmt.Sprintf("v=0 offer %d", c.offerCount)
	if options != nil && options.ICERestart {
		c.restartOffers++
		sdp = fmt.Sprintf("v=0 restart-offer %d", c.restartOffers)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (c *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localDesc = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		c.signaling = webrtc.SignalingStateHaveLocalOffer
	} else {
		c.signaling = webrtc.SignalingStateStable
	}
	return nil
}

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setRemoteErr != nil {
		return c.setRemoteErr
	}
	c.remoteDesc = &desc
	c.remoteSetCount++
	if desc.Type == webrtc.SDPTypeOffer {
		c.signaling = webrtc.SignalingStateHaveRemoteOffer
	} else {
		c.signaling = webrtc.SignalingStateStable
	}
	return nil
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakeConn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signaling
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = fn
}

func (c *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, track)
	return &webrtc.RTPSender{}, nil
}

func (c *fakeConn) RemoveTrack(*webrtc.RTPSender) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removedTracks++
	return nil
}

func (c *fakeConn) GetStats() webrtc.StatsReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fireState simulates a pion connection state callback.
func (c *fakeConn) fireState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// fireCandidate simulates a locally gathered trickle candidate.
func (c *fakeConn) fireCandidate(candidate webrtc.ICECandidateInit) {
	c.mu.Lock()
	fn := c.onCandidate
	c.mu.Unlock()
	if fn != nil {
		fn(candidate)
	}
}

func (c *fakeConn) appliedCandidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

func (c *fakeConn) remoteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSetCount
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) restartCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restartOffers
}

func (c *fakeConn) localType() webrtc.SDPType {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localDesc == nil {
		return webrtc.SDPTypeRollback
	}
	return c.localDesc.Type
}

func (c *fakeConn) trackIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for _, track := range c.tracks {
		ids = append(ids, track.ID())
	}
	return ids
}

func (c *fakeConn) removedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removedTracks
}

func (c *fakeConn) setStats(stats webrtc.StatsReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = stats
}

// fakeFactory creates fakeConns and keeps them for inspection.
type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (f *fakeFactory) create() (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	conn := newFakeConn()
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

// published is one envelope the manager sent, with the topic it went
// to.
type published struct {
	topic    string
	envelope SignalEnvelope
}

// fakeTransport implements Transport directly, recording publishes and
// letting the test inject deliveries into registered handlers.
type fakeTransport struct {
	mu            sync.Mutex
	subs          map[string]signal.Subscription
	unsubscribed  []string
	publishedLog  []published
	publishedChan chan published
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subs:          make(map[string]signal.Subscription),
		publishedChan: make(chan published, 64),
	}
}

func (t *fakeTransport) Subscribe(sub signal.Subscription) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	t.subs[sub.ID] = sub
	return sub.ID, nil
}

func (t *fakeTransport) Unsubscribe(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, id)
	t.unsubscribed = append(t.unsubscribed, id)
	return nil
}

func (t *fakeTransport) Publish(destination string, body json.RawMessage) (signal.PublishOutcome, error) {
	var env SignalEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return signal.PublishSent, fmt.Errorf("fake transport: undecodable publish: %w", err)
	}
	p := published{topic: destination, envelope: env}
	t.mu.Lock()
	t.publishedLog = append(t.publishedLog, p)
	t.mu.Unlock()
	t.publishedChan <- p
	return signal.PublishSent, nil
}

// deliver hands an envelope to every subscription on topic, as the
// signal client's delivery goroutine would.
func (t *fakeTransport) deliver(topic string, env SignalEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	t.mu.Lock()
	var handlers []signal.Handler
	for _, sub := range t.subs {
		if sub.Destination == topic && sub.Handler != nil {
			handlers = append(handlers, sub.Handler)
		}
	}
	t.mu.Unlock()
	for _, handler := range handlers {
		handler(signal.Message{Destination: topic, Body: body})
	}
	return nil
}

func (t *fakeTransport) subscriptionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// fakeTrack is a minimal TrackLocal for attach/remove tests.
type fakeTrack struct {
	id string
}

func (t *fakeTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}

func (t *fakeTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (t *fakeTrack) ID() string                            { return t.id }
func (t *fakeTrack) RID() string                           { return "" }
func (t *fakeTrack) StreamID() string                      { return "hearth" }
func (t *fakeTrack) Kind() webrtc.RTPCodecType             { return webrtc.RTPCodecTypeVideo }

var _ webrtc.TrackLocal = (*fakeTrack)(nil)

// waitDeadline is shared by polling helpers in this package's tests.
const waitDeadline = 5 * time.Second
