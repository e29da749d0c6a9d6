// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/hearth-chat/hearth/lib/clock"
	"github.com/hearth-chat/hearth/lib/testutil"
	"github.com/hearth-chat/hearth/signal"
)

const testChannel = int64(42)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sessionFixture struct {
	transport *fakeTransport
	factory   *fakeFactory
	clk       *clock.FakeClock
	mgr       *Manager
	localID   string
	roster    chan RosterEvent
	errs      chan ErrorRecord
	quality   chan QualityReport
}

func newSessionFixture(t *testing.T, mutate func(*Config)) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		transport: newFakeTransport(),
		factory:   &fakeFactory{},
		clk:       clock.Fake(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)),
		roster:    make(chan RosterEvent, 32),
		errs:      make(chan ErrorRecord, 32),
		quality:   make(chan QualityReport, 32),
	}
	cfg := Config{
		Transport:   f.transport,
		PeerFactory: f.factory.create,
		GracePeriod: 4 * time.Second,
		Clock:       f.clk,
		OnRoster:    func(e RosterEvent) { f.roster <- e },
		OnError:     func(e ErrorRecord) { f.errs <- e },
		OnQuality:   func(q QualityReport) { f.quality <- q },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mgr, err := NewManager(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	f.mgr = mgr
	return f
}

// join joins the channel and drains the initial broadcast JOIN.
func (f *sessionFixture) join(t *testing.T, identity string) {
	t.Helper()
	f.localID = identity
	if err := f.mgr.JoinChannel(testChannel, identity, PresencePayload{DisplayName: "local"}); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	p := testutil.RequireReceive(t, f.transport.publishedChan, waitDeadline, "waiting for initial JOIN")
	if p.envelope.Type != TypeJoin || !p.envelope.Broadcast() {
		t.Fatalf("initial publish = %+v, want broadcast JOIN", p.envelope)
	}
}

// sync waits until the manager loop has drained everything posted so
// far.
func (f *sessionFixture) sync() {
	f.mgr.Links()
}

// deliverBroadcast injects an envelope on the channel topic.
func (f *sessionFixture) deliverBroadcast(t *testing.T, from string, kind EnvelopeType, data any) {
	t.Helper()
	env, err := newEnvelope(testChannel, kind, from, "", data)
	if err != nil {
		t.Fatalf("building envelope: %v", err)
	}
	if err := f.transport.deliver(ChannelTopic(testChannel), env); err != nil {
		t.Fatalf("delivering envelope: %v", err)
	}
	f.sync()
}

// deliverDirect injects an envelope on the local user topic.
func (f *sessionFixture) deliverDirect(t *testing.T, from string, kind EnvelopeType, data any) {
	t.Helper()
	env, err := newEnvelope(testChannel, kind, from, f.localID, data)
	if err != nil {
		t.Fatalf("building envelope: %v", err)
	}
	if err := f.transport.deliver(UserTopic(f.localID), env); err != nil {
		t.Fatalf("delivering envelope: %v", err)
	}
	f.sync()
}

func (f *sessionFixture) expectPublish(t *testing.T, kind EnvelopeType) published {
	t.Helper()
	p := testutil.RequireReceive(t, f.transport.publishedChan, waitDeadline, "waiting for %s publish", kind)
	if p.envelope.Type != kind {
		t.Fatalf("published %s to %s, want %s", p.envelope.Type, p.topic, kind)
	}
	return p
}

func contextWithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), waitDeadline)
}

func waitUntil(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitDeadline)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func answerData() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
}

func offerData() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
}

func candidateData(n int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 2122260223 10.0.0.%d 50000 typ host", n, n)}
}

// connectPeer walks the fixture through a full initiator handshake
// with a peer of larger identity: JOIN in, offer out, answer in,
// connection up. Returns the fake connection.
func (f *sessionFixture) connectPeer(t *testing.T, peer string) *fakeConn {
	t.Helper()
	f.deliverBroadcast(t, peer, TypeJoin, PresencePayload{DisplayName: peer})
	f.expectPublish(t, TypeJoin) // direct introduction reply
	f.expectPublish(t, TypeOffer)
	f.deliverDirect(t, peer, TypeAnswer, answerData())
	conn := f.factory.conn(f.factory.count() - 1)
	conn.fireState(webrtc.PeerConnectionStateConnected)
	waitUntil(t, "link connected", func() bool {
		return f.mgr.Links()[peer] == LinkConnected
	})
	return conn
}

func TestJoinAnnouncesPresence(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.localID = "100"
	if err := f.mgr.JoinChannel(testChannel, "100", PresencePayload{DisplayName: "Alice", Muted: true}); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	p := f.expectPublish(t, TypeJoin)
	if p.topic != ChannelTopic(testChannel) {
		t.Errorf("topic = %q, want %q", p.topic, ChannelTopic(testChannel))
	}
	if !p.envelope.Broadcast() {
		t.Error("initial JOIN was not a broadcast")
	}
	presence, err := p.envelope.DecodePresence()
	if err != nil {
		t.Fatalf("DecodePresence: %v", err)
	}
	if presence.DisplayName != "Alice" || !presence.Muted {
		t.Errorf("presence = %+v", presence)
	}
	if f.transport.subscriptionCount() != 2 {
		t.Errorf("subscriptions = %d, want channel + user topics", f.transport.subscriptionCount())
	}
}

func TestTieBreakSmallerIdentityInitiates(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")

	f.deliverBroadcast(t, "200", TypeJoin, PresencePayload{DisplayName: "Bob"})

	event := testutil.RequireReceive(t, f.roster, waitDeadline, "waiting for roster event")
	if event.Kind != ParticipantJoined || event.Participant.Identity != "200" {
		t.Fatalf("roster event = %+v", event)
	}

	// Broadcast JOIN gets a direct introduction reply, then the offer:
	// 100 < 200, so this side initiates.
	reply := f.expectPublish(t, TypeJoin)
	if reply.topic != UserTopic("200") {
		t.Errorf("JOIN reply topic = %q, want %q", reply.topic, UserTopic("200"))
	}
	offer := f.expectPublish(t, TypeOffer)
	if offer.topic != UserTopic("200") {
		t.Errorf("offer topic = %q, want %q", offer.topic, UserTopic("200"))
	}
	if got := f.mgr.Links()["200"]; got != LinkOffering {
		t.Errorf("link state = %v, want LinkOffering", got)
	}
}

func TestTieBreakLargerIdentityWaits(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")

	f.deliverBroadcast(t, "50", TypeJoin, PresencePayload{})
	f.expectPublish(t, TypeJoin) // introduction reply

	// 50 < 100: the peer initiates, this side must not offer.
	testutil.RequireNoReceive(t, f.transport.publishedChan, 50*time.Millisecond, "unexpected publish while waiting for peer offer")
	if got := len(f.mgr.Links()); got != 0 {
		t.Fatalf("links = %d, want none until the offer arrives", got)
	}

	f.deliverDirect(t, "50", TypeOffer, offerData())
	answer := f.expectPublish(t, TypeAnswer)
	if answer.topic != UserTopic("50") {
		t.Errorf("answer topic = %q", answer.topic)
	}
	if got := f.mgr.Links()["50"]; got != LinkAnswering {
		t.Errorf("link state = %v, want LinkAnswering", got)
	}
	if f.factory.conn(0).remoteCount() == 0 {
		t.Error("remote offer was not applied")
	}
}

func TestTieBreakNumericBeforeLexicographic(t *testing.T) {
	// Lexicographically "10" < "9", but both parse as integers so the
	// numeric order decides: 9 initiates to 10.
	f := newSessionFixture(t, nil)
	f.join(t, "9")

	f.deliverBroadcast(t, "10", TypeJoin, PresencePayload{})
	f.expectPublish(t, TypeJoin)
	f.expectPublish(t, TypeOffer)
	if got := f.mgr.Links()["10"]; got != LinkOffering {
		t.Errorf("link state = %v, want LinkOffering", got)
	}
}

func TestDirectJoinDoesNotReply(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")

	// A direct JOIN is the second phase of discovery; replying to it
	// would ping-pong forever.
	f.deliverDirect(t, "200", TypeJoin, PresencePayload{})
	offer := f.expectPublish(t, TypeOffer)
	if offer.topic != UserTopic("200") {
		t.Errorf("offer topic = %q", offer.topic)
	}
	testutil.RequireNoReceive(t, f.transport.publishedChan, 50*time.Millisecond, "JOIN reply to a direct JOIN")
}

func TestDuplicateJoinUpdatesWithoutNewLink(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")

	f.deliverBroadcast(t, "200", TypeJoin, PresencePayload{DisplayName: "Bob"})
	f.expectPublish(t, TypeJoin)
	f.expectPublish(t, TypeOffer)
	testutil.RequireReceive(t, f.roster, waitDeadline, "joined event")

	f.deliverBroadcast(t, "200", TypeJoin, PresencePayload{DisplayName: "Bob", Muted: true})
	f.expectPublish(t, TypeJoin) // introduction reply still sent
	event := testutil.RequireReceive(t, f.roster, waitDeadline, "updated event")
	if event.Kind != ParticipantUpdated || !event.Participant.Muted {
		t.Fatalf("roster event = %+v, want muted update", event)
	}
	if got := f.factory.count(); got != 1 {
		t.Fatalf("peer connections = %d, want 1 (no duplicate link)", got)
	}
	// No second offer either.
	testutil.RequireNoReceive(t, f.transport.publishedChan, 50*time.Millisecond, "renegotiation after duplicate JOIN")
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")

	// Peer 50 initiates. Candidates outrun the offer: two arrive before
	// any link exists, one more after the link would exist. All must be
	// applied in arrival order after the remote description, none twice.
	f.deliverDirect(t, "50", TypeICECandidate, candidateData(1))
	f.deliverDirect(t, "50", TypeICECandidate, candidateData(2))
	f.deliverDirect(t, "50", TypeJoin, PresencePayload{})
	f.deliverDirect(t, "50", TypeICECandidate, candidateData(3))
	if got := f.factory.count(); got != 0 {
		t.Fatalf("peer connections = %d before offer, want 0", got)
	}

	f.deliverDirect(t, "50", TypeOffer, offerData())
	f.expectPublish(t, TypeAnswer)

	conn := f.factory.conn(0)
	applied := conn.appliedCandidates()
	want := []webrtc.ICECandidateInit{candidateData(1), candidateData(2), candidateData(3)}
	if len(applied) != len(want) {
		t.Fatalf("applied %d candidates, want %d", len(applied), len(want))
	}
	for i := range want {
		if applied[i].Candidate != want[i].Candidate {
			t.Fatalf("candidate %d = %q, want %q", i, applied[i].Candidate, want[i].Candidate)
		}
	}

	// After the remote description, candidates apply directly.
	f.deliverDirect(t, "50", TypeICECandidate, candidateData(4))
	applied = conn.appliedCandidates()
	if len(applied) != 4 || applied[3].Candidate != candidateData(4).Candidate {
		t.Fatalf("late candidate not applied directly: %v", applied)
	}
}

func TestCandidateBufferBounded(t *testing.T) {
	f := newSessionFixture(t, func(cfg *Config) { cfg.CandidateBufferCap = 2 })
	f.join(t, "100")

	for i := 1; i <= 3; i++ {
		f.deliverDirect(t, "50", TypeICECandidate, candidateData(i))
	}
	f.deliverDirect(t, "50", TypeOffer, offerData())
	f.expectPublish(t, TypeAnswer)

	applied := f.factory.conn(0).appliedCandidates()
	if len(applied) != 2 {
		t.Fatalf("applied %d candidates, want 2 (oldest evicted)", len(applied))
	}
	if applied[0].Candidate != candidateData(2).Candidate || applied[1].Candidate != candidateData(3).Candidate {
		t.Fatalf("applied = %v, want candidates 2 and 3", applied)
	}
}

func TestAnswerWithoutPendingOfferIgnored(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")

	// No link at all.
	f.deliverDirect(t, "50", TypeAnswer, answerData())
	if got := len(f.mgr.Links()); got != 0 {
		t.Fatalf("links = %d after stray ANSWER, want 0", got)
	}

	// Responder link not awaiting an answer.
	f.deliverDirect(t, "50", TypeJoin, PresencePayload{})
	f.deliverDirect(t, "50", TypeOffer, offerData())
	f.expectPublish(t, TypeAnswer)
	conn := f.factory.conn(0)
	before := conn.remoteCount()

	f.deliverDirect(t, "50", TypeAnswer, answerData())
	if conn.remoteCount() != before {
		t.Fatal("stray ANSWER mutated the remote description")
	}
	if got := f.mgr.Links()["50"]; got != LinkAnswering {
		t.Fatalf("link state = %v after stray ANSWER, want LinkAnswering", got)
	}
}

func TestLeaveRemovesParticipantAndLink(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")
	conn := f.connectPeer(t, "200")
	testutil.RequireReceive(t, f.roster, waitDeadline, "joined event")

	f.deliverBroadcast(t, "200", TypeLeave, nil)
	event := testutil.RequireReceive(t, f.roster, waitDeadline, "left event")
	if event.Kind != ParticipantLeft || event.Participant.Identity != "200" {
		t.Fatalf("roster event = %+v, want 200 left", event)
	}
	if got := len(f.mgr.Links()); got != 0 {
		t.Fatalf("links = %d after LEAVE, want 0", got)
	}
	if got := len(f.mgr.Participants()); got != 0 {
		t.Fatalf("participants = %d after LEAVE, want 0", got)
	}
	if !conn.isClosed() {
		t.Error("peer connection not closed on LEAVE")
	}
}

func TestOfferMidNegotiationRecreatesLink(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")

	f.deliverBroadcast(t, "200", TypeJoin, PresencePayload{})
	f.expectPublish(t, TypeJoin)
	f.expectPublish(t, TypeOffer)

	// A remote offer lands while our own offer is unanswered. The link
	// cannot absorb it mid-negotiation: it is discarded and rebuilt in
	// responder role.
	f.deliverDirect(t, "200", TypeOffer, offerData())
	f.expectPublish(t, TypeAnswer)

	if got := f.factory.count(); got != 2 {
		t.Fatalf("peer connections = %d, want 2 (old link discarded)", got)
	}
	if !f.factory.conn(0).isClosed() {
		t.Error("discarded link's connection not closed")
	}
	if got := f.mgr.Links()["200"]; got != LinkAnswering {
		t.Fatalf("link state = %v, want LinkAnswering", got)
	}
}

func TestGracePeriodTeardown(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")
	conn := f.connectPeer(t, "200")
	testutil.RequireReceive(t, f.roster, waitDeadline, "joined event")

	conn.fireState(webrtc.PeerConnectionStateDisconnected)
	waitUntil(t, "grace state", func() bool { return f.mgr.Links()["200"] == LinkGrace })

	f.clk.WaitForTimers(1)
	f.clk.Advance(4 * time.Second)

	event := testutil.RequireReceive(t, f.roster, waitDeadline, "waiting for grace teardown")
	if event.Kind != ParticipantLeft || event.Participant.Identity != "200" {
		t.Fatalf("roster event = %+v, want 200 left", event)
	}
	if got := len(f.mgr.Links()); got != 0 {
		t.Fatalf("links = %d after grace expiry, want 0", got)
	}
}

func TestGracePeriodRecovery(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")
	conn := f.connectPeer(t, "200")

	conn.fireState(webrtc.PeerConnectionStateDisconnected)
	waitUntil(t, "grace state", func() bool { return f.mgr.Links()["200"] == LinkGrace })
	conn.fireState(webrtc.PeerConnectionStateConnected)
	waitUntil(t, "recovered", func() bool { return f.mgr.Links()["200"] == LinkConnected })

	// The stale grace timer must not tear the recovered link down.
	f.clk.Advance(time.Minute)
	f.sync()
	if got := f.mgr.Links()["200"]; got != LinkConnected {
		t.Fatalf("link state = %v after stale grace timer, want LinkConnected", got)
	}
	if got := len(f.mgr.Participants()); got != 1 {
		t.Fatalf("participants = %d, want 1", got)
	}
}

func TestTerminalFailureRestartsOnce(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")
	conn := f.connectPeer(t, "200")

	conn.fireState(webrtc.PeerConnectionStateFailed)
	offer := f.expectPublish(t, TypeOffer)
	if offer.topic != UserTopic("200") {
		t.Errorf("restart offer topic = %q", offer.topic)
	}
	record := testutil.RequireReceive(t, f.errs, waitDeadline, "restart error record")
	if record.PeerID != "200" || record.Retries != 1 {
		t.Fatalf("error record = %+v, want peer 200 retries 1", record)
	}
	if conn.restartCount() != 1 {
		t.Fatalf("restart offers = %d, want 1", conn.restartCount())
	}
	waitUntil(t, "offering after restart", func() bool { return f.mgr.Links()["200"] == LinkOffering })

	// A second terminal failure exhausts the single restart attempt.
	conn.fireState(webrtc.PeerConnectionStateFailed)
	record = testutil.RequireReceive(t, f.errs, waitDeadline, "teardown error record")
	if record.PeerID != "200" {
		t.Fatalf("error record = %+v", record)
	}
	waitUntil(t, "link torn down", func() bool { return len(f.mgr.Links()) == 0 })
	if !conn.isClosed() {
		t.Error("failed connection not closed")
	}
}

func TestTrickledLocalCandidatesPublished(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")
	f.deliverBroadcast(t, "200", TypeJoin, PresencePayload{})
	f.expectPublish(t, TypeJoin)
	f.expectPublish(t, TypeOffer)

	f.factory.conn(0).fireCandidate(candidateData(7))
	p := f.expectPublish(t, TypeICECandidate)
	if p.topic != UserTopic("200") {
		t.Errorf("candidate topic = %q", p.topic)
	}
	candidate, err := p.envelope.DecodeCandidate()
	if err != nil {
		t.Fatalf("DecodeCandidate: %v", err)
	}
	if candidate.Candidate != candidateData(7).Candidate {
		t.Errorf("candidate = %q", candidate.Candidate)
	}
}

func TestQualitySampling(t *testing.T) {
	f := newSessionFixture(t, func(cfg *Config) { cfg.QualityInterval = 2 * time.Second })
	f.join(t, "100")
	conn := f.connectPeer(t, "200")

	conn.setStats(webrtc.StatsReport{
		"pair": webrtc.ICECandidatePairStats{
			State:                webrtc.StatsICECandidatePairStateSucceeded,
			CurrentRoundTripTime: 0.05,
		},
		"inbound": webrtc.InboundRTPStreamStats{
			Jitter:          0.01,
			PacketsReceived: 1000,
			PacketsLost:     3,
		},
	})

	f.clk.WaitForTimers(1)
	f.clk.Advance(2 * time.Second)

	report := testutil.RequireReceive(t, f.quality, waitDeadline, "waiting for quality report")
	if report.PeerID != "200" {
		t.Errorf("peer = %q", report.PeerID)
	}
	if report.RTT != 50*time.Millisecond {
		t.Errorf("rtt = %v, want 50ms", report.RTT)
	}
	if report.Jitter != 0.01 || report.PacketsReceived != 1000 || report.PacketsLost != 3 {
		t.Errorf("report = %+v", report)
	}
}

func TestAudioTrackAttachedAtLinkCreation(t *testing.T) {
	track := &fakeTrack{id: "mic"}
	f := newSessionFixture(t, func(cfg *Config) { cfg.AudioTrack = track })
	f.join(t, "100")

	conn := f.connectPeer(t, "200")
	if ids := conn.trackIDs(); len(ids) != 1 || ids[0] != "mic" {
		t.Fatalf("tracks = %v, want [mic]", ids)
	}
}

func TestSetSpeakingAnnouncesOnChange(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")

	if err := f.mgr.SetSpeaking(true); err != nil {
		t.Fatalf("SetSpeaking: %v", err)
	}
	announce := f.expectPublish(t, TypeJoin)
	presence, err := announce.envelope.DecodePresence()
	if err != nil {
		t.Fatalf("DecodePresence: %v", err)
	}
	if !presence.Speaking {
		t.Error("presence announce missing speaking")
	}

	// Repeating the same flag publishes nothing; it is driven from a
	// level sampler and mostly unchanged.
	if err := f.mgr.SetSpeaking(true); err != nil {
		t.Fatalf("SetSpeaking: %v", err)
	}
	testutil.RequireNoReceive(t, f.transport.publishedChan, 50*time.Millisecond, "announce for unchanged speaking flag")

	if err := f.mgr.SetSpeaking(false); err != nil {
		t.Fatalf("SetSpeaking: %v", err)
	}
	announce = f.expectPublish(t, TypeJoin)
	if presence, _ = announce.envelope.DecodePresence(); presence.Speaking {
		t.Error("speaking flag not cleared")
	}
}

func TestPeerSpeakingUpdatesRoster(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")

	f.deliverBroadcast(t, "200", TypeJoin, PresencePayload{DisplayName: "Bob"})
	f.expectPublish(t, TypeJoin)
	f.expectPublish(t, TypeOffer)
	testutil.RequireReceive(t, f.roster, waitDeadline, "joined event")

	f.deliverBroadcast(t, "200", TypeJoin, PresencePayload{DisplayName: "Bob", Speaking: true})
	f.expectPublish(t, TypeJoin)
	event := testutil.RequireReceive(t, f.roster, waitDeadline, "updated event")
	if event.Kind != ParticipantUpdated || !event.Participant.Speaking {
		t.Fatalf("roster event = %+v, want speaking update", event)
	}
}

func TestScreenShareRenegotiates(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")
	conn := f.connectPeer(t, "200")

	track := &fakeTrack{id: "screen"}
	if err := f.mgr.StartScreenShare(track); err != nil {
		t.Fatalf("StartScreenShare: %v", err)
	}
	f.expectPublish(t, TypeOffer) // renegotiation
	announce := f.expectPublish(t, TypeJoin)
	presence, err := announce.envelope.DecodePresence()
	if err != nil {
		t.Fatalf("DecodePresence: %v", err)
	}
	if !presence.ScreenSharing {
		t.Error("presence announce missing screenSharing")
	}
	if ids := conn.trackIDs(); len(ids) != 1 || ids[0] != "screen" {
		t.Fatalf("tracks = %v", ids)
	}

	if err := f.mgr.StartScreenShare(track); err == nil {
		t.Fatal("second StartScreenShare succeeded, want error")
	}

	// Settle the renegotiation so stop can renegotiate again.
	f.deliverDirect(t, "200", TypeAnswer, answerData())

	if err := f.mgr.StopScreenShare(); err != nil {
		t.Fatalf("StopScreenShare: %v", err)
	}
	f.expectPublish(t, TypeOffer)
	announce = f.expectPublish(t, TypeJoin)
	presence, err = announce.envelope.DecodePresence()
	if err != nil {
		t.Fatalf("DecodePresence: %v", err)
	}
	if presence.ScreenSharing {
		t.Error("presence still claims screen sharing after stop")
	}
	if conn.removedCount() != 1 {
		t.Errorf("removed tracks = %d, want 1", conn.removedCount())
	}
}

func TestLeaveChannelCleansUp(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")
	conn := f.connectPeer(t, "200")

	if err := f.mgr.LeaveChannel(); err != nil {
		t.Fatalf("LeaveChannel: %v", err)
	}
	leave := f.expectPublish(t, TypeLeave)
	if !leave.envelope.Broadcast() {
		t.Error("LEAVE was not broadcast")
	}
	if !conn.isClosed() {
		t.Error("peer connection not closed on leave")
	}
	if got := f.transport.subscriptionCount(); got != 0 {
		t.Errorf("subscriptions = %d after leave, want 0", got)
	}
	if got := len(f.mgr.Participants()); got != 0 {
		t.Errorf("participants = %d after leave, want 0", got)
	}

	// Leaving again is a no-op.
	if err := f.mgr.LeaveChannel(); err != nil {
		t.Fatalf("second LeaveChannel: %v", err)
	}
	testutil.RequireNoReceive(t, f.transport.publishedChan, 50*time.Millisecond, "publish from idempotent leave")
}

func TestTransportDisconnectBulkTeardown(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.join(t, "100")
	conn := f.connectPeer(t, "200")
	testutil.RequireReceive(t, f.roster, waitDeadline, "joined event")

	f.mgr.HandleTransportState(signal.Reconnecting)
	event := testutil.RequireReceive(t, f.roster, waitDeadline, "bulk teardown event")
	if event.Kind != ParticipantLeft {
		t.Fatalf("roster event = %+v, want left", event)
	}
	if got := len(f.mgr.Links()); got != 0 {
		t.Fatalf("links = %d after transport loss, want 0", got)
	}
	if !conn.isClosed() {
		t.Error("peer connection left open after transport loss")
	}

	// Reconnecting re-announces presence so peers rediscover us.
	f.mgr.HandleTransportState(signal.Connected)
	announce := f.expectPublish(t, TypeJoin)
	if !announce.envelope.Broadcast() {
		t.Error("re-announce was not broadcast")
	}
}

// TestTwoManagersNegotiate runs two managers against real signal
// clients over one in-memory relay: discovery, glare-free negotiation,
// and both rosters converge.
func TestTwoManagersNegotiate(t *testing.T) {
	relay := signal.NewMemoryRelay()

	newSide := func(identity string) (*Manager, *fakeFactory) {
		t.Helper()
		client, err := signal.New(signal.Config{
			Dialer: relay,
			Token:  signal.StaticToken("test"),
		}, testLogger())
		if err != nil {
			t.Fatalf("signal.New: %v", err)
		}
		t.Cleanup(func() { client.Close() })

		factory := &fakeFactory{}
		mgr, err := NewManager(Config{
			Transport:   client,
			PeerFactory: factory.create,
		}, testLogger())
		if err != nil {
			t.Fatalf("NewManager: %v", err)
		}
		t.Cleanup(func() { mgr.Close() })

		ctx, cancel := contextWithTimeout(t)
		defer cancel()
		if err := client.Connect(ctx); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		if err := mgr.JoinChannel(7, identity, PresencePayload{DisplayName: identity}); err != nil {
			t.Fatalf("JoinChannel(%s): %v", identity, err)
		}
		return mgr, factory
	}

	mgrA, factoryA := newSide("1")
	mgrB, factoryB := newSide("2")

	// B's broadcast JOIN reaches A; A replies directly and, as the
	// smaller identity, offers. B answers. Exactly one side offers.
	waitUntil(t, "answer applied on A", func() bool {
		return factoryA.count() == 1 && factoryA.conn(0).remoteCount() == 1
	})
	waitUntil(t, "offer answered on B", func() bool {
		return factoryB.count() == 1 && factoryB.conn(0).remoteCount() == 1
	})
	if factoryA.conn(0).localType() != webrtc.SDPTypeOffer {
		t.Error("A (smaller identity) did not initiate")
	}
	if factoryB.conn(0).localType() != webrtc.SDPTypeAnswer {
		t.Error("B (larger identity) did not answer")
	}

	factoryA.conn(0).fireState(webrtc.PeerConnectionStateConnected)
	factoryB.conn(0).fireState(webrtc.PeerConnectionStateConnected)
	waitUntil(t, "both links connected", func() bool {
		return mgrA.Links()["2"] == LinkConnected && mgrB.Links()["1"] == LinkConnected
	})

	rosterA := mgrA.Participants()
	rosterB := mgrB.Participants()
	if len(rosterA) != 1 || rosterA[0].Identity != "2" {
		t.Errorf("A roster = %+v", rosterA)
	}
	if len(rosterB) != 1 || rosterB[0].Identity != "1" {
		t.Errorf("B roster = %+v", rosterB)
	}
}
