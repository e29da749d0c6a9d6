// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/hearth-chat/hearth/lib/clock"
	"github.com/hearth-chat/hearth/signal"
)

// ErrClosed is returned by operations on a Manager after Close.
var ErrClosed = errors.New("session: manager closed")

// Transport is the slice of the signaling client the manager uses.
// *signal.Client satisfies it.
type Transport interface {
	Subscribe(sub signal.Subscription) (string, error)
	Unsubscribe(id string) error
	Publish(destination string, body json.RawMessage) (signal.PublishOutcome, error)
}

// Config configures a Manager.
type Config struct {
	// Transport carries signaling envelopes. Required.
	Transport Transport

	// PeerFactory creates the connection under each new link. Defaults
	// to PionFactory with no ICE servers (host candidates only).
	PeerFactory PeerConnectionFactory

	// CandidateBufferCap bounds each peer's pre-description candidate
	// buffer. Default 100.
	CandidateBufferCap int

	// GracePeriod is how long a transiently disconnected link may stay
	// down before it is torn down. Default 4s.
	GracePeriod time.Duration

	// QualityInterval is the per-peer stats sampling cadence. Zero
	// disables sampling.
	QualityInterval time.Duration

	// AudioTrack, when set, is attached to every outbound link.
	AudioTrack webrtc.TrackLocal

	// Clock injects time for tests. Default clock.Real().
	Clock clock.Clock

	// OnRoster, OnQuality, and OnError receive events on the delivery
	// goroutine, in emission order.
	OnRoster  func(RosterEvent)
	OnQuality func(QualityReport)
	OnError   func(ErrorRecord)
}

// Manager owns the peer links and roster for one channel membership.
// Create with NewManager; all methods are safe for concurrent use.
type Manager struct {
	cfg       Config
	transport Transport
	factory   PeerConnectionFactory
	clk       clock.Clock
	logger    *slog.Logger

	commands chan func()
	dispatch chan func()
	done     chan struct{}
	closing  sync.Once

	// Everything below is owned by the event loop. session counts
	// channel memberships; callbacks and timers captured under an older
	// session are ignored when they fire.
	session      int
	joined       bool
	channelID    int64
	localID      string
	presence     PresencePayload
	subIDs       []string
	participants map[string]*Participant
	links        map[string]*peerLink

	// pendingCandidates buffers candidates that arrive before any link
	// exists for their sender; they seed the link's buffer when it is
	// created. Same bound as the per-link buffer.
	pendingCandidates map[string][]webrtc.ICECandidateInit

	screenTrack webrtc.TrackLocal
	qualityStop chan struct{}
	errors      []ErrorRecord
}

// NewManager creates a Manager and starts its event loop.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("session: Config.Transport is required")
	}
	if cfg.PeerFactory == nil {
		cfg.PeerFactory = PionFactory(ICEOptions{})
	}
	if cfg.CandidateBufferCap <= 0 {
		cfg.CandidateBufferCap = 100
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 4 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:               cfg,
		transport:         cfg.Transport,
		factory:           cfg.PeerFactory,
		clk:               cfg.Clock,
		logger:            logger,
		commands:          make(chan func(), 64),
		dispatch:          make(chan func(), 256),
		done:              make(chan struct{}),
		participants:      make(map[string]*Participant),
		links:             make(map[string]*peerLink),
		pendingCandidates: make(map[string][]webrtc.ICECandidateInit),
	}
	go m.run()
	go m.deliver()
	return m, nil
}

func (m *Manager) run() {
	for {
		select {
		case fn := <-m.commands:
			fn()
		case <-m.done:
			m.shutdown()
			return
		}
	}
}

func (m *Manager) deliver() {
	for {
		select {
		case fn := <-m.dispatch:
			fn()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) post(fn func()) {
	select {
	case m.commands <- fn:
	case <-m.done:
	}
}

func (m *Manager) call(fn func()) error {
	finished := make(chan struct{})
	select {
	case m.commands <- func() { fn(); close(finished) }:
	case <-m.done:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

func (m *Manager) emit(fn func()) {
	select {
	case m.dispatch <- fn:
	case <-m.done:
	}
}

// Close tears down the channel membership and stops the event loop.
// All future operations return ErrClosed.
func (m *Manager) Close() error {
	m.closing.Do(func() { close(m.done) })
	return nil
}

// shutdown runs on the loop as its final act.
func (m *Manager) shutdown() {
	for _, link := range m.links {
		link.close()
	}
	m.links = map[string]*peerLink{}
	if m.qualityStop != nil {
		close(m.qualityStop)
		m.qualityStop = nil
	}
}

// JoinChannel subscribes to the channel's broadcast topic and the
// local identity's private topic, then announces presence with a
// broadcast JOIN. An existing membership is left first; there is never
// more than one concurrent channel membership.
func (m *Manager) JoinChannel(channelID int64, identity string, presence PresencePayload) error {
	var joinErr error
	if err := m.call(func() { joinErr = m.join(channelID, identity, presence) }); err != nil {
		return err
	}
	return joinErr
}

func (m *Manager) join(channelID int64, identity string, presence PresencePayload) error {
	if m.joined {
		m.leave()
	}
	m.session++
	m.channelID = channelID
	m.localID = identity
	m.presence = presence

	session := m.session
	handler := func(msg signal.Message) {
		var env SignalEnvelope
		if err := json.Unmarshal(msg.Body, &env); err != nil {
			m.logger.Warn("discarding malformed envelope", "destination", msg.Destination, "error", err)
			return
		}
		m.post(func() {
			if m.session != session {
				return
			}
			m.handleEnvelope(env)
		})
	}

	for _, topic := range []string{ChannelTopic(channelID), UserTopic(identity)} {
		id, err := m.transport.Subscribe(signal.Subscription{
			Destination: topic,
			Handler:     handler,
			Resubscribe: true,
		})
		if err != nil {
			m.unsubscribeAll()
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		m.subIDs = append(m.subIDs, id)
	}

	m.joined = true
	if err := m.publishEnvelope(TypeJoin, "", m.presence); err != nil {
		m.leave()
		return err
	}

	if m.cfg.QualityInterval > 0 {
		m.qualityStop = make(chan struct{})
		go m.qualityLoop(session, m.qualityStop)
	}
	m.logger.Info("joined channel", "channel", channelID, "identity", identity)
	return nil
}

// LeaveChannel broadcasts a LEAVE, tears down every link, and
// unsubscribes both topics. No-op when not joined.
func (m *Manager) LeaveChannel() error {
	return m.call(m.leave)
}

func (m *Manager) leave() {
	if !m.joined {
		return
	}
	if err := m.publishEnvelope(TypeLeave, "", nil); err != nil {
		m.logger.Warn("publishing LEAVE failed", "error", err)
	}
	for peer := range m.links {
		m.teardownLink(peer)
	}
	for _, p := range m.participants {
		m.emitRoster(RosterEvent{Kind: ParticipantLeft, Participant: *p})
	}
	m.participants = make(map[string]*Participant)
	m.pendingCandidates = make(map[string][]webrtc.ICECandidateInit)
	m.unsubscribeAll()
	if m.qualityStop != nil {
		close(m.qualityStop)
		m.qualityStop = nil
	}
	m.session++
	m.joined = false
	m.logger.Info("left channel", "channel", m.channelID)
}

func (m *Manager) unsubscribeAll() {
	for _, id := range m.subIDs {
		if err := m.transport.Unsubscribe(id); err != nil {
			m.logger.Warn("unsubscribe failed", "id", id, "error", err)
		}
	}
	m.subIDs = nil
}

// HandleTransportState reacts to signal transport state changes. Wire
// the client's OnStateChange here. A disconnect bulk-removes the
// roster and links (peers will re-announce); a reconnect re-announces
// our own presence.
func (m *Manager) HandleTransportState(s signal.State) {
	m.post(func() {
		if !m.joined {
			return
		}
		switch s {
		case signal.Reconnecting, signal.Disconnected, signal.Errored:
			for peer := range m.links {
				m.teardownLink(peer)
			}
			for _, p := range m.participants {
				m.emitRoster(RosterEvent{Kind: ParticipantLeft, Participant: *p})
			}
			m.participants = make(map[string]*Participant)
			m.pendingCandidates = make(map[string][]webrtc.ICECandidateInit)
		case signal.Connected:
			if err := m.publishEnvelope(TypeJoin, "", m.presence); err != nil {
				m.logger.Warn("re-announcing presence failed", "error", err)
			}
		}
	})
}

// handleEnvelope dispatches one inbound envelope by type. Handlers
// never propagate errors: protocol violations are logged and the
// envelope discarded.
func (m *Manager) handleEnvelope(env SignalEnvelope) {
	if env.FromUserID == "" || env.FromUserID == m.localID {
		return
	}
	if env.ChannelID != m.channelID {
		m.logger.Warn("discarding envelope for wrong channel", "channel", env.ChannelID)
		return
	}
	switch env.Type {
	case TypeJoin:
		m.handleJoin(env)
	case TypeLeave:
		m.handleLeave(env)
	case TypeOffer:
		m.handleOffer(env)
	case TypeAnswer:
		m.handleAnswer(env)
	case TypeICECandidate:
		m.handleCandidate(env)
	default:
		m.logger.Warn("discarding envelope with unknown type", "type", env.Type, "from", env.FromUserID)
	}
}

// handleJoin upserts the participant, replies to broadcasts with a
// direct JOIN (two-phase discovery: the broadcast announces presence,
// the direct reply introduces existing members to the newcomer), and
// starts negotiation when this side wins the tie-break.
func (m *Manager) handleJoin(env SignalEnvelope) {
	presence, err := env.DecodePresence()
	if err != nil {
		m.logger.Warn("discarding JOIN", "from", env.FromUserID, "error", err)
		return
	}
	peer := env.FromUserID

	if existing, ok := m.participants[peer]; ok {
		existing.DisplayName = presence.DisplayName
		existing.Muted = presence.Muted
		existing.Speaking = presence.Speaking
		existing.ScreenSharing = presence.ScreenSharing
		m.emitRoster(RosterEvent{Kind: ParticipantUpdated, Participant: *existing})
	} else {
		p := &Participant{
			Identity:      peer,
			DisplayName:   presence.DisplayName,
			Muted:         presence.Muted,
			Speaking:      presence.Speaking,
			ScreenSharing: presence.ScreenSharing,
		}
		m.participants[peer] = p
		m.emitRoster(RosterEvent{Kind: ParticipantJoined, Participant: *p})
	}

	if env.Broadcast() {
		if err := m.publishEnvelope(TypeJoin, peer, m.presence); err != nil {
			m.logger.Warn("JOIN reply failed", "to", peer, "error", err)
		}
	}

	// The smaller identity offers; the larger waits for the offer. A
	// duplicate JOIN for a peer with a live link changes nothing here.
	if _, ok := m.links[peer]; !ok && initiatesOffer(m.localID, peer) {
		m.startLink(peer)
	}
}

func (m *Manager) handleLeave(env SignalEnvelope) {
	m.removePeer(env.FromUserID)
}

// removePeer drops the participant and its link, as a LEAVE does.
func (m *Manager) removePeer(peer string) {
	m.teardownLink(peer)
	delete(m.pendingCandidates, peer)
	if p, ok := m.participants[peer]; ok {
		delete(m.participants, peer)
		m.emitRoster(RosterEvent{Kind: ParticipantLeft, Participant: *p})
	}
}

// handleOffer applies a remote offer and sends back the answer. A link
// mid-negotiation cannot absorb a fresh offer, so it is discarded and
// recreated; a stable link takes the offer as a renegotiation.
func (m *Manager) handleOffer(env SignalEnvelope) {
	desc, err := env.DecodeDescription()
	if err != nil {
		m.logger.Warn("discarding OFFER", "from", env.FromUserID, "error", err)
		return
	}
	peer := env.FromUserID

	link, ok := m.links[peer]
	if ok && !link.stable() {
		m.logger.Warn("offer for link mid-negotiation, recreating",
			"peer", peer, "state", link.state.String())
		m.teardownLink(peer)
		ok = false
	}
	if !ok {
		link = m.newLink(peer, false)
		if link == nil {
			return
		}
	}

	if err := link.pc.SetRemoteDescription(desc); err != nil {
		m.recordError(peer, fmt.Sprintf("applying remote offer: %v", err), link.restarts)
		m.teardownLink(peer)
		return
	}
	link.remoteDescApplied = true
	if err := link.flushCandidates(); err != nil {
		m.logger.Warn("flushing buffered candidates", "peer", peer, "error", err)
	}

	answer, err := link.pc.CreateAnswer()
	if err == nil {
		err = link.pc.SetLocalDescription(answer)
	}
	if err != nil {
		m.recordError(peer, fmt.Sprintf("answering offer: %v", err), link.restarts)
		m.teardownLink(peer)
		return
	}
	if link.state != LinkConnected {
		link.state = LinkAnswering
	}
	if err := m.publishEnvelope(TypeAnswer, peer, answer); err != nil {
		m.logger.Warn("sending answer failed", "peer", peer, "error", err)
	}
}

// handleAnswer applies a remote answer. A link not awaiting one makes
// the envelope a protocol violation: logged, discarded, no state
// touched.
func (m *Manager) handleAnswer(env SignalEnvelope) {
	peer := env.FromUserID
	link, ok := m.links[peer]
	if !ok || !link.awaitingAnswer {
		m.logger.Warn("discarding ANSWER with no pending offer", "from", peer)
		return
	}
	desc, err := env.DecodeDescription()
	if err != nil {
		m.logger.Warn("discarding ANSWER", "from", peer, "error", err)
		return
	}
	if err := link.pc.SetRemoteDescription(desc); err != nil {
		m.recordError(peer, fmt.Sprintf("applying remote answer: %v", err), link.restarts)
		m.teardownLink(peer)
		return
	}
	link.awaitingAnswer = false
	link.remoteDescApplied = true
	if err := link.flushCandidates(); err != nil {
		m.logger.Warn("flushing buffered candidates", "peer", peer, "error", err)
	}
}

// handleCandidate applies a trickled candidate, or buffers it when the
// remote description is not in yet. Candidates for peers with no link
// wait in the manager-level buffer.
func (m *Manager) handleCandidate(env SignalEnvelope) {
	candidate, err := env.DecodeCandidate()
	if err != nil {
		m.logger.Warn("discarding candidate", "from", env.FromUserID, "error", err)
		return
	}
	peer := env.FromUserID

	link, ok := m.links[peer]
	if !ok {
		pending := m.pendingCandidates[peer]
		if len(pending) >= m.cfg.CandidateBufferCap {
			pending = pending[1:]
			m.logger.Warn("candidate buffer full, dropping oldest", "peer", peer)
		}
		m.pendingCandidates[peer] = append(pending, candidate)
		return
	}
	if link.remoteDescApplied {
		if err := link.pc.AddICECandidate(candidate); err != nil {
			m.logger.Warn("applying candidate failed", "peer", peer, "error", err)
		}
		return
	}
	if link.bufferCandidate(candidate) {
		m.logger.Warn("candidate buffer full, dropping oldest", "peer", peer)
	}
}

// newLink creates, wires, and registers the link for peer. Candidates
// that arrived before the link existed seed its buffer. Returns nil on
// resource failure (recorded).
func (m *Manager) newLink(peer string, initiator bool) *peerLink {
	pc, err := m.factory()
	if err != nil {
		m.recordError(peer, fmt.Sprintf("creating peer connection: %v", err), 0)
		return nil
	}
	link := &peerLink{
		peerID:       peer,
		pc:           pc,
		state:        LinkIdle,
		initiator:    initiator,
		candidateCap: m.cfg.CandidateBufferCap,
		candidates:   m.pendingCandidates[peer],
	}
	delete(m.pendingCandidates, peer)
	m.links[peer] = link

	session := m.session
	pc.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		m.post(func() {
			if m.session != session || m.links[peer] != link {
				return
			}
			if err := m.publishEnvelope(TypeICECandidate, peer, candidate); err != nil {
				m.logger.Warn("trickling candidate failed", "peer", peer, "error", err)
			}
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.post(func() {
			if m.session != session || m.links[peer] != link {
				return
			}
			m.handleConnectionState(link, state)
		})
	})

	if m.cfg.AudioTrack != nil {
		if link.audioSender, err = pc.AddTrack(m.cfg.AudioTrack); err != nil {
			m.recordError(peer, fmt.Sprintf("attaching audio track: %v", err), 0)
			m.teardownLink(peer)
			return nil
		}
	}
	if m.screenTrack != nil {
		if link.screenSender, err = pc.AddTrack(m.screenTrack); err != nil {
			m.logger.Warn("attaching screen track failed", "peer", peer, "error", err)
		}
	}
	return link
}

// startLink begins negotiation toward peer as the initiator.
func (m *Manager) startLink(peer string) {
	link := m.newLink(peer, true)
	if link == nil {
		return
	}
	m.sendOffer(link, false)
	if link.state != LinkClosed && link.state != LinkConnected {
		link.state = LinkOffering
	}
}

// sendOffer creates and publishes an offer on the link. With restart
// set the offer carries an ICE restart, renegotiating the network path
// without tearing the link down.
func (m *Manager) sendOffer(link *peerLink, restart bool) {
	var options *webrtc.OfferOptions
	if restart {
		options = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := link.pc.CreateOffer(options)
	if err == nil {
		err = link.pc.SetLocalDescription(offer)
	}
	if err != nil {
		m.recordError(link.peerID, fmt.Sprintf("creating offer: %v", err), link.restarts)
		m.teardownLink(link.peerID)
		return
	}
	link.initiator = true
	link.awaitingAnswer = true
	if err := m.publishEnvelope(TypeOffer, link.peerID, offer); err != nil {
		m.logger.Warn("sending offer failed", "peer", link.peerID, "error", err)
	}
}

// handleConnectionState reacts to the link's health. A transient
// disconnect gets a grace period; a terminal failure gets one ICE
// restart before teardown.
func (m *Manager) handleConnectionState(link *peerLink, state webrtc.PeerConnectionState) {
	peer := link.peerID
	m.logger.Info("peer connection state", "peer", peer, "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnected:
		link.stopGraceTimer()
		link.state = LinkConnected
		link.restarts = 0

	case webrtc.PeerConnectionStateDisconnected:
		if link.state != LinkConnected {
			return
		}
		link.state = LinkGrace
		session := m.session
		link.graceTimer = m.clk.AfterFunc(m.cfg.GracePeriod, func() {
			m.post(func() {
				if m.session != session || m.links[peer] != link || link.state != LinkGrace {
					return
				}
				m.logger.Warn("link did not recover within grace period", "peer", peer)
				m.removePeer(peer)
			})
		})

	case webrtc.PeerConnectionStateFailed:
		m.handleLinkFailure(link)

	case webrtc.PeerConnectionStateClosed:
		if m.links[peer] == link {
			m.teardownLink(peer)
		}
	}
}

// handleLinkFailure attempts one ICE restart; a link that cannot
// restart (already retried, or mid-negotiation) is torn down.
func (m *Manager) handleLinkFailure(link *peerLink) {
	peer := link.peerID
	link.stopGraceTimer()
	if link.restarts < 1 && link.pc.SignalingState() == webrtc.SignalingStateStable {
		link.restarts++
		link.state = LinkFailed
		m.recordError(peer, "connection failed, attempting ICE restart", link.restarts)
		m.sendOffer(link, true)
		if m.links[peer] == link && link.state == LinkFailed {
			link.state = LinkOffering
		}
		return
	}
	m.recordError(peer, "connection failed, tearing down link", link.restarts)
	m.teardownLink(peer)
}

// RestartLink renegotiates the link to peer with an ICE restart. A
// link that is not in a renegotiable state is torn down instead.
func (m *Manager) RestartLink(peerID string) error {
	return m.call(func() {
		link, ok := m.links[peerID]
		if !ok {
			return
		}
		if !link.stable() {
			m.logger.Warn("link not renegotiable, tearing down", "peer", peerID, "state", link.state.String())
			m.teardownLink(peerID)
			return
		}
		m.sendOffer(link, true)
		if m.links[peerID] == link && link.state != LinkConnected {
			link.state = LinkOffering
		}
	})
}

func (m *Manager) teardownLink(peer string) {
	link, ok := m.links[peer]
	if !ok {
		return
	}
	link.close()
	delete(m.links, peer)
}

// SetMuted updates the local muted flag and re-announces presence.
func (m *Manager) SetMuted(muted bool) error {
	return m.call(func() {
		m.presence.Muted = muted
		m.announcePresence()
	})
}

// SetSpeaking updates the local speaking flag and re-announces
// presence when the flag changes. Callers drive it from the capture
// level, so unchanged calls are frequent and publish nothing.
func (m *Manager) SetSpeaking(speaking bool) error {
	return m.call(func() {
		if m.presence.Speaking == speaking {
			return
		}
		m.presence.Speaking = speaking
		m.announcePresence()
	})
}

// StartScreenShare attaches the screen track to every link,
// renegotiates, and re-announces presence with the sharing flag set.
func (m *Manager) StartScreenShare(track webrtc.TrackLocal) error {
	var shareErr error
	err := m.call(func() {
		if m.screenTrack != nil {
			shareErr = fmt.Errorf("session: screen share already active")
			return
		}
		m.screenTrack = track
		for _, link := range m.links {
			sender, err := link.pc.AddTrack(track)
			if err != nil {
				m.logger.Warn("attaching screen track failed", "peer", link.peerID, "error", err)
				continue
			}
			link.screenSender = sender
			m.renegotiate(link)
		}
		m.presence.ScreenSharing = true
		m.announcePresence()
	})
	if err != nil {
		return err
	}
	return shareErr
}

// StopScreenShare removes the screen track from every link and
// renegotiates.
func (m *Manager) StopScreenShare() error {
	return m.call(func() {
		if m.screenTrack == nil {
			return
		}
		m.screenTrack = nil
		for _, link := range m.links {
			if link.screenSender == nil {
				continue
			}
			if err := link.pc.RemoveTrack(link.screenSender); err != nil {
				m.logger.Warn("removing screen track failed", "peer", link.peerID, "error", err)
			}
			link.screenSender = nil
			m.renegotiate(link)
		}
		m.presence.ScreenSharing = false
		m.announcePresence()
	})
}

// renegotiate sends a fresh offer on an established link after a track
// change. Links mid-negotiation pick the track up when their current
// exchange settles.
func (m *Manager) renegotiate(link *peerLink) {
	if link.state != LinkConnected || !link.stable() {
		return
	}
	m.sendOffer(link, false)
}

func (m *Manager) announcePresence() {
	if !m.joined {
		return
	}
	if err := m.publishEnvelope(TypeJoin, "", m.presence); err != nil {
		m.logger.Warn("announcing presence failed", "error", err)
	}
}

// publishEnvelope marshals and publishes an envelope. Empty toUser
// broadcasts on the channel topic; otherwise the peer's private topic.
func (m *Manager) publishEnvelope(kind EnvelopeType, toUser string, data any) error {
	env, err := newEnvelope(m.channelID, kind, m.localID, toUser, data)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding %s envelope: %w", kind, err)
	}
	topic := ChannelTopic(m.channelID)
	if toUser != "" {
		topic = UserTopic(toUser)
	}
	if _, err := m.transport.Publish(topic, body); err != nil {
		return fmt.Errorf("publishing %s envelope: %w", kind, err)
	}
	return nil
}

func (m *Manager) qualityLoop(session int, stop chan struct{}) {
	ticker := m.clk.NewTicker(m.cfg.QualityInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.post(func() {
				if m.session != session {
					return
				}
				m.sampleQuality()
			})
		case <-stop:
			return
		case <-m.done:
			return
		}
	}
}

func (m *Manager) sampleQuality() {
	if m.cfg.OnQuality == nil {
		return
	}
	now := m.clk.Now()
	for _, link := range m.links {
		if link.state != LinkConnected {
			continue
		}
		report := qualityFromStats(link.peerID, now, link.pc.GetStats())
		m.emit(func() { m.cfg.OnQuality(report) })
	}
}

func (m *Manager) recordError(peer, message string, retries int) {
	record := newErrorRecord(peer, message, m.clk.Now(), retries)
	if len(m.errors) >= errorHistoryCap {
		m.errors = m.errors[1:]
	}
	m.errors = append(m.errors, record)
	m.logger.Warn("peer error", "peer", peer, "message", message, "retries", retries, "trace", record.ID)
	if m.cfg.OnError != nil {
		m.emit(func() { m.cfg.OnError(record) })
	}
}

func (m *Manager) emitRoster(event RosterEvent) {
	if m.cfg.OnRoster == nil {
		return
	}
	m.emit(func() { m.cfg.OnRoster(event) })
}

// Participants returns the roster sorted by identity.
func (m *Manager) Participants() []Participant {
	var out []Participant
	_ = m.call(func() {
		for _, p := range m.participants {
			out = append(out, *p)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Links returns the current link states keyed by peer identity.
func (m *Manager) Links() map[string]LinkState {
	out := make(map[string]LinkState)
	_ = m.call(func() {
		for peer, link := range m.links {
			out[peer] = link.state
		}
	})
	return out
}

// Errors returns the retained error records, oldest first.
func (m *Manager) Errors() []ErrorRecord {
	var out []ErrorRecord
	_ = m.call(func() {
		out = append(out, m.errors...)
	})
	return out
}
