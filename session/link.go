// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/hearth-chat/hearth/lib/clock"
)

// LinkState is the lifecycle state of one peer link.
type LinkState int

const (
	// LinkIdle: the link exists but negotiation has not started.
	LinkIdle LinkState = iota
	// LinkOffering: a local offer is out, waiting for the answer.
	LinkOffering
	// LinkAnswering: a remote offer was applied and answered, waiting
	// for the connection to come up.
	LinkAnswering
	// LinkConnected: media is flowing.
	LinkConnected
	// LinkGrace: the connection dropped transiently; a grace timer is
	// running before teardown.
	LinkGrace
	// LinkFailed: the connection failed terminally; a restart is in
	// flight or the link is about to be torn down.
	LinkFailed
	// LinkClosed: torn down. The link is about to leave the table.
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkOffering:
		return "offering"
	case LinkAnswering:
		return "answering"
	case LinkConnected:
		return "connected"
	case LinkGrace:
		return "grace"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// peerLink is the negotiation state for one remote identity. Owned by
// the Manager event loop; never touched elsewhere.
type peerLink struct {
	peerID string
	pc     PeerConnection
	state  LinkState

	// initiator records which side created the current offer.
	initiator bool

	// awaitingAnswer is set while a local offer (initial or restart)
	// has no answer yet. An ANSWER arriving while it is unset is a
	// protocol violation and is discarded.
	awaitingAnswer bool

	// remoteDescApplied flips when the first remote description is
	// set; candidates buffer until then and apply directly after.
	remoteDescApplied bool

	// candidates buffers remote ICE candidates that arrived before the
	// remote description. Bounded; oldest dropped past candidateCap.
	candidates   []webrtc.ICECandidateInit
	candidateCap int
	flushed      bool

	// restarts counts ICE restart attempts for the current failure;
	// one restart is attempted before giving up.
	restarts int

	graceTimer *clock.Timer

	audioSender  *webrtc.RTPSender
	screenSender *webrtc.RTPSender
}

// bufferCandidate appends a candidate to the pre-description buffer,
// dropping the oldest when full. Reports whether one was dropped.
func (l *peerLink) bufferCandidate(candidate webrtc.ICECandidateInit) bool {
	dropped := false
	if len(l.candidates) >= l.candidateCap {
		l.candidates = l.candidates[1:]
		dropped = true
	}
	l.candidates = append(l.candidates, candidate)
	return dropped
}

// flushCandidates applies the buffered candidates in arrival order and
// clears the buffer. Runs exactly once per link, immediately after the
// first successful remote description.
func (l *peerLink) flushCandidates() error {
	if l.flushed {
		return nil
	}
	l.flushed = true
	for _, candidate := range l.candidates {
		if err := l.pc.AddICECandidate(candidate); err != nil {
			l.candidates = nil
			return fmt.Errorf("applying buffered candidate: %w", err)
		}
	}
	l.candidates = nil
	return nil
}

// stopGraceTimer cancels a pending grace teardown, if any.
func (l *peerLink) stopGraceTimer() {
	if l.graceTimer != nil {
		l.graceTimer.Stop()
		l.graceTimer = nil
	}
}

// stable reports whether the link can start a fresh negotiation: the
// underlying signaling state is stable and no exchange is pending.
func (l *peerLink) stable() bool {
	return l.pc.SignalingState() == webrtc.SignalingStateStable && !l.awaitingAnswer
}

// close releases the connection and marks the link closed. Safe to
// call more than once.
func (l *peerLink) close() {
	if l.state == LinkClosed {
		return
	}
	l.stopGraceTimer()
	l.state = LinkClosed
	l.pc.Close()
}
