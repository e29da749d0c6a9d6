// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// PeerConnection abstracts the WebRTC connection under a PeerLink.
// The production implementation wraps pion; protocol tests substitute
// a fake so negotiation runs without sockets or media.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState

	// OnICECandidate registers the trickle callback. It is invoked with
	// each locally gathered candidate; gathering completion is not
	// reported (a nil pion candidate is swallowed by the wrapper).
	OnICECandidate(fn func(webrtc.ICECandidateInit))

	// OnConnectionStateChange registers the health callback.
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))

	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(sender *webrtc.RTPSender) error

	GetStats() webrtc.StatsReport
	Close() error
}

// PeerConnectionFactory creates the PeerConnection for a new link.
type PeerConnectionFactory func() (PeerConnection, error)

// ICEOptions is the STUN/TURN configuration handed to every new peer
// connection.
type ICEOptions struct {
	Servers []webrtc.ICEServer

	// RelayOnly restricts gathering to TURN relay candidates, hiding
	// host addresses at the cost of relayed media.
	RelayOnly bool
}

// PionFactory returns a factory producing real pion peer connections.
func PionFactory(opts ICEOptions) PeerConnectionFactory {
	return func() (PeerConnection, error) {
		config := webrtc.Configuration{ICEServers: opts.Servers}
		if opts.RelayOnly {
			config.ICETransportPolicy = webrtc.ICETransportPolicyRelay
		}
		pc, err := webrtc.NewPeerConnection(config)
		if err != nil {
			return nil, fmt.Errorf("creating peer connection: %w", err)
		}
		return &pionConn{pc: pc}, nil
	}
}

type pionConn struct {
	pc *webrtc.PeerConnection
}

func (c *pionConn) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(options)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConn) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *pionConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			// Gathering completed; trickle signaling has nothing to send.
			return
		}
		fn(candidate.ToJSON())
	})
}

func (c *pionConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *pionConn) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return c.pc.AddTrack(track)
}

func (c *pionConn) RemoveTrack(sender *webrtc.RTPSender) error {
	return c.pc.RemoveTrack(sender)
}

func (c *pionConn) GetStats() webrtc.StatsReport {
	return c.pc.GetStats()
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}
