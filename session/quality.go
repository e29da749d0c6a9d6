// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// QualityReport is a raw per-peer connection sample. The manager only
// reads counters out of the WebRTC stats; rating them (excellent,
// poor, ...) is display policy left to callers.
type QualityReport struct {
	PeerID string
	Time   time.Time

	// RTT is the current ICE round-trip time. Zero when the selected
	// candidate pair has not produced a measurement yet.
	RTT time.Duration

	// Jitter is the inbound RTP interarrival jitter in seconds.
	Jitter float64

	PacketsReceived uint32
	PacketsLost     int32

	// FractionLost is the remote-reported loss fraction over the last
	// reporting interval.
	FractionLost float64
}

// qualityFromStats extracts the report counters from a pion stats
// snapshot. Missing stat entries leave their fields zero.
func qualityFromStats(peerID string, now time.Time, report webrtc.StatsReport) QualityReport {
	q := QualityReport{PeerID: peerID, Time: now}
	for _, stat := range report {
		switch s := stat.(type) {
		case webrtc.ICECandidatePairStats:
			if s.State == webrtc.StatsICECandidatePairStateSucceeded && s.CurrentRoundTripTime > 0 {
				q.RTT = time.Duration(s.CurrentRoundTripTime * float64(time.Second))
			}
		case webrtc.InboundRTPStreamStats:
			q.Jitter = s.Jitter
			q.PacketsReceived = s.PacketsReceived
			q.PacketsLost = s.PacketsLost
		case webrtc.RemoteInboundRTPStreamStats:
			q.FractionLost = s.FractionLost
			if q.RTT == 0 && s.RoundTripTime > 0 {
				q.RTT = time.Duration(s.RoundTripTime * float64(time.Second))
			}
		}
	}
	return q
}
