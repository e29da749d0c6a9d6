// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pion/webrtc/v4"
)

// EnvelopeType discriminates signaling envelopes.
type EnvelopeType string

const (
	TypeJoin         EnvelopeType = "JOIN"
	TypeLeave        EnvelopeType = "LEAVE"
	TypeOffer        EnvelopeType = "OFFER"
	TypeAnswer       EnvelopeType = "ANSWER"
	TypeICECandidate EnvelopeType = "ICE_CANDIDATE"
)

// SignalEnvelope is the wire shape of every signaling message. A nil
// ToUserID means the envelope was broadcast on the channel topic;
// non-nil means it was addressed to one participant's private topic.
type SignalEnvelope struct {
	ChannelID  int64           `json:"channelId"`
	Type       EnvelopeType    `json:"type"`
	FromUserID string          `json:"fromUserId"`
	ToUserID   *string         `json:"toUserId"`
	Data       json.RawMessage `json:"data"`
}

// Broadcast reports whether the envelope targets the whole channel.
func (e *SignalEnvelope) Broadcast() bool { return e.ToUserID == nil }

// PresencePayload is the data of a JOIN envelope: the sender's
// display state. A re-sent JOIN with changed fields acts as a
// presence update.
type PresencePayload struct {
	DisplayName   string `json:"displayName"`
	Muted         bool   `json:"muted"`
	Speaking      bool   `json:"speaking"`
	ScreenSharing bool   `json:"screenSharing"`
}

// DecodePresence decodes a JOIN payload. A JOIN with no data yields
// the zero payload.
func (e *SignalEnvelope) DecodePresence() (PresencePayload, error) {
	var p PresencePayload
	if len(e.Data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return p, fmt.Errorf("decoding %s presence payload: %w", e.Type, err)
	}
	return p, nil
}

// DecodeDescription decodes an OFFER or ANSWER payload into a session
// description.
func (e *SignalEnvelope) DecodeDescription() (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(e.Data, &desc); err != nil {
		return desc, fmt.Errorf("decoding %s description payload: %w", e.Type, err)
	}
	if desc.SDP == "" {
		return desc, fmt.Errorf("decoding %s description payload: empty SDP", e.Type)
	}
	return desc, nil
}

// DecodeCandidate decodes an ICE_CANDIDATE payload.
func (e *SignalEnvelope) DecodeCandidate() (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(e.Data, &c); err != nil {
		return c, fmt.Errorf("decoding candidate payload: %w", err)
	}
	return c, nil
}

// newEnvelope builds an envelope with data marshalled in place. toUser
// empty means broadcast.
func newEnvelope(channelID int64, kind EnvelopeType, from, toUser string, data any) (SignalEnvelope, error) {
	env := SignalEnvelope{
		ChannelID:  channelID,
		Type:       kind,
		FromUserID: from,
	}
	if toUser != "" {
		env.ToUserID = &toUser
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return env, fmt.Errorf("encoding %s payload: %w", kind, err)
		}
		env.Data = raw
	}
	return env, nil
}

// ChannelTopic is the broadcast destination for a channel.
func ChannelTopic(channelID int64) string {
	return "channel." + strconv.FormatInt(channelID, 10)
}

// UserTopic is the private destination for one participant.
func UserTopic(identity string) string {
	return "user." + identity
}
