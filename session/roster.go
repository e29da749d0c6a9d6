// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package session

// Participant is one remote member of the joined channel.
type Participant struct {
	Identity      string
	DisplayName   string
	Muted         bool
	Speaking      bool
	ScreenSharing bool
}

// RosterEventKind discriminates roster changes.
type RosterEventKind int

const (
	ParticipantJoined RosterEventKind = iota
	ParticipantLeft
	ParticipantUpdated
)

func (k RosterEventKind) String() string {
	switch k {
	case ParticipantJoined:
		return "joined"
	case ParticipantLeft:
		return "left"
	case ParticipantUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// RosterEvent is one discrete roster change, delivered to the
// Config.OnRoster listener.
type RosterEvent struct {
	Kind        RosterEventKind
	Participant Participant
}
