// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package signal

import "time"

// State is the transport connection state.
type State int

const (
	// Disconnected means no connection exists and none is wanted.
	Disconnected State = iota
	// Connecting means a caller-initiated connection attempt is in
	// flight.
	Connecting
	// Connected means the relay connection is established.
	Connected
	// Reconnecting means the connection was lost and an automatic
	// reconnect is scheduled or in flight.
	Reconnecting
	// Errored means the reconnect budget is exhausted; the transport
	// stays down until Reconnect or Connect is called.
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// PublishOutcome reports what happened to a publish.
type PublishOutcome int

const (
	// PublishSent means the message was written to the live connection.
	PublishSent PublishOutcome = iota
	// PublishQueued means the transport was offline and the message
	// waits in the bounded queue for the next connect.
	PublishQueued
)

// Stats is a read-only snapshot of transport counters for
// observability. Judging connection health is the caller's policy.
type Stats struct {
	State             State
	Sent              uint64
	Received          uint64
	Queued            int
	Dropped           uint64
	ReconnectAttempts int
	CurrentDelay      time.Duration
	LastConnectedAt   time.Time
	LastDisconnectAt  time.Time
	LastError         string
}
