// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package signal

import "encoding/json"

// Frame ops exchanged with the relay. The relay routes "send" frames
// to every client subscribed to the destination, delivering them as
// "message" frames.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpSend        = "send"
	OpMessage     = "message"
	OpPing        = "ping"
	OpPong        = "pong"
	OpError       = "error"
)

// Frame is the wire envelope for every relay exchange.
type Frame struct {
	Op          string          `json:"op"`
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Message is one delivery to a subscription handler.
type Message struct {
	// Destination is the topic the message was published to.
	Destination string

	// Body is the publisher's payload, opaque to the transport.
	Body json.RawMessage
}

// Handler consumes messages for a subscription. Handlers run on the
// Client's delivery goroutine in arrival order.
type Handler func(Message)
