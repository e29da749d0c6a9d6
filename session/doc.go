// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package session negotiates and maintains direct WebRTC links to the
// other participants of a channel, using the signal transport to
// exchange offer/answer descriptions and trickled ICE candidates.
//
// One Manager owns every PeerLink and all roster state. Like the
// signal client it runs a single event loop: transport deliveries,
// pion callbacks, timers, and caller operations are all serialized
// onto it, so no peer state needs a lock. Callbacks out of the
// package (roster, quality, and error listeners) run on a separate
// delivery goroutine in emission order.
package session
