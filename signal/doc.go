// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package signal maintains one logical connection to the Hearth relay
// server and presents it as a publish/subscribe API.
//
// The Client hides disconnects from callers as far as possible:
// subscriptions survive reconnects and are re-established in
// registration order, publishes issued while offline are queued in a
// bounded FIFO and flushed oldest-first on reconnect, and unexpected
// disconnects trigger automatic reconnection with exponential backoff
// up to a configured attempt budget.
//
// All connection and subscription state is owned by a single event
// loop goroutine. Public methods post commands onto the loop and wait
// for the reply, so no two handlers ever mutate transport state
// concurrently. Subscription handlers are invoked in arrival order on
// a dedicated delivery goroutine; they may call back into the Client
// (Publish from inside a handler is safe).
package signal
