// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package signal

import (
	"context"
	"errors"
	"sync"
)

// MemoryRelay is an in-process relay implementing the frame protocol
// over channels. It lets transport and session tests run the real
// Client against a real pub/sub fabric without a network. Connections
// can be dropped on demand to exercise the reconnect path.
type MemoryRelay struct {
	mu        sync.Mutex
	conns     map[*memoryConn]struct{}
	authorize func(token string) error
	dialErr   error

	silentPings bool
	subLog      []string
	pings       int
	dials       int
}

// NewMemoryRelay creates an empty relay that accepts every token.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{conns: make(map[*memoryConn]struct{})}
}

// SetAuthorize installs a token check applied on every dial.
func (r *MemoryRelay) SetAuthorize(fn func(token string) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authorize = fn
}

// SetDialError makes every subsequent dial fail with err (nil clears).
// Simulates an unreachable relay.
func (r *MemoryRelay) SetDialError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialErr = err
}

// DropConnections severs every live connection from the server side,
// as a network partition would.
func (r *MemoryRelay) DropConnections() {
	r.mu.Lock()
	conns := make([]*memoryConn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

// SetSilentPings makes the relay swallow pings without answering, as
// a half-dead connection would.
func (r *MemoryRelay) SetSilentPings(silent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.silentPings = silent
}

// ConnCount returns the number of live connections.
func (r *MemoryRelay) ConnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// DialCount returns the number of dial attempts, successful or not.
func (r *MemoryRelay) DialCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials
}

// PingCount returns the number of pings received.
func (r *MemoryRelay) PingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pings
}

// SubscribeLog returns the destinations of every subscribe frame in
// arrival order.
func (r *MemoryRelay) SubscribeLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.subLog...)
}

// ClearSubscribeLog resets the subscribe log.
func (r *MemoryRelay) ClearSubscribeLog() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subLog = nil
}

// DialContext implements Dialer.
func (r *MemoryRelay) DialContext(ctx context.Context, token string) (Conn, error) {
	r.mu.Lock()
	r.dials++
	dialErr := r.dialErr
	authorize := r.authorize
	r.mu.Unlock()

	if dialErr != nil {
		return nil, dialErr
	}
	if authorize != nil {
		if err := authorize(token); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn := &memoryConn{
		relay:    r,
		incoming: make(chan Frame, 64),
		closed:   make(chan struct{}),
		subs:     make(map[string]string),
	}
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()
	return conn, nil
}

// route delivers a send frame to every connection subscribed to its
// destination, including the sender's own subscriptions.
func (r *MemoryRelay) route(frame Frame) {
	r.mu.Lock()
	var targets []*memoryConn
	for conn := range r.conns {
		if conn.subscribedLocked(frame.Destination) {
			targets = append(targets, conn)
		}
	}
	r.mu.Unlock()

	delivery := Frame{Op: OpMessage, Destination: frame.Destination, Body: frame.Body}
	for _, conn := range targets {
		conn.push(delivery)
	}
}

type memoryConn struct {
	relay    *MemoryRelay
	incoming chan Frame
	closed   chan struct{}
	once     sync.Once

	// subs maps subscription id → destination. Guarded by relay.mu.
	subs map[string]string
}

var errConnDropped = errors.New("signal: memory relay connection dropped")

func (c *memoryConn) ReadFrame() (Frame, error) {
	select {
	case frame := <-c.incoming:
		return frame, nil
	case <-c.closed:
		return Frame{}, errConnDropped
	}
}

func (c *memoryConn) WriteFrame(frame Frame) error {
	select {
	case <-c.closed:
		return errConnDropped
	default:
	}

	switch frame.Op {
	case OpSubscribe:
		c.relay.mu.Lock()
		c.subs[frame.ID] = frame.Destination
		c.relay.subLog = append(c.relay.subLog, frame.Destination)
		c.relay.mu.Unlock()
	case OpUnsubscribe:
		c.relay.mu.Lock()
		delete(c.subs, frame.ID)
		c.relay.mu.Unlock()
	case OpSend:
		c.relay.route(frame)
	case OpPing:
		c.relay.mu.Lock()
		c.relay.pings++
		silent := c.relay.silentPings
		c.relay.mu.Unlock()
		if !silent {
			c.push(Frame{Op: OpPong})
		}
	case OpPong:
	default:
		c.push(Frame{Op: OpError, Error: "unknown op " + frame.Op})
	}
	return nil
}

func (c *memoryConn) Close() error {
	c.once.Do(func() {
		c.relay.mu.Lock()
		delete(c.relay.conns, c)
		c.relay.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// subscribedLocked reports whether any subscription targets the
// destination. Caller holds relay.mu.
func (c *memoryConn) subscribedLocked(destination string) bool {
	for _, dest := range c.subs {
		if dest == destination {
			return true
		}
	}
	return false
}

// push delivers a frame to the client side, dropping it if the
// connection is gone.
func (c *memoryConn) push(frame Frame) {
	select {
	case c.incoming <- frame:
	case <-c.closed:
	}
}
