// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearth-chat/hearth/lib/clock"
)

// ErrClosed is returned by operations on a Client after Close.
var ErrClosed = errors.New("signal: client closed")

// errHeartbeat marks a connection torn down because the relay stopped
// answering pings.
var errHeartbeat = errors.New("signal: heartbeat timed out")

// Backoff is the reconnect policy: delay before attempt n (0-indexed)
// is min(Max, Base × Multiplier^n).
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64

	// MaxAttempts is the reconnect budget before the transport
	// transitions to Errored. Zero means unlimited.
	MaxAttempts int
}

// delay returns the backoff delay before attempt n.
func (b Backoff) delay(n int) time.Duration {
	d := time.Duration(float64(b.Base) * math.Pow(b.Multiplier, float64(n)))
	if d > b.Max || d < 0 {
		return b.Max
	}
	return d
}

// Config configures a Client.
type Config struct {
	// URL is the relay websocket endpoint. Ignored when Dialer is set.
	URL string

	// Dialer overrides the websocket dialer. Tests inject MemoryRelay.
	Dialer Dialer

	// Token supplies auth credentials for each fresh connection.
	Token TokenProvider

	// Backoff is the automatic reconnect policy.
	Backoff Backoff

	// QueueCapacity bounds the offline publish queue (oldest evicted
	// past capacity). Default 100.
	QueueCapacity int

	// MaxSendAttempts bounds delivery attempts per queued message
	// before it is dropped. Default 3.
	MaxSendAttempts int

	// HeartbeatInterval is the ping cadence while connected. Zero
	// disables heartbeats.
	HeartbeatInterval time.Duration

	// DialTimeout bounds each connection attempt. Default 15s.
	DialTimeout time.Duration

	// Clock injects time for tests. Default clock.Real().
	Clock clock.Clock

	// OnStateChange, when set, receives every connection state
	// transition. Invoked on the delivery goroutine, ordered with
	// message handlers.
	OnStateChange func(State)
}

// Subscription registers interest in a destination topic. The zero ID
// is replaced with a generated one.
type Subscription struct {
	ID          string
	Destination string
	Handler     Handler

	// Resubscribe re-activates the subscription after every
	// successful connect. Subscriptions with it unset are activated
	// once and lost on disconnect.
	Resubscribe bool

	// activated records that the subscription has been announced on
	// some connection. A registration made while disconnected stays
	// unactivated until the next successful connect announces it,
	// whether or not Resubscribe is set.
	activated bool
}

// Client is the signaling transport. Create with New, then Connect.
// All methods are safe for concurrent use.
type Client struct {
	cfg    Config
	dialer Dialer
	clock  clock.Clock
	logger *slog.Logger

	commands chan func()
	dispatch chan func()
	done     chan struct{}
	closing  sync.Once

	// Everything below is owned by the run loop.
	state       State
	conn        Conn
	connDone    chan struct{}
	gen         int
	dialing     bool
	waiters     []chan error
	pongPending bool

	reconnectEnabled bool
	reconnectTimer   *clock.Timer
	attempts         int
	currentDelay     time.Duration

	subs  []*Subscription
	queue *sendQueue

	cachedToken string
	tokenExp    time.Time

	sent          uint64
	received      uint64
	dropped       uint64
	lastErr       error
	lastConnected time.Time
	lastDropped   time.Time
}

// New creates a Client and starts its event loop. The Client holds no
// connection until Connect is called.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == nil {
		return nil, fmt.Errorf("signal: Config.Token is required")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		if cfg.URL == "" {
			return nil, fmt.Errorf("signal: Config.URL or Config.Dialer is required")
		}
		dialer = WebsocketDialer(cfg.URL)
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 100
	}
	if cfg.MaxSendAttempts <= 0 {
		cfg.MaxSendAttempts = 3
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = Backoff{Base: time.Second, Max: 30 * time.Second, Multiplier: 1.5, MaxAttempts: 10}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:      cfg,
		dialer:   dialer,
		clock:    cfg.Clock,
		logger:   logger,
		commands: make(chan func(), 64),
		dispatch: make(chan func(), 256),
		done:     make(chan struct{}),
		queue:    newSendQueue(cfg.QueueCapacity),
	}
	go c.run()
	go c.deliver()
	return c, nil
}

// run is the event loop. Every mutation of connection, subscription,
// and queue state happens here.
func (c *Client) run() {
	for {
		select {
		case fn := <-c.commands:
			fn()
		case <-c.done:
			c.teardown()
			return
		}
	}
}

// deliver invokes subscription handlers and state listeners in the
// order the loop emitted them.
func (c *Client) deliver() {
	for {
		select {
		case fn := <-c.dispatch:
			fn()
		case <-c.done:
			return
		}
	}
}

// post schedules fn on the event loop.
func (c *Client) post(fn func()) {
	select {
	case c.commands <- fn:
	case <-c.done:
	}
}

// call runs fn on the event loop and waits for it to complete.
func (c *Client) call(fn func()) error {
	finished := make(chan struct{})
	select {
	case c.commands <- func() { fn(); close(finished) }:
	case <-c.done:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// emit schedules fn on the delivery goroutine, preserving order.
func (c *Client) emit(fn func()) {
	select {
	case c.dispatch <- fn:
	case <-c.done:
	}
}

// Close shuts the client down: the connection is closed, pending
// timers are cancelled, and all future operations return ErrClosed.
func (c *Client) Close() error {
	c.closing.Do(func() { close(c.done) })
	return nil
}

// Connect establishes the relay connection. Idempotent: when already
// connected it returns immediately, and concurrent callers share a
// single in-flight attempt. On success the reconnect counter resets,
// subscriptions activate in registration order (every never-activated
// registration, plus those flagged Resubscribe), and the offline
// queue flushes oldest-first.
func (c *Client) Connect(ctx context.Context) error {
	result := make(chan error, 1)
	if err := c.call(func() { c.startConnect(result) }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) startConnect(result chan error) {
	switch {
	case c.state == Connected:
		result <- nil
	case c.dialing:
		// Join the in-flight attempt instead of starting a second one.
		c.waiters = append(c.waiters, result)
	default:
		c.reconnectEnabled = true
		c.cancelReconnectTimer()
		if c.state == Errored {
			// Manual connect after budget exhaustion starts over with
			// a fresh token and a fresh attempt counter.
			c.cachedToken = ""
			c.attempts = 0
		}
		c.waiters = append(c.waiters, result)
		c.setState(Connecting)
		c.beginDial()
	}
}

// Disconnect disables automatic reconnection and closes the
// connection if open. Idempotent.
func (c *Client) Disconnect() {
	c.post(func() {
		c.reconnectEnabled = false
		c.cancelReconnectTimer()
		c.teardown()
		c.setState(Disconnected)
	})
}

// Reconnect manually triggers an immediate reconnect attempt. It is a
// no-op when reconnection is disabled, the attempt budget is
// exhausted, or the transport is already connected or dialing.
func (c *Client) Reconnect() {
	c.post(func() {
		if !c.reconnectEnabled || c.state == Connected || c.dialing {
			return
		}
		if c.cfg.Backoff.MaxAttempts > 0 && c.attempts >= c.cfg.Backoff.MaxAttempts {
			return
		}
		c.cancelReconnectTimer()
		c.setState(Reconnecting)
		c.beginDial()
	})
}

// Subscribe registers a subscription. When connected it activates
// immediately; otherwise it activates on the next successful connect.
// Re-registering an ID replaces the previous registration in place,
// keeping its position in the resubscribe order. Returns the
// subscription ID.
func (c *Client) Subscribe(sub Subscription) (string, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	err := c.call(func() {
		replaced := false
		for i, existing := range c.subs {
			if existing.ID == sub.ID {
				c.subs[i] = &sub
				replaced = true
				break
			}
		}
		if !replaced {
			c.subs = append(c.subs, &sub)
		}
		if c.state == Connected && c.writeFrame(Frame{Op: OpSubscribe, ID: sub.ID, Destination: sub.Destination}) {
			sub.activated = true
		}
	})
	return sub.ID, err
}

// Unsubscribe deactivates and removes a subscription. No error if the
// ID is unknown.
func (c *Client) Unsubscribe(id string) error {
	return c.call(func() {
		for i, sub := range c.subs {
			if sub.ID == id {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				if c.state == Connected {
					c.writeFrame(Frame{Op: OpUnsubscribe, ID: id})
				}
				return
			}
		}
	})
}

// Publish sends body to destination. When connected the message goes
// out immediately (PublishSent). Otherwise it is queued for the next
// connect (PublishQueued); if the queue is full the oldest queued
// message is evicted.
func (c *Client) Publish(destination string, body json.RawMessage) (PublishOutcome, error) {
	var outcome PublishOutcome
	err := c.call(func() {
		if c.state == Connected {
			if c.writeFrame(Frame{Op: OpSend, ID: uuid.NewString(), Destination: destination, Body: body}) {
				c.sent++
				outcome = PublishSent
				return
			}
			// The write failed and tore the connection down; fall
			// through to queue the message for the reconnect flush.
		}
		evicted, didEvict := c.queue.push(QueuedMessage{
			Destination: destination,
			Body:        body,
			EnqueuedAt:  c.clock.Now(),
		})
		if didEvict {
			c.dropped++
			c.logger.Warn("publish queue full, evicting oldest message",
				"destination", evicted.Destination,
				"enqueued_at", evicted.EnqueuedAt,
			)
		}
		outcome = PublishQueued
	})
	return outcome, err
}

// Stats returns a snapshot of the transport counters.
func (c *Client) Stats() Stats {
	var stats Stats
	err := c.call(func() {
		stats = Stats{
			State:             c.state,
			Sent:              c.sent,
			Received:          c.received,
			Queued:            c.queue.len(),
			Dropped:           c.dropped,
			ReconnectAttempts: c.attempts,
			CurrentDelay:      c.currentDelay,
			LastConnectedAt:   c.lastConnected,
			LastDisconnectAt:  c.lastDropped,
		}
		if c.lastErr != nil {
			stats.LastError = c.lastErr.Error()
		}
	})
	if err != nil {
		return Stats{State: Disconnected, LastError: ErrClosed.Error()}
	}
	return stats
}

// beginDial launches a connection attempt. Token fetch and the dial
// itself run off the loop; the outcome is posted back.
func (c *Client) beginDial() {
	c.dialing = true
	cached := ""
	if c.cachedToken != "" && !tokenStale(c.tokenExp, c.clock.Now()) {
		cached = c.cachedToken
	}
	timeout := c.cfg.DialTimeout

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		token := cached
		if token == "" {
			fresh, err := c.cfg.Token(ctx)
			if err != nil {
				c.post(func() { c.finishDial(nil, "", fmt.Errorf("fetching auth token: %w", err)) })
				return
			}
			token = fresh
		}

		conn, err := c.dialer.DialContext(ctx, token)
		c.post(func() { c.finishDial(conn, token, err) })
	}()
}

func (c *Client) finishDial(conn Conn, token string, err error) {
	c.dialing = false

	if err != nil {
		c.cachedToken = ""
		c.lastErr = err
		if len(c.waiters) > 0 {
			// Caller-initiated connect: surface the error and leave
			// the transport down for a manual retry.
			c.notifyWaiters(err)
			c.setState(Disconnected)
			return
		}
		if !c.reconnectEnabled {
			c.setState(Disconnected)
			return
		}
		c.logger.Warn("reconnect attempt failed", "error", err, "attempt", c.attempts)
		c.scheduleReconnect()
		return
	}

	if !c.reconnectEnabled {
		// Disconnect raced the dial; drop the fresh connection.
		conn.Close()
		c.notifyWaiters(ErrClosed)
		return
	}

	c.conn = conn
	c.connDone = make(chan struct{})
	c.gen++
	c.cachedToken = token
	c.tokenExp = tokenExpiry(token)
	c.attempts = 0
	c.currentDelay = 0
	c.pongPending = false
	c.lastErr = nil
	c.lastConnected = c.clock.Now()
	c.setState(Connected)

	gen := c.gen
	go c.readLoop(conn, gen)
	if c.cfg.HeartbeatInterval > 0 {
		go c.heartbeatLoop(gen, c.connDone)
	}

	c.resubscribeAll()
	c.flushQueue()
	c.notifyWaiters(nil)
}

func (c *Client) notifyWaiters(err error) {
	for _, w := range c.waiters {
		w <- err
	}
	c.waiters = nil
}

// resubscribeAll activates subscriptions in registration order:
// everything never announced on any connection, plus entries flagged
// Resubscribe.
func (c *Client) resubscribeAll() {
	for _, sub := range c.subs {
		if sub.activated && !sub.Resubscribe {
			continue
		}
		if c.conn == nil {
			return
		}
		if !c.writeFrame(Frame{Op: OpSubscribe, ID: sub.ID, Destination: sub.Destination}) {
			return
		}
		sub.activated = true
	}
}

// flushQueue delivers queued messages oldest-first. A message whose
// attempt budget is spent is dropped and logged, never retried
// forever.
func (c *Client) flushQueue() {
	for c.conn != nil {
		m, ok := c.queue.pop()
		if !ok {
			return
		}
		m.Attempts++
		if m.Attempts > c.cfg.MaxSendAttempts {
			c.dropped++
			c.logger.Warn("dropping queued message after too many attempts",
				"destination", m.Destination,
				"attempts", m.Attempts-1,
			)
			continue
		}
		if !c.writeFrame(Frame{Op: OpSend, ID: uuid.NewString(), Destination: m.Destination, Body: m.Body}) {
			// Connection died mid-flush; the attempt is charged and
			// the message waits for the next connect.
			c.queue.requeue(m)
			return
		}
		c.sent++
	}
}

// writeFrame writes a frame to the live connection. On failure the
// connection is torn down and false is returned.
func (c *Client) writeFrame(frame Frame) bool {
	if c.conn == nil {
		return false
	}
	if err := c.conn.WriteFrame(frame); err != nil {
		c.connError(c.gen, fmt.Errorf("writing %s frame: %w", frame.Op, err))
		return false
	}
	return true
}

// connError handles the death of connection generation gen. Stale
// generations (a reader outliving its replaced connection) are
// ignored.
func (c *Client) connError(gen int, err error) {
	if gen != c.gen || c.conn == nil {
		return
	}
	c.lastErr = err
	c.teardown()
	if !c.reconnectEnabled {
		c.setState(Disconnected)
		return
	}
	c.logger.Warn("relay connection lost", "error", err)
	c.setState(Reconnecting)
	c.scheduleReconnect()
}

// teardown closes the current connection, if any.
func (c *Client) teardown() {
	if c.conn == nil {
		return
	}
	c.conn.Close()
	c.conn = nil
	c.gen++
	close(c.connDone)
	c.lastDropped = c.clock.Now()
}

func (c *Client) scheduleReconnect() {
	budget := c.cfg.Backoff.MaxAttempts
	if budget > 0 && c.attempts >= budget {
		c.logger.Error("reconnect budget exhausted, giving up",
			"attempts", c.attempts,
			"error", c.lastErr,
		)
		c.setState(Errored)
		return
	}

	delay := c.cfg.Backoff.delay(c.attempts)
	c.attempts++
	c.currentDelay = delay
	c.logger.Info("scheduling reconnect", "delay", delay, "attempt", c.attempts)
	c.reconnectTimer = c.clock.AfterFunc(delay, func() {
		c.post(c.autoReconnect)
	})
}

func (c *Client) autoReconnect() {
	if !c.reconnectEnabled || c.dialing || c.state == Connected {
		return
	}
	c.setState(Reconnecting)
	c.beginDial()
}

func (c *Client) cancelReconnectTimer() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.cfg.OnStateChange != nil {
		c.emit(func() { c.cfg.OnStateChange(s) })
	}
}

// readLoop pulls frames off one connection generation and posts them
// to the event loop.
func (c *Client) readLoop(conn Conn, gen int) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			c.post(func() { c.connError(gen, err) })
			return
		}
		f := frame
		c.post(func() { c.handleFrame(gen, f) })
	}
}

func (c *Client) handleFrame(gen int, frame Frame) {
	if gen != c.gen {
		return
	}
	switch frame.Op {
	case OpMessage:
		c.received++
		for _, sub := range c.subs {
			if sub.Destination != frame.Destination || sub.Handler == nil {
				continue
			}
			handler := sub.Handler
			message := Message{Destination: frame.Destination, Body: frame.Body}
			c.emit(func() { handler(message) })
		}
	case OpPong:
		c.pongPending = false
	case OpPing:
		c.writeFrame(Frame{Op: OpPong})
	case OpError:
		// Relay-reported errors never propagate out of the loop.
		c.logger.Warn("relay error frame", "error", frame.Error, "destination", frame.Destination)
	default:
		c.logger.Debug("unknown frame op", "op", frame.Op)
	}
}

// heartbeatLoop pings the relay on a fixed cadence. A ping that goes
// unanswered by the next tick tears the connection down so the
// reconnect path can take over.
func (c *Client) heartbeatLoop(gen int, connDone <-chan struct{}) {
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.post(func() {
				if gen != c.gen || c.conn == nil {
					return
				}
				if c.pongPending {
					c.connError(gen, errHeartbeat)
					return
				}
				c.pongPending = true
				c.writeFrame(Frame{Op: OpPing})
			})
		case <-connDone:
			return
		case <-c.done:
			return
		}
	}
}
