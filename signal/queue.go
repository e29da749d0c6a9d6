// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package signal

import (
	"encoding/json"
	"time"
)

// QueuedMessage is a publish captured while the transport was
// disconnected, waiting for the next successful connect.
type QueuedMessage struct {
	Destination string
	Body        json.RawMessage
	EnqueuedAt  time.Time
	Attempts    int
}

// sendQueue is a bounded FIFO of queued publishes. When full, pushing
// evicts the oldest entry. Not safe for concurrent use; the Client's
// event loop is the only accessor.
type sendQueue struct {
	entries  []QueuedMessage
	capacity int
}

func newSendQueue(capacity int) *sendQueue {
	return &sendQueue{capacity: capacity}
}

// push appends a message. Returns the evicted oldest entry and true
// when the queue was at capacity.
func (q *sendQueue) push(m QueuedMessage) (QueuedMessage, bool) {
	var evicted QueuedMessage
	var didEvict bool
	if len(q.entries) >= q.capacity {
		evicted = q.entries[0]
		q.entries = q.entries[1:]
		didEvict = true
	}
	q.entries = append(q.entries, m)
	return evicted, didEvict
}

// pop removes and returns the oldest entry.
func (q *sendQueue) pop() (QueuedMessage, bool) {
	if len(q.entries) == 0 {
		return QueuedMessage{}, false
	}
	m := q.entries[0]
	q.entries = q.entries[1:]
	return m, true
}

// requeue puts a message back at the front after a failed delivery
// attempt, preserving FIFO order for the next flush.
func (q *sendQueue) requeue(m QueuedMessage) {
	q.entries = append([]QueuedMessage{m}, q.entries...)
}

func (q *sendQueue) len() int { return len(q.entries) }
