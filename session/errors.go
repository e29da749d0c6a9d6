// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/google/uuid"
)

// errorHistoryCap bounds the retained error records; older records are
// discarded.
const errorHistoryCap = 32

// ErrorRecord describes one peer-scoped failure, kept for UI display
// and diagnostics.
type ErrorRecord struct {
	// ID is a unique trace id for correlating the record with logs.
	ID string

	PeerID  string
	Message string
	Time    time.Time

	// Retries is how many recovery attempts (ICE restarts) the link had
	// consumed when the error was recorded.
	Retries int
}

func newErrorRecord(peerID, message string, now time.Time, retries int) ErrorRecord {
	return ErrorRecord{
		ID:      uuid.NewString(),
		PeerID:  peerID,
		Message: message,
		Time:    now,
		Retries: retries,
	}
}
