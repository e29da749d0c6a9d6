// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package signal

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenProvider supplies a short-lived auth credential for connecting
// to the relay. The transport calls it before every fresh connection
// attempt whose cached token has expired.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken returns a TokenProvider that always yields the same
// token. Useful for tests and long-lived credentials.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) { return token, nil }
}

// tokenRefreshMargin is how far before a token's expiry the transport
// treats it as stale and fetches a fresh one, so a reconnect never
// replays a credential about to lapse mid-handshake.
const tokenRefreshMargin = 30 * time.Second

// tokenExpiry extracts the expiry claim from a JWT without verifying
// its signature — verification is the relay's job; the client only
// needs to know when to stop reusing the cached credential. Returns
// the zero time for opaque (non-JWT) tokens, which are then cached
// until the next explicit Connect.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return time.Time{}
	}
	return expiry.Time
}

// tokenStale reports whether a cached token should be replaced before
// the next connection attempt.
func tokenStale(expiry, now time.Time) bool {
	if expiry.IsZero() {
		return false
	}
	return !now.Add(tokenRefreshMargin).Before(expiry)
}
