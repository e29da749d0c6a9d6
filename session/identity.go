// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "strconv"

// initiatesOffer reports whether local is the offering side toward
// remote. The smaller identity initiates; the larger waits for the
// offer, so for any pair exactly one side offers regardless of which
// JOIN arrives first. Identities that both parse as integers compare
// numerically ("9" initiates to "10"); otherwise lexicographically.
func initiatesOffer(local, remote string) bool {
	ln, lerr := strconv.ParseInt(local, 10, 64)
	rn, rerr := strconv.ParseInt(remote, 10, 64)
	if lerr == nil && rerr == nil {
		return ln < rn
	}
	return local < remote
}
