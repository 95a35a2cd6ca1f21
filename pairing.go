/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"crypto/rand"
)

const derangeAttempts = 300

var errAssignFailed = &actionError{Code: "ASSIGN_FAILED"}

// shuffleIDs performs an in-place Fisher-Yates shuffle using crypto/rand.
func shuffleIDs(a []string) {
	for i := len(a) - 1; i > 0; i-- {
		var b [1]byte
		if _, err := rand.Read(b[:]); err != nil {
			continue
		}
		j := int(b[0]) % (i + 1)
		a[i], a[j] = a[j], a[i]
	}
}

func hasFixedPoint(ids, out []string) bool {
	for i := range ids {
		if out[i] == ids[i] {
			return true
		}
	}
	return false
}

// fallbackDerange swaps the last two elements. For n = 2 this is the only
// derangement; for larger inputs it may leave fixed points, in which case
// the caller gets a terminal failure instead of a bad assignment.
func fallbackDerange(ids []string) ([]string, error) {
	out := make([]string, len(ids))
	copy(out, ids)

	n := len(out)
	out[n-1], out[n-2] = out[n-2], out[n-1]

	if hasFixedPoint(ids, out) {
		return nil, errAssignFailed
	}
	return out, nil
}

// derange returns a uniformly shuffled permutation of ids in which no
// element keeps its original position. A uniform random permutation is
// fixed-point-free with probability approaching 1/e, so a few hundred
// attempts fail only with vanishing probability.
func derange(ids []string) ([]string, error) {
	if len(ids) < 2 {
		return nil, errAssignFailed
	}

	out := make([]string, len(ids))
	copy(out, ids)

	for tries := 0; tries < derangeAttempts; tries++ {
		shuffleIDs(out)
		if !hasFixedPoint(ids, out) {
			return out, nil
		}
	}

	return fallbackDerange(ids)
}
