// SPDX-License-Identifier: GPL-3.0-or-later

// Package valuehash computes a cheap, non-cryptographic fingerprint of
// a channel's raw value bytes, used by a sender to decide whether a
// polled field actually changed since it was last read and is
// therefore worth queuing an update for.
package valuehash

import (
	"hash/fnv"

	"github.com/cespare/xxhash"
)

// smallThreshold is the value size, in bytes, at or below which a
// plain FNV-1a pass is cheaper than setting up a wider hash.
const smallThreshold = 8

// Hash returns a fingerprint of value. Two calls with byte-identical
// value slices always return the same result; collisions are possible
// and acceptable, since the cost of an occasional unnecessary update is
// far lower than the cost of a hash expensive enough to show up in a
// per-channel polling loop.
func Hash(value []byte) uint64 {
	if len(value) <= smallThreshold {
		h := fnv.New64a()
		h.Write(value)
		return h.Sum64()
	}
	return xxhash.Sum64(value)
}
