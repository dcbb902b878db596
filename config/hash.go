// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"encoding/binary"
	"math"
)

// fnvOffsetBasis is the 64-bit FNV-1a offset basis, reused here as the
// seed for Hash so a sender and receiver loaded from byte-identical
// configuration always land on the same value.
const fnvOffsetBasis uint64 = 14695981039346656037

const fnvPrime64 uint64 = 1099511628211

// fnv1a hashes data starting from seed, one byte at a time.
func fnv1a(seed uint64, data []byte) uint64 {
	h := seed
	for _, b := range data {
		h ^= uint64(b)
		h *= fnvPrime64
	}
	return h
}

// combine folds h2 into h1, the same way the upstream source's
// hash_combine does, borrowed from Boost's hash_combine.
func combine(h1, h2 uint64) uint64 {
	return h1 ^ (h2 + 0x9e3779b97f4a7c15 + (h1 << 6) + (h1 >> 2))
}

func hashFloatSeconds(d float64Seconds) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(float64(d)))
	return fnv1a(fnvOffsetBasis, buf[:])
}

func hashUint32(v uint32) uint64 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return fnv1a(fnvOffsetBasis, buf[:])
}

func hashString(s string) uint64 {
	return fnv1a(fnvOffsetBasis, []byte(s))
}

// float64Seconds is a thin alias used only to make the hash functions'
// intent explicit at call sites below.
type float64Seconds = float64

// Hash computes the configuration hash a sender advertises in every
// packet header and a receiver checks against its own locally loaded
// configuration. It is order-sensitive: channels, and the extra/polled
// fields within each channel, are hashed in configuration order, the
// same order Flatten uses to assign wire indices.
func Hash(cfg Config) uint64 {
	h := fnvOffsetBasis

	h = combine(h, hashFloatSeconds(cfg.MinUpdatePeriod.Seconds()))
	h = combine(h, hashFloatSeconds(cfg.PolledFieldsUpdatePeriod.Seconds()))
	h = combine(h, hashFloatSeconds(cfg.HeartbeatPeriod.Seconds()))
	h = combine(h, hashUint32(cfg.RateLimitMBs))

	for _, ch := range cfg.Channels {
		h = combine(h, hashString(ch.Name))
		for _, f := range ch.ExtraFields {
			h = combine(h, hashString(f))
		}
		for _, f := range ch.PolledFields {
			h = combine(h, hashString(f))
		}
	}

	return h
}
