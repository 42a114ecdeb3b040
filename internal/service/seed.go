package service

import (
	"encoding/binary"
	"math/rand"

	"lukechampine.com/blake3"
)

// seedFor derives a 64-bit value from the given parts. The same parts
// always produce the same value, so a retried transaction replays the
// same rolls instead of re-randomizing mid-recovery.
func seedFor(parts ...string) uint64 {
	h := blake3.New(8, nil)
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return binary.BigEndian.Uint64(h.Sum(nil))
}

// seededRand returns a rand source keyed by the parts.
func seededRand(parts ...string) *rand.Rand {
	return rand.New(rand.NewSource(int64(seedFor(parts...))))
}

// seededUnit returns a uniform draw in [0, 1) keyed by the parts.
func seededUnit(parts ...string) float64 {
	return seededRand(parts...).Float64()
}
