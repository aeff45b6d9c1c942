// Package seed derives deterministic per-trial RNG seeds so that a rerun
// with the same (study, trial index, base seed) reproduces identical
// draws on any machine.
package seed

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Triplet is the three 32-bit words derived from a trial's identity. Word 0
// feeds the sampler's local RNG, word 1 feeds any objective-visible RNG the
// caller wants seeded, and word 2 is reserved for future use (e.g. a
// pruner-local stream) without needing to re-derive anything.
type Triplet [3]uint32

// Derive hashes "{studyID}:{trialIndex}:{baseSeed}" with SHA-256 and takes
// the first 12 bytes as three big-endian uint32 words. Pure function: same
// inputs always produce the same Triplet, independent of process or arch.
func Derive(studyID string, trialIndex int, baseSeed uint64) Triplet {
	input := fmt.Sprintf("%s:%d:%d", studyID, trialIndex, baseSeed)
	sum := sha256.Sum256([]byte(input))

	var t Triplet
	t[0] = binary.BigEndian.Uint32(sum[0:4])
	t[1] = binary.BigEndian.Uint32(sum[4:8])
	t[2] = binary.BigEndian.Uint32(sum[8:12])
	return t
}

// SamplerSeed is the word conventionally used to seed sampler-local
// randomness.
func (t Triplet) SamplerSeed() int64 { return int64(t[0]) }

// ObjectiveSeed is the word conventionally exposed to the user objective.
func (t Triplet) ObjectiveSeed() int64 { return int64(t[1]) }

// ReserveSeed is the word reserved for auxiliary streams (pruners, etc).
func (t Triplet) ReserveSeed() int64 { return int64(t[2]) }
