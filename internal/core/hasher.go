package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "GasFutures:genesis:v1"

// StateHasher chains the envelopes of one stream (a market, or the account
// stream for collateral movements).
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes the chain for stream from the genesis seed.
func NewStateHasher(stream string) *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed + ":" + stream)),
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || digest)
// and advances the chain.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}
