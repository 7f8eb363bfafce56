// Package sha256 computes content digests recorded as object metadata.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements transfer.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Algorithm names the digest; it doubles as the metadata key.
func (h *Hasher) Algorithm() string {
	return "sha256"
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
