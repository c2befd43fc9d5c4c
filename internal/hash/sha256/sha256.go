// Package sha256 computes the content digests used for document change detection.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements document.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// HashString returns the hex digest of the raw document content.
func (h *Hasher) HashString(content string) string {
	return h.HashBytes([]byte(content))
}

// HashBytes returns the hex digest of data; raw page archives are keyed by it.
func (*Hasher) HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
