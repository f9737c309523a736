package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns 128 random bits as hex, joined to prefix with "_" when one is
// given. Used for token ids and refresh tokens.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
