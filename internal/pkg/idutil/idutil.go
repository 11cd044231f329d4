package idutil

import (
	"crypto/rand"
	"encoding/hex"
)

func NewID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// NewPrefixed returns a shorter random id behind a fixed prefix, e.g. "local-3fa2c1d09e8b".
func NewPrefixed(prefix string) string {
	bytes := make([]byte, 6)
	_, _ = rand.Read(bytes)
	return prefix + hex.EncodeToString(bytes)
}
