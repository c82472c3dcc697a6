package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewUUID returns a random UUID string. All entity IDs are UUIDs.
func NewUUID() string {
	return uuid.NewString()
}

// NewToken returns a random opaque token, optionally prefixed for debuggability.
func NewToken(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
