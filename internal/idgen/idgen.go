// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Hex generates a random hex string of the given byte length.
// Report identifiers use 16 bytes (128 bits of entropy, 32 hex chars).
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// WithPrefix generates a random ID with a prefix (e.g. "wd_", "evt_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// ReferralCode generates a short shareable referral code (8 hex chars).
// Collisions are handled by the caller retrying against the store's
// uniqueness constraint.
func ReferralCode() string {
	return Hex(4)
}
