// Package keycode generates and validates one-time license key codes.
package keycode

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Length is the exact character length of every generated key code.
// 24 random bytes hex-encoded: 192 bits of entropy.
const Length = 48

// New returns a cryptographically secure key code.
func New() (string, error) {
	b := make([]byte, Length/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Valid reports whether s has the exact shape of a generated code.
// A cheap pre-store filter, not a security boundary on its own.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// SecureCompare compares two credentials in constant time.
// Both sides are hashed first so the comparison length never depends on input.
func SecureCompare(got, want string) bool {
	g := sha256.Sum256([]byte(got))
	w := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(g[:], w[:]) == 1
}
