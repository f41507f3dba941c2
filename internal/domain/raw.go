package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

const rawTokenBytes = 64

// NewRawToken returns a cryptographically random refresh-token value as hex.
func NewRawToken() (string, error) {
	buf := make([]byte, rawTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// HashRawToken derives the ledger lookup key from a raw refresh token.
func HashRawToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewDeviceID returns a random per-login device identifier.
func NewDeviceID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
