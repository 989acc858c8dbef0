package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewChatToken generates a single-use chat session token with 128 bits of
// entropy. Tokens are opaque bearer secrets; each party of a session gets
// its own.
func NewChatToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate chat token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewVerificationCode generates a one-time volunteer verification code. The
// code is shown to the onboarding operator exactly once; only its digest is
// stored.
func NewVerificationCode() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// DigestCode returns the hex SHA-256 digest of a verification code, the form
// codes are stored and looked up in.
func DigestCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
