package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Operator accounts are the only credential stored as a hash; requesters are
// anonymous and volunteers authenticate with one-time codes and JWTs.
const passwordHashCost = 10

// HashPassword hashes an operator password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword checks a plaintext password against a stored hash.
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
