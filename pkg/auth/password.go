package auth

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// UnusablePasswordHash generates a bcrypt hash of 32 random bytes.
// Auto-provisioned SSO users get one so the password column is populated
// but no password ever matches it.
func UnusablePasswordHash() (string, error) {
	placeholder := make([]byte, 32)
	if _, err := rand.Read(placeholder); err != nil {
		return "", fmt.Errorf("generate password placeholder: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword(placeholder, bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password placeholder: %w", err)
	}
	return string(hash), nil
}
