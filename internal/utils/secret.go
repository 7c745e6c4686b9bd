package utils

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost      = 12
	MinSecretLength = 12
)

// HashSecret bcrypt-hashes a shared secret for storage in configuration.
func HashSecret(secret string) (string, error) {
	if len(secret) < MinSecretLength {
		return "", fmt.Errorf("secret must be at least %d characters long", MinSecretLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func CheckSecret(hashedSecret string, secret string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedSecret), []byte(secret))
	return err == nil
}
