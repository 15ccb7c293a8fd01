package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	refreshTokenBytes      = 64
	confirmationTokenBytes = 32
)

// NewRefreshToken returns an opaque token and the hash that is stored in its place
func NewRefreshToken() (token, hash string, err error) {
	buf := make([]byte, refreshTokenBytes)

	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}

	token = base64.StdEncoding.EncodeToString(buf)
	return token, HashToken(token), nil
}

// NewConfirmationToken is URL-safe so it can travel in a query string
func NewConfirmationToken() (string, error) {
	buf := make([]byte, confirmationTokenBytes)

	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate confirmation token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken is the hex SHA-256 of token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenMatches compares token against a stored hash in constant time
func TokenMatches(token, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(storedHash)) == 1
}
