package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// refreshSecretBytes is the entropy of a raw refresh secret (256 bits).
const refreshSecretBytes = 32

// NewRefreshSecret generates a cryptographically random opaque refresh secret.
// This is the only place a raw refresh secret is minted; callers hash it with
// HashRefreshToken before persisting and must not store the raw value.
func NewRefreshSecret() (string, error) {
	b := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashRefreshToken returns the hex-encoded SHA-256 digest of the raw refresh
// secret. The store persists and indexes this digest, never the raw value.
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RefreshTokenHashEqual compares the provided raw secret's digest with the
// stored digest in constant time.
func RefreshTokenHashEqual(providedToken, storedHash string) bool {
	providedHash := HashRefreshToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
