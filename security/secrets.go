package security

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

// ClientIDPrefix marks every public client identifier issued by the hub.
const ClientIDPrefix = "hub_"

// NewClientID generates a new public client identifier: the hub prefix
// followed by 43 characters of url-safe randomness.
func NewClientID() string {
	return ClientIDPrefix + oauth2.GenerateVerifier()
}

// NewClientSecret generates a high-entropy client secret. The plaintext is
// shown to the administrator exactly once; only the hash is stored.
func NewClientSecret() string {
	return oauth2.GenerateVerifier()
}

// HashClientSecret hashes a client secret with bcrypt at default cost.
func HashClientSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ConstantTimeEquals compares two strings in constant time.
// Use for any direct comparison of secret material (tokens, codes).
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
