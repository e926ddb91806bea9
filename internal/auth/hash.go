// Package auth provides API-key hashing and JWT-based session tokens.
//
// Organizations authenticate with a long-lived API key; POST /auth/token
// exchanges it for a short-lived HS256 JWT carried on every other request.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Sized for an interactive token-exchange endpoint.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// HashAPIKey hashes an API key with Argon2id, returning "salt$hash" in
// base64 for storage.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(hash), nil
}

// VerifyAPIKey checks an API key against a stored "salt$hash" value in
// constant time.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	salt64, hash64, ok := strings.Cut(encoded, "$")
	if !ok {
		return false, fmt.Errorf("auth: invalid hash format")
	}
	salt, err := base64.StdEncoding.DecodeString(salt64)
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := base64.StdEncoding.DecodeString(hash64)
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}

	got := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// DummyVerify burns the same Argon2id cost as a real verification. Called
// on auth-failure paths where no stored hash was checked, so response
// timing does not reveal whether an organization exists.
func DummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, saltLen), argonTime, argonMemory, argonThreads, argonKeyLen)
}
