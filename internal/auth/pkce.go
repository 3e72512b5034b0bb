package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
)

const (
	// DefaultVerifierLength is the verifier size used for every login.
	DefaultVerifierLength = 128

	// ChallengeMethod is the only PKCE transform this client sends.
	ChallengeMethod = "S256"

	verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// Random bytes at or above this value are rejected so every character of
	// the alphabet is equally likely.
	maxUnbiasedByte = 256 - 256%len(verifierAlphabet)
)

// randReader is swapped in tests to simulate a failing entropy source.
var randReader io.Reader = rand.Reader

// GenerateVerifier returns a code verifier of exactly length characters drawn
// uniformly from [A-Za-z0-9] using a cryptographically secure source.
func GenerateVerifier(length int) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("verifier length must be positive, got %d", length)
	}

	out := make([]byte, 0, length)
	chunk := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(randReader, chunk); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range chunk {
			if int(b) >= maxUnbiasedByte {
				continue
			}
			out = append(out, verifierAlphabet[int(b)%len(verifierAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// DeriveChallenge computes the S256 challenge: base64url(sha256(verifier))
// without padding.
func DeriveChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidateChallenge reports whether challenge was derived from verifier.
func ValidateChallenge(challenge, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(DeriveChallenge(verifier)), []byte(challenge)) == 1
}

// generateState returns an opaque value that binds a redirect to the attempt
// that started it.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
