package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerifier(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantErr bool
	}{
		{name: "single character", length: 1},
		{name: "minimum rfc length", length: 43},
		{name: "default length", length: DefaultVerifierLength},
		{name: "longer than a random chunk", length: 1000},
		{name: "zero length", length: 0, wantErr: true},
		{name: "negative length", length: -5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier, err := GenerateVerifier(tt.length)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, verifier)
				return
			}

			require.NoError(t, err)
			assert.Len(t, verifier, tt.length)
			assert.Regexp(t, "^[A-Za-z0-9]+$", verifier)
		})
	}
}

func TestGenerateVerifier_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		verifier, err := GenerateVerifier(DefaultVerifierLength)
		require.NoError(t, err)
		require.False(t, seen[verifier], "generated duplicate verifier")
		seen[verifier] = true
	}
}

func TestGenerateVerifier_CoversAlphabet(t *testing.T) {
	verifier, err := GenerateVerifier(20000)
	require.NoError(t, err)

	for _, c := range verifierAlphabet {
		assert.True(t, strings.ContainsRune(verifier, c), "character %q never drawn", c)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestGenerateVerifier_RandomSourceFailure(t *testing.T) {
	original := randReader
	randReader = failingReader{}
	defer func() { randReader = original }()

	_, err := GenerateVerifier(DefaultVerifierLength)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entropy unavailable")
}

func TestDeriveChallenge(t *testing.T) {
	// RFC 7636 appendix B.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", DeriveChallenge(verifier))

	sum := sha256.Sum256([]byte("test-verifier-123"))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), DeriveChallenge("test-verifier-123"))
}

func TestDeriveChallenge_Deterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		verifier, err := GenerateVerifier(DefaultVerifierLength)
		require.NoError(t, err)

		first := DeriveChallenge(verifier)
		second := DeriveChallenge(verifier)
		assert.Equal(t, first, second)
		assert.Len(t, first, 43)
		assert.NotContains(t, first, "+")
		assert.NotContains(t, first, "/")
		assert.NotContains(t, first, "=")
	}
}

func TestValidateChallenge(t *testing.T) {
	verifier, err := GenerateVerifier(43)
	require.NoError(t, err)
	challenge := DeriveChallenge(verifier)

	tests := []struct {
		name      string
		challenge string
		verifier  string
		want      bool
	}{
		{name: "valid pair", challenge: challenge, verifier: verifier, want: true},
		{name: "invalid verifier", challenge: challenge, verifier: "wrong-verifier", want: false},
		{name: "empty challenge", challenge: "", verifier: verifier, want: false},
		{name: "empty verifier", challenge: challenge, verifier: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateChallenge(tt.challenge, tt.verifier))
		})
	}
}
