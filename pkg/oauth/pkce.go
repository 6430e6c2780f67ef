package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// pkceTTL bounds how long a pending authorization (state -> PKCE
// challenge) survives before the sweeper reclaims it.
const pkceTTL = 10 * time.Minute

// pkceChallenge is the record stored under `state` between createAuthURL
// and exchangeCode.
type pkceChallenge struct {
	Verifier  string
	Challenge string
	Nonce     string
	CreatedAt time.Time
}

// generatePKCE produces an RFC 7636 code verifier/challenge pair using
// the S256 method.
func generatePKCE() (verifier, challenge string, err error) {
	verifierBytes := make([]byte, 32)
	if _, err := rand.Read(verifierBytes); err != nil {
		return "", "", fmt.Errorf("oauth: generating code verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(verifierBytes)

	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

// generateState produces a random >=128-bit state parameter.
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oauth: generating state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// generateNonce produces a random OIDC nonce.
func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oauth: generating nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
