// Package tokenstore implements the durable (userID, provider) -> token
// mapping described in spec §4.1: at-rest encryption, TTL keyed to token
// expiry, and an expiry-buffer window for refresh decisions that need
// access to a recently-expired token.
package tokenstore

import "time"

// TokenSet is the immutable OAuth credential bundle for one (user,
// provider) pair. It is replaced atomically on refresh — callers never
// mutate a TokenSet in place.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scope        string
	TokenType    string
	IDToken      string
}

// HasExpiresAt reports whether ExpiresAt is set.
func (t TokenSet) HasExpiresAt() bool { return t.ExpiresAt != nil }

// HasRefreshToken reports whether a refresh token is present.
func (t TokenSet) HasRefreshToken() bool { return t.RefreshToken != "" }

// IsExpired reports whether the token set is expired as of now.
func (t TokenSet) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// StoredToken is the persisted record TokenStore owns exclusively.
type StoredToken struct {
	UserID    string
	Provider  string
	TokenSet  TokenSet
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]string
}
