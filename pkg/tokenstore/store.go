package tokenstore

import (
	"context"
	"time"
)

// DefaultExpiredTokenBuffer is how long a get(includeExpired=true) still
// returns an expired token before it is evicted (spec §4.1).
const DefaultExpiredTokenBuffer = 5 * time.Minute

// DefaultTTL is used to compute a backend TTL for tokens with no
// ExpiresAt.
const DefaultTTL = 24 * time.Hour

// GetOptions controls Get's treatment of expired tokens.
type GetOptions struct {
	IncludeExpired bool
}

// Store is the durable mapping (userID, provider) -> StoredToken.
// Backends: memory (tests), durable-kv (Redis), relational (Postgres).
type Store interface {
	// Get returns the stored token, or nil if absent. Without
	// IncludeExpired, an expired token is treated as absent. With
	// IncludeExpired, an expired token is still returned as long as it is
	// within the expiry buffer; beyond the buffer it is deleted and nil is
	// returned.
	Get(ctx context.Context, userID, provider string, opts GetOptions) (*StoredToken, error)

	// Set stores a new token, replacing any existing one.
	Set(ctx context.Context, userID, provider string, ts TokenSet, metadata map[string]string) (*StoredToken, error)

	// Update overwrites the token set for an existing record, preserving
	// CreatedAt.
	Update(ctx context.Context, userID, provider string, ts TokenSet) (*StoredToken, error)

	// Delete removes the stored token. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, userID, provider string) error

	// List returns the providers with a stored token for userID.
	List(ctx context.Context, userID string) ([]string, error)
}

// ttlFor computes the backend TTL per spec §4.1: expiresAt - now +
// expiredTokenBufferMinutes, falling back to DefaultTTL when there is no
// expiry.
func ttlFor(ts TokenSet, now time.Time, expiredTokenBuffer time.Duration) time.Duration {
	if ts.ExpiresAt == nil {
		return DefaultTTL
	}
	ttl := ts.ExpiresAt.Sub(now) + expiredTokenBuffer
	if ttl < 0 {
		return 0
	}
	return ttl
}
