// Package errors defines the typed failure taxonomy shared across
// connectkit's layers: config, OAuth, token lifecycle, HTTP, and storage.
// Types that carry an optional Cause expose it via Unwrap for
// errors.Is/errors.As; TokenNotFoundError, ApiClientError, ApiServerError,
// RateLimitError and CircuitOpenError carry no cause.
package errors

import (
	"fmt"
	"time"
)

// ConfigError indicates invalid or missing configuration. Fatal at init.
type ConfigError struct {
	Field string
	Msg   string
	Cause error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("config: %s", e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// OAuthError covers code exchange, state, PKCE, nonce, and denial errors
// surfaced to the caller of handleCallback. Denied distinguishes an
// explicit end-user denial (OAuthDenied in spec terms) from a protocol
// failure.
type OAuthError struct {
	Provider string
	Code     string // upstream "error" parameter, when present
	Msg      string
	Denied   bool
	Cause    error
}

func (e *OAuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("oauth(%s): %s: %s", e.Provider, e.Code, e.Msg)
	}
	return fmt.Sprintf("oauth(%s): %s", e.Provider, e.Msg)
}

func (e *OAuthError) Unwrap() error { return e.Cause }

// TokenNotFoundError means no stored token exists for (userID, provider).
type TokenNotFoundError struct {
	UserID   string
	Provider string
}

func (e *TokenNotFoundError) Error() string {
	return fmt.Sprintf("token: no token stored for user %q provider %q", e.UserID, e.Provider)
}

// TokenExpiredError means the refresh token itself is invalid
// (upstream invalid_grant); the user must reconnect.
type TokenExpiredError struct {
	UserID   string
	Provider string
	Cause    error
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("token: token expired for user %q provider %q, reconnection required", e.UserID, e.Provider)
}

func (e *TokenExpiredError) Unwrap() error { return e.Cause }

// TokenRefreshError is a transient failure while refreshing a token.
type TokenRefreshError struct {
	UserID   string
	Provider string
	Cause    error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token: refresh failed for user %q provider %q: %v", e.UserID, e.Provider, e.Cause)
}

func (e *TokenRefreshError) Unwrap() error { return e.Cause }

// ApiClientError is a non-retryable 4xx response from a provider.
type ApiClientError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ApiClientError) Error() string {
	return fmt.Sprintf("api(%s): client error, status %d", e.Provider, e.Status)
}

// ApiServerError is a retryable 5xx response from a provider.
type ApiServerError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ApiServerError) Error() string {
	return fmt.Sprintf("api(%s): server error, status %d", e.Provider, e.Status)
}

// RateLimitError is a 429 response, optionally carrying a parsed
// Retry-After duration.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("api(%s): rate limited, retry after %s", e.Provider, e.RetryAfter)
}

// NetworkTimeoutError wraps a transport-level timeout.
type NetworkTimeoutError struct {
	Provider string
	Cause    error
}

func (e *NetworkTimeoutError) Error() string {
	return fmt.Sprintf("network(%s): timeout: %v", e.Provider, e.Cause)
}

func (e *NetworkTimeoutError) Unwrap() error { return e.Cause }

// NetworkError wraps any other transport-level failure.
type NetworkError struct {
	Provider string
	Cause    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network(%s): %v", e.Provider, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// CircuitOpenError is returned when a provider's circuit breaker is open.
type CircuitOpenError struct {
	Provider string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("network(%s): circuit breaker open", e.Provider)
}

// StorageError surfaces token store or lock service unavailability. Never
// silently masked.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }
