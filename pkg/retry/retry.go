// Package retry implements the exponential-backoff-with-jitter retry
// policy from spec §4.5, layered on cenkalti/backoff/v5's ExponentialBackOff
// for the jittered interval math. It honors a Retry-After response
// header (seconds or an HTTP-date) over the computed backoff, and
// re-checks the caller's circuit breaker before every attempt so a
// breaker that trips mid-retry stops the loop immediately.
package retry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	ckerrors "github.com/wisbric/connectkit/errors"
)

// DefaultMaxAttempts is the number of attempts (including the first)
// before giving up.
const DefaultMaxAttempts = 4

// DefaultBaseDelay seeds the exponential backoff's initial interval.
const DefaultBaseDelay = 250 * time.Millisecond

// DefaultMaxDelay caps any single computed backoff interval.
const DefaultMaxDelay = 30 * time.Second

// Attempt is one HTTP round trip the handler will retry on failure.
type Attempt func(ctx context.Context) (*http.Response, error)

// AllowFunc reports whether the breaker currently allows a request.
type AllowFunc func() bool

// Handler retries an Attempt under an exponential backoff policy.
type Handler struct {
	provider    string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// New creates a retry handler for provider with the default policy.
func New(provider string) *Handler {
	return &Handler{
		provider:    provider,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
	}
}

// WithMaxAttempts overrides the attempt budget.
func (h *Handler) WithMaxAttempts(n int) *Handler {
	h.maxAttempts = n
	return h
}

// WithDelays overrides the base and max backoff interval.
func (h *Handler) WithDelays(base, max time.Duration) *Handler {
	h.baseDelay = base
	h.maxDelay = max
	return h
}

func (h *Handler) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.baseDelay
	b.MaxInterval = h.maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.3
	b.Reset()
	return b
}

// Do runs attempt, retrying on retriable status codes and network errors
// up to maxAttempts times. allow is consulted before every attempt
// (including the first); when it returns false, Do fails fast with
// CircuitOpenError without calling attempt.
func (h *Handler) Do(ctx context.Context, allow AllowFunc, attempt Attempt) (*http.Response, error) {
	bo := h.newBackOff()

	var lastErr error
	for n := 1; n <= h.maxAttempts; n++ {
		if allow != nil && !allow() {
			return nil, &ckerrors.CircuitOpenError{Provider: h.provider}
		}

		resp, err := attempt(ctx)
		if err == nil {
			if isSuccessStatus(resp) {
				return resp, nil
			}
			lastErr = classifyStatus(h.provider, resp)
			if !ShouldRetry(resp) {
				return nil, lastErr
			}
		} else {
			lastErr = err
		}

		if n == h.maxAttempts {
			break
		}

		delay := bo.NextBackOff()
		if resp != nil {
			if ra, ok := RetryAfter(resp); ok {
				delay = ra
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}

// maxClassifyBodyBytes bounds how much of an error response body is
// captured on a non-2xx status, so a misbehaving provider can't balloon
// memory through error responses alone.
const maxClassifyBodyBytes = 4096

// isSuccessStatus reports whether resp's status is non-throwing per the
// validate-status policy: status<400 or 304.
func isSuccessStatus(resp *http.Response) bool {
	return resp.StatusCode < 400
}

// ShouldRetry reports whether resp's status warrants another attempt:
// 429 and any 5xx.
func ShouldRetry(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

// classifyStatus turns a non-success status into a typed error, draining
// and closing resp.Body since the caller never reads it otherwise.
func classifyStatus(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxClassifyBodyBytes))
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		delay, _ := RetryAfter(resp)
		return &ckerrors.RateLimitError{Provider: provider, RetryAfter: delay}
	case resp.StatusCode >= 500:
		return &ckerrors.ApiServerError{Provider: provider, Status: resp.StatusCode, Body: string(body)}
	default:
		return &ckerrors.ApiClientError{Provider: provider, Status: resp.StatusCode, Body: string(body)}
	}
}

// RetryAfter parses the Retry-After header as either a delta-seconds
// value or an HTTP-date, per RFC 9110 §10.2.3.
func RetryAfter(resp *http.Response) (time.Duration, bool) {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	when, err := http.ParseTime(raw)
	if err != nil {
		return 0, false
	}
	d := time.Until(when)
	if d < 0 {
		return 0, true
	}
	return d, true
}

// IsRetriable reports whether err represents a condition retry.Handler
// would retry (used by callers deciding whether to surface an error or
// keep trying at a higher layer).
func IsRetriable(err error) bool {
	var rateLimit *ckerrors.RateLimitError
	var apiServer *ckerrors.ApiServerError
	var netErr *ckerrors.NetworkError
	var netTimeout *ckerrors.NetworkTimeoutError
	return errors.As(err, &rateLimit) || errors.As(err, &apiServer) ||
		errors.As(err, &netErr) || errors.As(err, &netTimeout)
}
