package retry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ckerrors "github.com/wisbric/connectkit/errors"
)

func newResponse(status int, headers map[string]string) *http.Response {
	rec := httptest.NewRecorder()
	for k, v := range headers {
		rec.Header().Set(k, v)
	}
	rec.WriteHeader(status)
	return rec.Result()
}

func TestRetryAfterParsesSeconds(t *testing.T) {
	resp := newResponse(429, map[string]string{"Retry-After": "2"})
	d, ok := RetryAfter(resp)
	if !ok {
		t.Fatal("RetryAfter() ok = false, want true")
	}
	if d != 2*time.Second {
		t.Fatalf("RetryAfter() = %v, want 2s", d)
	}
}

func TestRetryAfterParsesHTTPDate(t *testing.T) {
	future := time.Now().Add(5 * time.Second).UTC()
	resp := newResponse(429, map[string]string{"Retry-After": future.Format(http.TimeFormat)})
	d, ok := RetryAfter(resp)
	if !ok {
		t.Fatal("RetryAfter() ok = false, want true")
	}
	if d <= 0 || d > 6*time.Second {
		t.Fatalf("RetryAfter() = %v, want close to 5s", d)
	}
}

func TestRetryAfterMissingHeaderReturnsFalse(t *testing.T) {
	resp := newResponse(200, nil)
	if _, ok := RetryAfter(resp); ok {
		t.Fatal("RetryAfter() ok = true, want false without header")
	}
}

func TestShouldRetryOnServerErrorAndRateLimit(t *testing.T) {
	if !ShouldRetry(newResponse(500, nil)) {
		t.Fatal("ShouldRetry(500) = false, want true")
	}
	if !ShouldRetry(newResponse(429, nil)) {
		t.Fatal("ShouldRetry(429) = false, want true")
	}
	if ShouldRetry(newResponse(200, nil)) {
		t.Fatal("ShouldRetry(200) = true, want false")
	}
	if ShouldRetry(newResponse(404, nil)) {
		t.Fatal("ShouldRetry(404) = true, want false")
	}
}

func TestHandlerDoSucceedsOnFirstAttempt(t *testing.T) {
	h := New("github").WithMaxAttempts(3).WithDelays(time.Millisecond, 5*time.Millisecond)
	calls := 0

	resp, err := h.Do(context.Background(), func() bool { return true }, func(ctx context.Context) (*http.Response, error) {
		calls++
		return newResponse(200, nil), nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestHandlerDoRetriesThenSucceeds(t *testing.T) {
	h := New("github").WithMaxAttempts(3).WithDelays(time.Millisecond, 5*time.Millisecond)
	calls := 0

	resp, err := h.Do(context.Background(), func() bool { return true }, func(ctx context.Context) (*http.Response, error) {
		calls++
		if calls < 3 {
			return newResponse(503, nil), nil
		}
		return newResponse(200, nil), nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestHandlerDoExhaustsAttemptsReturnsLastError(t *testing.T) {
	h := New("github").WithMaxAttempts(2).WithDelays(time.Millisecond, 5*time.Millisecond)
	calls := 0

	_, err := h.Do(context.Background(), func() bool { return true }, func(ctx context.Context) (*http.Response, error) {
		calls++
		return newResponse(500, nil), nil
	})
	if err == nil {
		t.Fatal("Do() err = nil, want ApiServerError")
	}
	var apiServer *ckerrors.ApiServerError
	if !errors.As(err, &apiServer) {
		t.Fatalf("Do() err = %v, want ApiServerError", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestHandlerDoReturnsApiClientErrorWithoutRetrying(t *testing.T) {
	h := New("github").WithMaxAttempts(3).WithDelays(time.Millisecond, 5*time.Millisecond)
	calls := 0

	_, err := h.Do(context.Background(), func() bool { return true }, func(ctx context.Context) (*http.Response, error) {
		calls++
		return newResponse(404, nil), nil
	})
	if err == nil {
		t.Fatal("Do() err = nil, want ApiClientError")
	}
	var apiClient *ckerrors.ApiClientError
	if !errors.As(err, &apiClient) {
		t.Fatalf("Do() err = %v, want ApiClientError", err)
	}
	if apiClient.Status != 404 {
		t.Fatalf("ApiClientError.Status = %d, want 404", apiClient.Status)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (non-retryable status must not retry)", calls)
	}
}

func TestHandlerDoReturnsRateLimitErrorOn429Exhaustion(t *testing.T) {
	h := New("github").WithMaxAttempts(2).WithDelays(time.Millisecond, 5*time.Millisecond)

	_, err := h.Do(context.Background(), func() bool { return true }, func(ctx context.Context) (*http.Response, error) {
		return newResponse(429, nil), nil
	})
	if err == nil {
		t.Fatal("Do() err = nil, want RateLimitError")
	}
	var rateLimit *ckerrors.RateLimitError
	if !errors.As(err, &rateLimit) {
		t.Fatalf("Do() err = %v, want RateLimitError", err)
	}
}

func TestHandlerDoFailsFastWhenBreakerOpen(t *testing.T) {
	h := New("github").WithMaxAttempts(3)
	calls := 0

	_, err := h.Do(context.Background(), func() bool { return false }, func(ctx context.Context) (*http.Response, error) {
		calls++
		return newResponse(200, nil), nil
	})
	if err == nil {
		t.Fatal("Do() err = nil, want CircuitOpenError")
	}
	var circuitOpen *ckerrors.CircuitOpenError
	if !errors.As(err, &circuitOpen) {
		t.Fatalf("Do() err = %v, want CircuitOpenError", err)
	}
	if calls != 0 {
		t.Fatalf("calls = %d, want 0", calls)
	}
}

func TestHandlerDoHonorsRetryAfterOverBackoff(t *testing.T) {
	h := New("github").WithMaxAttempts(2).WithDelays(time.Hour, time.Hour)
	calls := 0
	start := time.Now()

	_, _ = h.Do(context.Background(), func() bool { return true }, func(ctx context.Context) (*http.Response, error) {
		calls++
		return newResponse(429, map[string]string{"Retry-After": "0"}), nil
	})

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Do() took %v, want Retry-After(0) to bypass the hour-long backoff", elapsed)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}
