// Package httpcore implements the governed outbound HTTP path shared by
// every provider connector (spec §4.7): per-provider rate limiting,
// circuit breaking, retry-with-backoff, and conditional GET caching,
// wired together behind a single Do call so connectors never
// touch net/http directly.
package httpcore

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ckerrors "github.com/wisbric/connectkit/errors"
	"github.com/wisbric/connectkit/internal/telemetry"
	"github.com/wisbric/connectkit/pkg/breaker"
	"github.com/wisbric/connectkit/pkg/etagcache"
	"github.com/wisbric/connectkit/pkg/notify"
	"github.com/wisbric/connectkit/pkg/ratelimit"
	"github.com/wisbric/connectkit/pkg/retry"
)

// DefaultTimeout bounds a single attempt, not the aggregate of all
// retries.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is sent on every outbound request.
const DefaultUserAgent = "connectkit/1.0"

// RequestConfig describes one governed HTTP call.
type RequestConfig struct {
	URL           string
	Method        string
	Headers       http.Header
	Query         url.Values
	Body          []byte
	Timeout       time.Duration
	ETagKey       string
	SkipRateLimit bool
}

// Response is the normalized shape returned to connectors: lowercased
// header names, the decoded body, and whether it was served from the
// ETag cache on a 304.
type Response struct {
	Data    []byte
	Status  int
	Headers map[string]string
	Cached  bool
}

type providerState struct {
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
	retry   *retry.Handler
}

// Core orchestrates rate limiting, circuit breaking, retries, and ETag
// caching for every provider it has been configured for.
type Core struct {
	transport *http.Client
	cache     *etagcache.Cache
	metrics   telemetry.Collector
	notifier  notify.Notifier

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration

	providers map[string]*providerState
}

// New creates an HttpCore with no configured providers; call
// ConfigureProvider for each provider the SDK is wired for.
func New(metrics telemetry.Collector) *Core {
	if metrics == nil {
		metrics = telemetry.NoopCollector{}
	}
	return &Core{
		transport:        &http.Client{Timeout: DefaultTimeout},
		cache:            etagcache.New(etagcache.DefaultCapacity),
		metrics:          metrics,
		notifier:         notify.NoopNotifier{},
		retryMaxAttempts: retry.DefaultMaxAttempts,
		retryBaseDelay:   retry.DefaultBaseDelay,
		retryMaxDelay:    retry.DefaultMaxDelay,
		providers:        make(map[string]*providerState),
	}
}

// WithNotifier wires an operator-alert notifier, raised when a
// provider's circuit breaker transitions to open.
func (c *Core) WithNotifier(n notify.Notifier) *Core {
	if n != nil {
		c.notifier = n
	}
	return c
}

// WithTimeout overrides the per-attempt transport timeout (spec §6
// http.timeout).
func (c *Core) WithTimeout(d time.Duration) *Core {
	if d > 0 {
		c.transport.Timeout = d
	}
	return c
}

// WithProxy routes every outbound request through proxyURL (spec §6
// http.proxy). userinfo on the URL carries proxy basic-auth credentials.
func (c *Core) WithProxy(proxyURL *url.URL) *Core {
	if proxyURL == nil {
		return c
	}
	c.transport.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	return c
}

// WithRetryPolicy overrides the retry budget and backoff bounds applied
// to every provider configured after this call (spec §6 http.retry).
func (c *Core) WithRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *Core {
	if maxAttempts > 0 {
		c.retryMaxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		c.retryBaseDelay = baseDelay
	}
	if maxDelay > 0 {
		c.retryMaxDelay = maxDelay
	}
	return c
}

func (c *Core) newRetryHandler(provider string) *retry.Handler {
	return retry.New(provider).WithMaxAttempts(c.retryMaxAttempts).WithDelays(c.retryBaseDelay, c.retryMaxDelay)
}

// ConfigureProvider registers rate-limit and breaker policy for a
// provider key (e.g. "github", "google"). Callers pass the same key to
// Do. burst <= 0 keeps the limiter's default bucket capacity.
func (c *Core) ConfigureProvider(provider string, qps float64, concurrency, burst int) {
	limiter := ratelimit.New(qps, concurrency)
	if burst > 0 {
		limiter.WithBurst(burst)
	}
	c.providers[provider] = &providerState{
		limiter: limiter,
		breaker: breaker.New(),
		retry:   c.newRetryHandler(provider),
	}
}

func (c *Core) stateFor(provider string) *providerState {
	st, ok := c.providers[provider]
	if !ok {
		st = &providerState{
			limiter: ratelimit.New(ratelimit.DefaultBurst, ratelimit.DefaultMaxConcurrency),
			breaker: breaker.New(),
			retry:   c.newRetryHandler(provider),
		}
		c.providers[provider] = st
	}
	return st
}

func requestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Do executes a governed request for the given provider key.
func (c *Core) Do(ctx context.Context, provider string, cfg RequestConfig) (*Response, error) {
	st := c.stateFor(provider)

	if !st.breaker.Allow() {
		return nil, &ckerrors.CircuitOpenError{Provider: provider}
	}

	headers := cloneHeader(cfg.Headers)
	headers.Set("X-Request-ID", requestID())
	if headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", DefaultUserAgent)
	}
	headers.Set("Accept-Encoding", "gzip, deflate")

	cacheable := cfg.ETagKey != "" && (cfg.Method == "" || cfg.Method == http.MethodGet)
	var cached etagcache.Entry
	var hadCache bool
	if cacheable {
		cached, hadCache = c.cache.Get(cfg.ETagKey)
		if hadCache && cached.ETag != "" {
			headers.Set("If-None-Match", cached.ETag)
		}
	}

	allow := st.breaker.Allow
	var resp *Response

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	attempt := func(ctx context.Context) (*http.Response, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		httpReq, err := buildRequest(attemptCtx, cfg, headers)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		httpResp, err := c.transport.Do(httpReq)
		elapsed := time.Since(start).Seconds()
		c.metrics.ObserveHistogram("http_request_duration_seconds", elapsed, map[string]string{"provider": provider})
		return httpResp, err
	}

	run := func() (*http.Response, error) {
		if !cfg.SkipRateLimit {
			release, err := st.limiter.Wait(ctx)
			if err != nil {
				return nil, err
			}
			defer release()
		}
		c.metrics.SetGauge("ratelimit_queue_depth", float64(st.limiter.QueueDepth()), map[string]string{"provider": provider})
		return st.retry.Do(ctx, allow, attempt)
	}

	httpResp, err := run()
	if err != nil {
		if st.breaker.RecordFailure() {
			go c.notifier.Notify(context.WithoutCancel(ctx), notify.Event{
				Kind:     notify.EventCircuitOpen,
				Provider: provider,
				Message:  err.Error(),
			})
		}
		c.metrics.IncCounter("http_requests_total", map[string]string{"provider": provider, "method": cfg.Method, "status": "error"})
		return nil, classify(provider, err)
	}
	defer httpResp.Body.Close()

	st.breaker.RecordSuccess()
	c.metrics.IncCounter("http_requests_total", map[string]string{"provider": provider, "method": cfg.Method, "status": fmt.Sprintf("%d", httpResp.StatusCode)})

	if httpResp.StatusCode == http.StatusNotModified && hadCache {
		return &Response{Data: cached.Body, Status: http.StatusNotModified, Headers: lowerHeaders(httpResp.Header), Cached: true}, nil
	}

	body, err := decodeBody(httpResp)
	if err != nil {
		return nil, &ckerrors.NetworkError{Provider: provider, Cause: err}
	}

	resp = &Response{Data: body, Status: httpResp.StatusCode, Headers: lowerHeaders(httpResp.Header)}

	if cacheable {
		if etag := httpResp.Header.Get("ETag"); etag != "" {
			c.cache.Put(cfg.ETagKey, etagcache.Entry{ETag: etag, Body: body, StatusCode: httpResp.StatusCode, StoredAt: time.Now()})
		}
	}

	return resp, nil
}

func buildRequest(ctx context.Context, cfg RequestConfig, headers http.Header) (*http.Request, error) {
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	reqURL := cfg.URL
	if len(cfg.Query) > 0 {
		parsed, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("httpcore: parsing url: %w", err)
		}
		q := parsed.Query()
		for k, vs := range cfg.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		parsed.RawQuery = q.Encode()
		reqURL = parsed.String()
	}

	var bodyReader io.Reader
	if len(cfg.Body) > 0 {
		bodyReader = bytes.NewReader(cfg.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("httpcore: building request: %w", err)
	}
	req.Header = headers
	return req, nil
}

func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.ReadCloser = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		reader = flate.NewReader(resp.Body)
		defer reader.Close()
	}
	return io.ReadAll(reader)
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h)+4)
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func lowerHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
		return &ckerrors.NetworkTimeoutError{Provider: provider, Cause: err}
	}
	if existing, ok := err.(*ckerrors.CircuitOpenError); ok {
		return existing
	}
	if existing, ok := err.(*ckerrors.RateLimitError); ok {
		return existing
	}
	if existing, ok := err.(*ckerrors.ApiServerError); ok {
		return existing
	}
	if existing, ok := err.(*ckerrors.ApiClientError); ok {
		return existing
	}
	return &ckerrors.NetworkError{Provider: provider, Cause: err}
}
