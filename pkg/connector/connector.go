// Package connector implements BaseConnector (spec §4.10): the refresh
// choreography shared by every provider adapter in pkg/providers —
// access token acquisition with local and distributed single-flight
// deduplication, plus the connect/handleCallback/disconnect contract
// every adapter inherits.
package connector

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	ckerrors "github.com/wisbric/connectkit/errors"
	"github.com/wisbric/connectkit/internal/telemetry"
	"github.com/wisbric/connectkit/pkg/httpcore"
	"github.com/wisbric/connectkit/pkg/lock"
	"github.com/wisbric/connectkit/pkg/normalize"
	"github.com/wisbric/connectkit/pkg/notify"
	"github.com/wisbric/connectkit/pkg/oauth"
	"github.com/wisbric/connectkit/pkg/tokenstore"
)

// DefaultPreRefreshMargin is how far ahead of expiry getAccessToken
// triggers a proactive refresh.
const DefaultPreRefreshMargin = 5 * time.Minute

// DefaultLockTTL bounds how long a distributed refresh lock is held
// before it is considered abandoned.
const DefaultLockTTL = 30 * time.Second

// DefaultAwaitTimeout bounds how long a losing caller waits for the
// winner of a refresh race to finish.
const DefaultAwaitTimeout = 15 * time.Second

// DefaultHandleLinger is how long a completed local single-flight handle
// stays reachable so late-arriving callers still coalesce onto it.
const DefaultHandleLinger = time.Second

// Adapter is what a concrete provider implements on top of Base: the
// fetch shape and whatever redirect/connect-option behavior the provider
// needs.
type Adapter interface {
	// Name is the provider key used for token storage, rate limiting, and
	// normalization.
	Name() string

	// Fetch composes and dispatches the provider-specific request(s)
	// through HttpCore, then returns the raw items (decoded JSON
	// objects) for normalization under Name().
	Fetch(ctx context.Context, accessToken string, params map[string]string) ([]map[string]any, error)

	// ProviderKey lets an adapter route items to a synthetic normalizer
	// key (e.g. "google-calendar") instead of Name().
	ProviderKey(params map[string]string) string

	// GetConnectOptions lets an adapter inject provider-specific extras
	// into the authorization URL (e.g. access_type=offline).
	GetConnectOptions(params map[string]string) oauth.ConnectOptions

	// GetRedirectURI returns the redirect URI to use for the callback,
	// or empty to use the provider's configured default.
	GetRedirectURI() string
}

type pendingRefresh struct {
	done chan struct{}
	ts   tokenstore.TokenSet
	err  error
}

// Base is BaseConnector: the refresh choreography and token lifecycle
// every provider adapter shares. A concrete provider embeds Base and
// implements Adapter.
type Base struct {
	provider string

	tokens  tokenstore.Store
	auth    *oauth.Core
	http    *httpcore.Core
	norm    *normalize.Registry
	lock     lock.RefreshLock
	metrics  telemetry.Collector
	logger   *slog.Logger
	notifier notify.Notifier

	preRefreshMargin time.Duration
	lockTTL          time.Duration
	awaitTimeout     time.Duration
	handleLinger     time.Duration

	mu      sync.Mutex
	pending map[string]*pendingRefresh
}

// Deps bundles Base's collaborators so adapters construct it with one
// call.
type Deps struct {
	Provider string
	Tokens   tokenstore.Store
	Auth     *oauth.Core
	HTTP     *httpcore.Core
	Norm     *normalize.Registry
	Lock     lock.RefreshLock
	Metrics  telemetry.Collector
	Logger   *slog.Logger
	Notifier notify.Notifier
}

// NewBase constructs a BaseConnector for one provider.
func NewBase(d Deps) *Base {
	metrics := d.Metrics
	if metrics == nil {
		metrics = telemetry.NoopCollector{}
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Base{
		provider:         d.Provider,
		tokens:           d.Tokens,
		auth:             d.Auth,
		http:             d.HTTP,
		norm:             d.Norm,
		lock:             d.Lock,
		metrics:          metrics,
		logger:           logger,
		notifier:         notifier,
		preRefreshMargin: DefaultPreRefreshMargin,
		lockTTL:          DefaultLockTTL,
		awaitTimeout:     DefaultAwaitTimeout,
		handleLinger:     DefaultHandleLinger,
		pending:          make(map[string]*pendingRefresh),
	}
}

// WithPreRefreshMargin overrides how far ahead of expiry getAccessToken
// triggers a proactive refresh.
func (b *Base) WithPreRefreshMargin(d time.Duration) *Base {
	if d > 0 {
		b.preRefreshMargin = d
	}
	return b
}

// WithLockTTL overrides how long a distributed refresh lock is held
// before it is considered abandoned.
func (b *Base) WithLockTTL(d time.Duration) *Base {
	if d > 0 {
		b.lockTTL = d
	}
	return b
}

// WithAwaitTimeout overrides how long a losing caller waits for the
// winner of a refresh race to finish.
func (b *Base) WithAwaitTimeout(d time.Duration) *Base {
	if d > 0 {
		b.awaitTimeout = d
	}
	return b
}

func dedupKey(userID, provider string) string { return userID + "|" + provider }

// Connect builds the provider's authorization URL.
func (b *Base) Connect(ctx context.Context, userID string, opts oauth.ConnectOptions) (string, error) {
	return b.auth.CreateAuthURL(b.provider, userID, opts)
}

// HandleCallback exchanges the authorization code and persists the
// resulting token set.
func (b *Base) HandleCallback(ctx context.Context, userID, code, state, redirectURI string) (tokenstore.TokenSet, error) {
	ts, err := b.auth.ExchangeCode(ctx, b.provider, code, state, redirectURI)
	if err != nil {
		return tokenstore.TokenSet{}, err
	}
	stored, err := b.tokens.Set(ctx, userID, b.provider, ts, nil)
	if err != nil {
		return tokenstore.TokenSet{}, &ckerrors.StorageError{Op: "tokenstore.Set", Cause: err}
	}
	return stored.TokenSet, nil
}

// Disconnect revokes (best-effort) and deletes the stored token.
func (b *Base) Disconnect(ctx context.Context, userID string) error {
	stored, err := b.tokens.Get(ctx, userID, b.provider, tokenstore.GetOptions{IncludeExpired: true})
	if err != nil {
		return &ckerrors.StorageError{Op: "tokenstore.Get", Cause: err}
	}
	if stored != nil && !stored.TokenSet.IsExpired(time.Now()) {
		b.auth.RevokeToken(ctx, b.provider, stored.TokenSet.AccessToken)
	}
	if err := b.tokens.Delete(ctx, userID, b.provider); err != nil {
		return &ckerrors.StorageError{Op: "tokenstore.Delete", Cause: err}
	}
	return nil
}

// GetAccessToken returns a valid access token for userID, refreshing it
// first if it is within preRefreshMargin of expiry (spec §4.10).
func (b *Base) GetAccessToken(ctx context.Context, userID string) (string, error) {
	stored, err := b.tokens.Get(ctx, userID, b.provider, tokenstore.GetOptions{IncludeExpired: true})
	if err != nil {
		return "", &ckerrors.StorageError{Op: "tokenstore.Get", Cause: err}
	}
	if stored == nil {
		return "", &ckerrors.TokenNotFoundError{UserID: userID, Provider: b.provider}
	}

	needsRefresh := stored.TokenSet.HasExpiresAt() && stored.TokenSet.HasRefreshToken() &&
		!stored.TokenSet.ExpiresAt.After(time.Now().Add(b.preRefreshMargin))

	if !needsRefresh {
		return stored.TokenSet.AccessToken, nil
	}

	ts, err := b.refreshWithDedup(ctx, userID, stored.TokenSet.RefreshToken)
	if err != nil {
		return "", err
	}
	return ts.AccessToken, nil
}

// refreshWithDedup implements the local-then-distributed single-flight
// coordination described in spec §4.10.
func (b *Base) refreshWithDedup(ctx context.Context, userID, refreshToken string) (tokenstore.TokenSet, error) {
	key := dedupKey(userID, b.provider)

	b.mu.Lock()
	if p, ok := b.pending[key]; ok {
		b.mu.Unlock()
		b.metrics.IncCounter("token_refresh_dedup_total", map[string]string{"provider": b.provider, "scope": "local"})
		return awaitPending(ctx, p)
	}
	p := &pendingRefresh{done: make(chan struct{})}
	b.pending[key] = p
	b.mu.Unlock()

	result, err := b.acquireAndRefresh(ctx, key, userID, refreshToken)
	p.ts, p.err = result, err
	close(p.done)

	go func() {
		time.Sleep(b.handleLinger)
		b.mu.Lock()
		if b.pending[key] == p {
			delete(b.pending, key)
		}
		b.mu.Unlock()
	}()

	return result, err
}

func awaitPending(ctx context.Context, p *pendingRefresh) (tokenstore.TokenSet, error) {
	select {
	case <-p.done:
		return p.ts, p.err
	case <-ctx.Done():
		return tokenstore.TokenSet{}, ctx.Err()
	}
}

func (b *Base) acquireAndRefresh(ctx context.Context, key, userID, refreshToken string) (tokenstore.TokenSet, error) {
	result, err := b.lock.Acquire(ctx, key, b.lockTTL)
	if err != nil {
		return tokenstore.TokenSet{}, &ckerrors.StorageError{Op: "lock.Acquire", Cause: err}
	}

	if !result.Acquired {
		b.metrics.IncCounter("token_refresh_dedup_total", map[string]string{"provider": b.provider, "scope": "distributed"})
		if err := b.lock.AwaitRelease(ctx, key, 100*time.Millisecond, b.awaitTimeout); err != nil {
			return tokenstore.TokenSet{}, &ckerrors.TokenRefreshError{UserID: userID, Provider: b.provider, Cause: err}
		}
		stored, err := b.tokens.Get(ctx, userID, b.provider, tokenstore.GetOptions{})
		if err != nil {
			return tokenstore.TokenSet{}, &ckerrors.StorageError{Op: "tokenstore.Get", Cause: err}
		}
		if stored == nil {
			return tokenstore.TokenSet{}, &ckerrors.TokenRefreshError{UserID: userID, Provider: b.provider, Cause: errors.New("token absent after refresh race")}
		}
		return stored.TokenSet, nil
	}

	defer func() {
		if err := b.lock.Release(ctx, key, result.Token); err != nil {
			b.logger.Warn("connector: releasing refresh lock failed", "provider", b.provider, "error", err)
		}
	}()

	return b.executeRefresh(ctx, userID, refreshToken)
}

// executeRefresh calls AuthCore.RefreshToken and persists the result,
// classifying an invalid_grant failure as permanent (spec §4.10).
func (b *Base) executeRefresh(ctx context.Context, userID, refreshToken string) (tokenstore.TokenSet, error) {
	start := time.Now()
	ts, err := b.auth.RefreshToken(ctx, b.provider, refreshToken)
	b.metrics.ObserveHistogram("token_refresh_duration_seconds", time.Since(start).Seconds(), map[string]string{"provider": b.provider})

	if err != nil {
		var expired *ckerrors.TokenExpiredError
		if errors.As(err, &expired) {
			b.metrics.IncCounter("token_refresh_total", map[string]string{"provider": b.provider, "outcome": "expired"})
			if delErr := b.tokens.Delete(ctx, userID, b.provider); delErr != nil {
				b.logger.Warn("connector: deleting expired token failed", "provider", b.provider, "error", delErr)
			}
			go b.notifier.Notify(context.WithoutCancel(ctx), notify.Event{
				Kind:     notify.EventTokenExpired,
				Provider: b.provider,
				UserID:   userID,
				Message:  "refresh token invalid, reconnection required",
			})
			return tokenstore.TokenSet{}, &ckerrors.TokenExpiredError{UserID: userID, Provider: b.provider, Cause: err}
		}
		b.metrics.IncCounter("token_refresh_total", map[string]string{"provider": b.provider, "outcome": "failure"})
		b.logger.Error("connector: refresh failed", "provider", b.provider, "user", userID, "error", err)
		return tokenstore.TokenSet{}, &ckerrors.TokenRefreshError{UserID: userID, Provider: b.provider, Cause: err}
	}

	stored, err := b.tokens.Update(ctx, userID, b.provider, ts)
	if err != nil {
		b.metrics.IncCounter("token_refresh_total", map[string]string{"provider": b.provider, "outcome": "failure"})
		return tokenstore.TokenSet{}, &ckerrors.StorageError{Op: "tokenstore.Update", Cause: err}
	}

	b.metrics.IncCounter("token_refresh_total", map[string]string{"provider": b.provider, "outcome": "success"})
	return stored.TokenSet, nil
}

// Fetch runs the shared choreography for an adapter: acquire an access
// token, call the adapter's Fetch, then normalize the raw items.
func (b *Base) Fetch(ctx context.Context, adapter Adapter, userID string, params map[string]string) ([]normalize.NormalizedItem, error) {
	token, err := b.GetAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	raw, err := adapter.Fetch(ctx, token, params)
	if err != nil {
		return nil, err
	}

	return b.norm.Normalize(adapter.ProviderKey(params), userID, raw)
}

// Provider returns the provider key this connector was constructed for.
func (b *Base) Provider() string { return b.provider }

// ETagKeyForPage builds a bounded ETag cache key that includes the page
// number, as code-hosting's paginated endpoints require.
func ETagKeyForPage(resource string, page int) string {
	return resource + "#page=" + strconv.Itoa(page)
}
