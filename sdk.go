package connectkit

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	ckerrors "github.com/wisbric/connectkit/errors"
	"github.com/wisbric/connectkit/internal/crypto"
	"github.com/wisbric/connectkit/internal/platform"
	"github.com/wisbric/connectkit/internal/telemetry"
	"github.com/wisbric/connectkit/pkg/connector"
	"github.com/wisbric/connectkit/pkg/httpcore"
	"github.com/wisbric/connectkit/pkg/lock"
	"github.com/wisbric/connectkit/pkg/normalize"
	"github.com/wisbric/connectkit/pkg/notify"
	"github.com/wisbric/connectkit/pkg/oauth"
	"github.com/wisbric/connectkit/pkg/providers/feed"
	"github.com/wisbric/connectkit/pkg/tokenstore"
)

// SDK is the constructed system: one BaseConnector per configured
// provider sharing a TokenStore, DistributedRefreshLock, HttpCore,
// AuthCore, and Normalizer registry.
type SDK struct {
	cfg      Config
	logger   *slog.Logger
	metrics  telemetry.Collector
	notifier notify.Notifier
	metricsRegistry *prometheus.Registry

	tokens      tokenstore.Store
	refreshLock lock.RefreshLock
	lockMode    string
	redisClient *redis.Client
	pgPool      *pgxpool.Pool

	auth *oauth.Core
	http *httpcore.Core
	norm *normalize.Registry

	mu         sync.RWMutex
	connectors map[string]*connector.Base
	adapters   map[string]connector.Adapter
	feedConn   *feed.Connector
}

// New validates cfg, constructs every collaborator, and wires one
// BaseConnector per configured provider (spec §6's init).
func New(ctx context.Context, cfg Config) (*SDK, error) {
	if err := cfg.validateSelf(); err != nil {
		return nil, err
	}

	logger := telemetry.NewLogger(cfg.Logging.Format, cfg.Logging.Level)

	var metrics telemetry.Collector = telemetry.NoopCollector{}
	var metricsReg *prometheus.Registry
	if cfg.Metrics.Enabled {
		metricsReg = prometheus.NewRegistry()
		metrics = telemetry.NewPrometheusCollector(metricsReg)
	}

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Slack.BotToken != "" {
		notifier = notify.NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.Channel, logger)
	}

	var enc *crypto.Encryptor
	if cfg.TokenStore.Encryption.Key != "" {
		raw, err := hex.DecodeString(cfg.TokenStore.Encryption.Key)
		if err != nil {
			return nil, &ckerrors.ConfigError{Field: "tokenStore.encryption.key", Msg: "must be hex-encoded", Cause: err}
		}
		enc, err = crypto.NewFromSlice(raw)
		if err != nil {
			return nil, &ckerrors.ConfigError{Field: "tokenStore.encryption.key", Cause: err}
		}
	}

	sdk := &SDK{
		cfg:             cfg,
		logger:          logger,
		metrics:         metrics,
		notifier:        notifier,
		metricsRegistry: metricsReg,
		connectors:      make(map[string]*connector.Base),
		adapters:        make(map[string]connector.Adapter),
	}

	expiredBuf := cfg.TokenStore.expiredTokenBuffer()
	switch cfg.TokenStore.Backend {
	case "memory":
		sdk.tokens = tokenstore.NewMemoryStore().WithExpiredTokenBuffer(expiredBuf)
		sdk.refreshLock = lock.NewLocalRefreshLock()
		sdk.lockMode = "local-only"

	case "durable-kv":
		client, err := platform.NewRedisClient(ctx, cfg.TokenStore.URL)
		if err != nil {
			return nil, &ckerrors.StorageError{Op: "connecting to durable-kv token store", Cause: err}
		}
		sdk.redisClient = client
		sdk.tokens = tokenstore.NewRedisStore(client, enc).WithExpiredTokenBuffer(expiredBuf)
		sdk.refreshLock = lock.NewRedisRefreshLock(client)
		sdk.lockMode = "distributed"

	case "relational":
		pool, err := platform.NewPostgresPool(ctx, cfg.TokenStore.URL)
		if err != nil {
			return nil, &ckerrors.StorageError{Op: "connecting to relational token store", Cause: err}
		}
		sdk.pgPool = pool
		sdk.tokens = tokenstore.NewPostgresStore(pool, enc).WithExpiredTokenBuffer(expiredBuf)
		// No coordination service rides along with a relational backend
		// (spec §4.2: lock reuses the durable-kv endpoint "when
		// capable"), so cross-instance refresh dedup degrades to local.
		sdk.refreshLock = lock.NewLocalRefreshLock()
		sdk.lockMode = "local-only"
	}

	sdk.http = httpcore.New(metrics).
		WithNotifier(notifier).
		WithTimeout(cfg.HTTP.Timeout).
		WithRetryPolicy(cfg.HTTP.Retry.MaxRetries, cfg.HTTP.Retry.BaseDelay, cfg.HTTP.Retry.MaxDelay)
	if p := cfg.HTTP.Proxy; p != nil && p.Enabled {
		proxyURL, err := buildProxyURL(*p)
		if err != nil {
			return nil, &ckerrors.ConfigError{Field: "http.proxy", Cause: err}
		}
		sdk.http.WithProxy(proxyURL)
	}
	for name, rl := range cfg.RateLimits {
		sdk.http.ConfigureProvider(name, rl.QPS, rl.Concurrency, rl.Burst)
	}

	oauthProviders := make(map[string]oauth.ProviderConfig, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		oauthProviders[name] = oauth.ProviderConfig{
			ClientID:              pc.ClientID,
			ClientSecret:          pc.ClientSecret,
			AuthorizationEndpoint: pc.AuthorizationEndpoint,
			TokenEndpoint:         pc.TokenEndpoint,
			RevocationEndpoint:    pc.RevocationEndpoint,
			DiscoveryURL:          pc.DiscoveryURL,
			Scopes:                pc.Scopes,
			RedirectURL:           pc.RedirectURI,
			UsePKCE:               pc.UsePKCE,
			OIDC:                  pc.OIDC,
			AuthMethod:            authMethodFor(pc.AuthMethod),
			ExtraAuthParams:       pc.ExtraAuthParams,
		}
	}
	sdk.auth = oauth.New(oauthProviders, logger)
	if err := sdk.auth.Initialize(ctx); err != nil {
		return nil, err
	}
	sdk.auth.StartSweeper(ctx)

	sdk.norm = normalize.NewRegistry()
	registerDefaultMappers(sdk.norm)

	for name, pc := range cfg.Providers {
		adapter, err := newBuiltinAdapter(name, sdk.http, pc.APIBaseURL, pc.RedirectURI)
		if err != nil {
			return nil, err
		}
		if adapter == nil {
			logger.Warn("connectkit: provider has no builtin adapter, call RegisterConnector", "provider", name)
			continue
		}
		sdk.wireConnector(name, adapter)
	}

	if !cfg.FeedDisabled {
		sdk.feedConn = feed.NewConnector(sdk.http, sdk.norm)
	}

	return sdk, nil
}

func authMethodFor(s string) oauth.AuthMethod {
	if s == "client_secret_basic" {
		return oauth.AuthMethodClientSecretBasic
	}
	return oauth.AuthMethodClientSecretPost
}

func buildProxyURL(p ProxyConfig) (*url.URL, error) {
	protocol := p.Protocol
	if protocol == "" {
		protocol = "http"
	}
	u := &url.URL{
		Scheme: protocol,
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.Auth != nil {
		u.User = url.UserPassword(p.Auth.Username, p.Auth.Password)
	}
	return u, nil
}

func (s *SDK) wireConnector(provider string, adapter connector.Adapter) {
	base := connector.NewBase(connector.Deps{
		Provider: provider,
		Tokens:   s.tokens,
		Auth:     s.auth,
		HTTP:     s.http,
		Norm:     s.norm,
		Lock:     s.refreshLock,
		Metrics:  s.metrics,
		Logger:   s.logger,
		Notifier: s.notifier,
	}).WithPreRefreshMargin(s.cfg.TokenStore.preRefreshMargin())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectors[provider] = base
	s.adapters[provider] = adapter
}

// RegisterConnector wires a connector.Adapter under provider, for
// providers connectkit has no builtin for. The provider's OAuth client
// must already be present in Config.Providers. Call RegisterMapper first
// if the adapter's ProviderKey isn't one connectkit already normalizes.
func (s *SDK) RegisterConnector(provider string, adapter connector.Adapter) {
	s.wireConnector(provider, adapter)
}

// RegisterMapper associates a normalizer key with a mapper, for adapters
// registered through RegisterConnector whose ProviderKey isn't one of
// connectkit's builtin provider keys.
func (s *SDK) RegisterMapper(providerKey string, mapper normalize.Mapper) {
	s.norm.Register(providerKey, mapper)
}

func (s *SDK) lookup(provider string) (*connector.Base, connector.Adapter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	base, ok := s.connectors[provider]
	if !ok {
		return nil, nil, false
	}
	return base, s.adapters[provider], true
}

// Connect builds the authorization URL for provider.
func (s *SDK) Connect(ctx context.Context, provider, userID string, opts oauth.ConnectOptions) (string, error) {
	if provider == "feed" {
		return "", fmt.Errorf("connectkit: feed provider has no OAuth connect flow")
	}
	base, adapter, ok := s.lookup(provider)
	if !ok {
		return "", fmt.Errorf("connectkit: provider %q not registered", provider)
	}
	merged := adapter.GetConnectOptions(nil)
	if len(opts.Scopes) > 0 {
		merged.Scopes = opts.Scopes
	}
	for k, v := range opts.ExtraParams {
		if merged.ExtraParams == nil {
			merged.ExtraParams = make(map[string]string, len(opts.ExtraParams))
		}
		merged.ExtraParams[k] = v
	}
	return base.Connect(ctx, userID, merged)
}

// HandleCallback exchanges the authorization code carried in params
// ("code", "state", and optionally "error"/"error_description" for a
// denied authorization) and persists the resulting token.
func (s *SDK) HandleCallback(ctx context.Context, provider, userID string, params map[string]string) (tokenstore.TokenSet, error) {
	base, adapter, ok := s.lookup(provider)
	if !ok {
		return tokenstore.TokenSet{}, fmt.Errorf("connectkit: provider %q not registered", provider)
	}
	if errCode := params["error"]; errCode != "" {
		return tokenstore.TokenSet{}, &ckerrors.OAuthError{
			Provider: provider,
			Code:     errCode,
			Msg:      params["error_description"],
			Denied:   errCode == "access_denied",
		}
	}
	redirectURI := adapter.GetRedirectURI()
	return base.HandleCallback(ctx, userID, params["code"], params["state"], redirectURI)
}

// Fetch runs the provider's adapter and normalizes its results.
func (s *SDK) Fetch(ctx context.Context, provider, userID string, params map[string]string) ([]normalize.NormalizedItem, error) {
	if provider == "feed" {
		if s.feedConn == nil {
			return nil, fmt.Errorf("connectkit: feed provider is disabled")
		}
		return s.feedConn.Fetch(ctx, userID, params)
	}
	base, adapter, ok := s.lookup(provider)
	if !ok {
		return nil, fmt.Errorf("connectkit: provider %q not registered", provider)
	}
	return base.Fetch(ctx, adapter, userID, params)
}

// Disconnect revokes and deletes the stored token for provider.
func (s *SDK) Disconnect(ctx context.Context, provider, userID string) error {
	if provider == "feed" {
		return nil
	}
	base, _, ok := s.lookup(provider)
	if !ok {
		return fmt.Errorf("connectkit: provider %q not registered", provider)
	}
	return base.Disconnect(ctx, userID)
}

// MetricsRegistry returns the Prometheus registry backing the collector,
// or nil if Config.Metrics.Enabled is false. The host mounts this behind
// its own /metrics handler.
func (s *SDK) MetricsRegistry() *prometheus.Registry { return s.metricsRegistry }

// Close releases infrastructure connections opened by New.
func (s *SDK) Close() error {
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			return fmt.Errorf("connectkit: closing redis: %w", err)
		}
	}
	if s.pgPool != nil {
		s.pgPool.Close()
	}
	return nil
}
