// Package connectkit is the SDK facade (spec §6): it validates a Config,
// wires TokenStore, DistributedRefreshLock, HttpCore, AuthCore, and the
// Normalizer into one BaseConnector per configured provider, and exposes
// connect/handleCallback/fetch/disconnect to callers.
package connectkit

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	ckerrors "github.com/wisbric/connectkit/errors"
)

// TokenStoreConfig selects and tunes the TokenStore backend (spec §4.1).
type TokenStoreConfig struct {
	// Backend is one of memory, durable-kv, relational.
	Backend string `validate:"required,oneof=memory durable-kv relational"`
	// URL is the backend's connection string; required unless Backend is
	// memory. For durable-kv this is also reused as the distributed
	// refresh lock's coordination endpoint (spec §4.2).
	URL                       string `validate:"required_unless=Backend memory"`
	Encryption                EncryptionConfig
	PreRefreshMarginMinutes   int `validate:"omitempty,min=1,max=60"`
	ExpiredTokenBufferMinutes int `validate:"omitempty,min=1,max=60"`
	TTL                       time.Duration
}

// EncryptionConfig configures at-rest token encryption. Required for the
// durable-kv and relational backends.
type EncryptionConfig struct {
	// Key is a 64-character hex string (32 bytes, AES-256).
	Key       string `validate:"omitempty,hexadecimal,len=64"`
	Algorithm string `validate:"omitempty,oneof=aes-256-gcm"`
}

// RetryConfig tunes HttpCore's retry handler (spec §4.5).
type RetryConfig struct {
	MaxRetries           int `validate:"omitempty,min=0,max=10"`
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	RetryableStatusCodes []int
}

// ProxyAuth carries proxy basic-auth credentials.
type ProxyAuth struct {
	Username string
	Password string
}

// ProxyConfig describes an outbound HTTP proxy. A nil *ProxyConfig (or
// Config.HTTP.Proxy.Enabled == false) means no proxy.
type ProxyConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string `validate:"omitempty,oneof=http https socks5"`
	Auth     *ProxyAuth
}

// HTTPConfig tunes HttpCore (spec §4.7).
type HTTPConfig struct {
	Timeout   time.Duration
	Retry     RetryConfig
	KeepAlive time.Duration
	Proxy     *ProxyConfig
}

// RateLimitConfig is one provider's token-bucket policy (spec §4.6).
type RateLimitConfig struct {
	QPS         float64 `validate:"gt=0"`
	Concurrency int     `validate:"gt=0"`
	Burst       int     `validate:"omitempty,gt=0"`
}

// ProviderConfig is one provider's OAuth client configuration (spec §6).
type ProviderConfig struct {
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`

	// Either AuthorizationEndpoint+TokenEndpoint, or DiscoveryURL.
	AuthorizationEndpoint string `validate:"omitempty,url"`
	TokenEndpoint         string `validate:"omitempty,url"`
	RevocationEndpoint    string `validate:"omitempty,url"`
	DiscoveryURL          string `validate:"omitempty,url"`

	Scopes      []string `validate:"required,min=1"`
	RedirectURI string   `validate:"required,url"`
	UsePKCE     bool
	OIDC        bool

	// AuthMethod selects how client credentials are presented to the
	// token endpoint: "client_secret_post" (default) or
	// "client_secret_basic".
	AuthMethod      string `validate:"omitempty,oneof=client_secret_post client_secret_basic"`
	ExtraAuthParams map[string]string

	// APIBaseURL overrides the built-in adapter's API host (e.g. a
	// self-hosted Mastodon instance, or a GitHub Enterprise server).
	// Built-in adapters (github, google, reddit, mastodon) have sane
	// defaults; unknown provider keys require this to be set along with
	// a RegisterConnector call.
	APIBaseURL string `validate:"omitempty,url"`
}

// MetricsConfig controls Prometheus exposition (spec §6).
type MetricsConfig struct {
	Enabled bool
	Port    int    `validate:"omitempty,min=1024,max=65535"`
	Path    string `validate:"omitempty,startswith=/"`
}

// LoggingConfig controls the structured logger (spec §6).
type LoggingConfig struct {
	Level  string `validate:"omitempty,oneof=debug info warn error"`
	Format string `validate:"omitempty,oneof=json pretty text"`
}

// SlackNotifierConfig enables operator alerting over Slack (SPEC_FULL §6.3).
// Zero value disables it.
type SlackNotifierConfig struct {
	BotToken string
	Channel  string
}

// Config is the SDK's programmatic configuration (spec §6's schema).
type Config struct {
	TokenStore TokenStoreConfig
	HTTP       HTTPConfig
	RateLimits map[string]RateLimitConfig
	Providers  map[string]ProviderConfig `validate:"required,min=1"`
	Metrics    MetricsConfig
	Logging    LoggingConfig
	Slack      SlackNotifierConfig

	// FeedDisabled turns off the no-OAuth feed connector, which is on by
	// default. Set it if the host never wants to fetch arbitrary URLs.
	FeedDisabled bool
}

var validate = validator.New()

func (c Config) validateSelf() error {
	if err := validate.Struct(c); err != nil {
		return &ckerrors.ConfigError{Msg: "validating connectkit config", Cause: err}
	}
	if c.TokenStore.Backend != "memory" && c.TokenStore.Encryption.Key == "" {
		return &ckerrors.ConfigError{Field: "tokenStore.encryption.key", Msg: "required for durable-kv and relational backends"}
	}
	for name, pc := range c.Providers {
		if pc.DiscoveryURL == "" && (pc.AuthorizationEndpoint == "" || pc.TokenEndpoint == "") {
			return &ckerrors.ConfigError{Field: fmt.Sprintf("providers.%s", name), Msg: "must set authorizationEndpoint and tokenEndpoint, or discoveryUrl"}
		}
	}
	return nil
}

func (c TokenStoreConfig) preRefreshMargin() time.Duration {
	if c.PreRefreshMarginMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.PreRefreshMarginMinutes) * time.Minute
}

func (c TokenStoreConfig) expiredTokenBuffer() time.Duration {
	if c.ExpiredTokenBufferMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.ExpiredTokenBufferMinutes) * time.Minute
}
