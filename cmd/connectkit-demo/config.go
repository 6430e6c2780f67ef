package main

import (
	"fmt"
	"time"

	"github.com/wisbric/connectkit"
	"github.com/wisbric/connectkit/internal/config"
)

// wellKnownEndpoints holds each builtin provider's fixed OAuth endpoints
// and default scopes. connectkit.Config lets a caller override these per
// provider; the demo host doesn't expose that, so it hardcodes the
// common case here.
type wellKnownEndpoints struct {
	authorizationEndpoint string
	tokenEndpoint         string
	revocationEndpoint    string
	scopes                []string
	usePKCE               bool
}

func wellKnownFor(provider, mastodonInstanceURL string) wellKnownEndpoints {
	switch provider {
	case "github":
		return wellKnownEndpoints{
			authorizationEndpoint: "https://github.com/login/oauth/authorize",
			tokenEndpoint:         "https://github.com/login/oauth/access_token",
			scopes:                []string{"repo", "read:user"},
		}
	case "google":
		return wellKnownEndpoints{
			authorizationEndpoint: "https://accounts.google.com/o/oauth2/v2/auth",
			tokenEndpoint:         "https://oauth2.googleapis.com/token",
			revocationEndpoint:    "https://oauth2.googleapis.com/revoke",
			scopes: []string{
				"https://www.googleapis.com/auth/gmail.readonly",
				"https://www.googleapis.com/auth/calendar.readonly",
			},
			usePKCE: true,
		}
	case "reddit":
		return wellKnownEndpoints{
			authorizationEndpoint: "https://www.reddit.com/api/v1/authorize",
			tokenEndpoint:         "https://www.reddit.com/api/v1/access_token",
			scopes:                []string{"identity", "read"},
		}
	case "mastodon":
		base := mastodonInstanceURL
		if base == "" {
			base = "https://mastodon.social"
		}
		return wellKnownEndpoints{
			authorizationEndpoint: base + "/oauth/authorize",
			tokenEndpoint:         base + "/oauth/token",
			revocationEndpoint:    base + "/oauth/revoke",
			scopes:                []string{"read"},
			usePKCE:               true,
		}
	default:
		return wellKnownEndpoints{}
	}
}

// toConnectkitConfig translates the demo host's environment-driven
// config into the library's programmatic Config, filling in the
// well-known OAuth endpoints the environment schema doesn't carry.
func toConnectkitConfig(cfg *config.Config) (connectkit.Config, error) {
	providers := map[string]connectkit.ProviderConfig{}

	addProvider := func(key, clientID, clientSecret, redirectURL, apiBaseURL string) {
		if clientID == "" || clientSecret == "" {
			return
		}
		wk := wellKnownFor(key, cfg.MastodonInstanceURL)
		providers[key] = connectkit.ProviderConfig{
			ClientID:              clientID,
			ClientSecret:          clientSecret,
			AuthorizationEndpoint: wk.authorizationEndpoint,
			TokenEndpoint:         wk.tokenEndpoint,
			RevocationEndpoint:    wk.revocationEndpoint,
			Scopes:                wk.scopes,
			RedirectURI:           redirectURL,
			UsePKCE:               wk.usePKCE,
			APIBaseURL:            apiBaseURL,
		}
	}

	addProvider("github", cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubRedirectURL, "")
	addProvider("google", cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, "")
	addProvider("reddit", cfg.RedditClientID, cfg.RedditClientSecret, cfg.RedditRedirectURL, "")
	addProvider("mastodon", cfg.MastodonClientID, cfg.MastodonClientSecret, cfg.MastodonRedirectURL, cfg.MastodonInstanceURL)

	if len(providers) == 0 {
		return connectkit.Config{}, fmt.Errorf("no provider credentials configured; set at least one provider's client id/secret")
	}

	tokenStoreURL := ""
	switch cfg.TokenStoreBackend {
	case "durable-kv":
		tokenStoreURL = cfg.RedisURL
	case "relational":
		tokenStoreURL = cfg.DatabaseURL
	}

	return connectkit.Config{
		TokenStore: connectkit.TokenStoreConfig{
			Backend: cfg.TokenStoreBackend,
			URL:     tokenStoreURL,
			Encryption: connectkit.EncryptionConfig{
				Key:       cfg.EncryptionKeyHex,
				Algorithm: "aes-256-gcm",
			},
			PreRefreshMarginMinutes:   cfg.PreRefreshMarginMinutes,
			ExpiredTokenBufferMinutes: cfg.ExpiredTokenBufferMinutes,
		},
		HTTP: connectkit.HTTPConfig{
			Timeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
			Retry: connectkit.RetryConfig{
				MaxRetries: cfg.RetryMaxAttempts,
				BaseDelay:  time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
				MaxDelay:   time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond,
			},
		},
		Providers: providers,
		Metrics: connectkit.MetricsConfig{
			Enabled: cfg.MetricsEnabled,
			Path:    cfg.MetricsPath,
		},
		Logging: connectkit.LoggingConfig{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
		},
		Slack: connectkit.SlackNotifierConfig{
			BotToken: cfg.SlackBotToken,
			Channel:  cfg.SlackAlertChannel,
		},
	}, nil
}
