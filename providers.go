package connectkit

import (
	"github.com/wisbric/connectkit/pkg/connector"
	"github.com/wisbric/connectkit/pkg/httpcore"
	"github.com/wisbric/connectkit/pkg/mappers"
	"github.com/wisbric/connectkit/pkg/normalize"
	"github.com/wisbric/connectkit/pkg/providers/codehost"
	"github.com/wisbric/connectkit/pkg/providers/mailcal"
	"github.com/wisbric/connectkit/pkg/providers/microblog"
	"github.com/wisbric/connectkit/pkg/providers/social"
)

// defaultAPIBaseURL returns the builtin adapter's default API host for a
// known provider key, or "" for a key connectkit has no builtin for.
func defaultAPIBaseURL(provider string) string {
	switch provider {
	case "github":
		return "https://api.github.com"
	case "google":
		return "https://www.googleapis.com"
	case "reddit":
		return "https://oauth.reddit.com"
	case "mastodon":
		return "https://mastodon.social"
	default:
		return ""
	}
}

// newBuiltinAdapter constructs the connector.Adapter for one of
// connectkit's four builtin OAuth providers. It returns (nil, nil) for a
// provider key connectkit has no builtin for, so the caller can fall
// back to RegisterConnector.
func newBuiltinAdapter(provider string, http *httpcore.Core, baseURL, redirectURI string) (connector.Adapter, error) {
	if baseURL == "" {
		baseURL = defaultAPIBaseURL(provider)
	}

	switch provider {
	case "github":
		return codehost.Adapter{HTTP: http, BaseURL: baseURL, RedirectURI: redirectURI}, nil
	case "google":
		return mailcal.Adapter{HTTP: http, BaseURL: baseURL, RedirectURI: redirectURI, HydrateConcurrency: mailcal.DefaultHydrateConcurrency}, nil
	case "reddit":
		return social.Adapter{HTTP: http, BaseURL: baseURL, RedirectURI: redirectURI}, nil
	case "mastodon":
		return microblog.Adapter{HTTP: http, BaseURL: baseURL, RedirectURI: redirectURI}, nil
	default:
		return nil, nil
	}
}

// registerDefaultMappers wires every builtin provider's mapper, including
// the synthetic "google-calendar" normalizer key mailcal.Adapter routes
// calendar items to.
func registerDefaultMappers(reg *normalize.Registry) {
	reg.Register("github", mappers.GitHubMapper{})
	reg.Register("google-mail", mappers.GoogleMailMapper{})
	reg.Register("google-calendar", mappers.GoogleCalendarMapper{})
	reg.Register("reddit", mappers.RedditMapper{})
	reg.Register("mastodon", mappers.MastodonMapper{})
	reg.Register("feed", mappers.FeedMapper{})
}
