// Package social implements the social-link aggregator provider adapter
// (spec §4.11): Reddit listings, which require fetching the
// authenticated username from /me before composing user-scoped paths,
// paginated via after/before cursors, with limit capped at 100.
package social

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/wisbric/connectkit/pkg/httpcore"
	"github.com/wisbric/connectkit/pkg/oauth"
	"github.com/wisbric/connectkit/pkg/providers/providerutil"
)

const MaxLimit = 100
const DefaultLimit = 25

// Adapter fetches a user's submitted or saved posts.
type Adapter struct {
	HTTP        *httpcore.Core
	BaseURL     string // e.g. https://oauth.reddit.com
	RedirectURI string
}

func (Adapter) Name() string { return "reddit" }

func (a Adapter) ProviderKey(params map[string]string) string { return "reddit" }

func (a Adapter) GetConnectOptions(params map[string]string) oauth.ConnectOptions {
	return oauth.ConnectOptions{ExtraParams: map[string]string{"duration": "permanent"}}
}

func (a Adapter) GetRedirectURI() string { return a.RedirectURI }

func (a Adapter) Fetch(ctx context.Context, accessToken string, params map[string]string) ([]map[string]any, error) {
	username, err := a.fetchUsername(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	kind := params["type"]
	if kind == "" {
		kind = "submitted"
	}

	limit := DefaultLimit
	if l := params["limit"]; l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if after := params["after"]; after != "" {
		query.Set("after", after)
	}
	if before := params["before"]; before != "" {
		query.Set("before", before)
	}

	reqURL := a.BaseURL + "/user/" + username + "/" + kind
	resp, err := a.HTTP.Do(ctx, a.Name(), httpcore.RequestConfig{
		URL:     reqURL,
		Method:  http.MethodGet,
		Headers: http.Header{"Authorization": {"Bearer " + accessToken}},
		Query:   query,
		ETagKey: "reddit:" + username + ":" + kind,
	})
	if err != nil {
		return nil, err
	}

	listing, err := providerutil.DecodeObjects(resp.Data)
	if err != nil || len(listing) == 0 {
		return nil, err
	}
	data, _ := listing[0]["data"].(map[string]any)
	raw, _ := data["children"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, c := range raw {
		if m, ok := c.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (a Adapter) fetchUsername(ctx context.Context, accessToken string) (string, error) {
	resp, err := a.HTTP.Do(ctx, a.Name(), httpcore.RequestConfig{
		URL:     a.BaseURL + "/api/v1/me",
		Method:  http.MethodGet,
		Headers: http.Header{"Authorization": {"Bearer " + accessToken}},
	})
	if err != nil {
		return "", err
	}
	items, err := providerutil.DecodeObjects(resp.Data)
	if err != nil || len(items) == 0 {
		return "", err
	}
	name, _ := items[0]["name"].(string)
	return name, nil
}
