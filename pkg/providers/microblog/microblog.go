// Package microblog implements the microblog provider adapter (spec
// §4.11): Mastodon statuses, limit capped at 100, type selects the
// endpoint, extra field projections always requested.
package microblog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/wisbric/connectkit/pkg/httpcore"
	"github.com/wisbric/connectkit/pkg/oauth"
	"github.com/wisbric/connectkit/pkg/providers/providerutil"
)

const MaxLimit = 100
const DefaultLimit = 20

// Adapter fetches a user's home timeline or their own statuses,
// depending on params["type"].
type Adapter struct {
	HTTP        *httpcore.Core
	BaseURL     string // e.g. https://mastodon.social
	RedirectURI string
}

func (Adapter) Name() string { return "mastodon" }

func (a Adapter) ProviderKey(params map[string]string) string { return "mastodon" }

func (a Adapter) GetConnectOptions(params map[string]string) oauth.ConnectOptions {
	return oauth.ConnectOptions{}
}

func (a Adapter) GetRedirectURI() string { return a.RedirectURI }

func (a Adapter) Fetch(ctx context.Context, accessToken string, params map[string]string) ([]map[string]any, error) {
	kind := params["type"]
	if kind == "" {
		kind = "home"
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

	query := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"fields": {"id,content,url,created_at,visibility,reblogs_count,favourites_count,account"},
	}

	var path string
	switch kind {
	case "home":
		path = "/api/v1/timelines/home"
	case "statuses":
		me, err := a.fetchAccountID(ctx, accessToken)
		if err != nil {
			return nil, err
		}
		path = "/api/v1/accounts/" + me + "/statuses"
	default:
		return nil, fmt.Errorf("microblog: unknown type %q", kind)
	}

	resp, err := a.HTTP.Do(ctx, a.Name(), httpcore.RequestConfig{
		URL:     a.BaseURL + path,
		Method:  http.MethodGet,
		Headers: http.Header{"Authorization": {"Bearer " + accessToken}},
		Query:   query,
		ETagKey: "mastodon:" + kind,
	})
	if err != nil {
		return nil, err
	}
	return providerutil.DecodeObjects(resp.Data)
}

func (a Adapter) fetchAccountID(ctx context.Context, accessToken string) (string, error) {
	resp, err := a.HTTP.Do(ctx, a.Name(), httpcore.RequestConfig{
		URL:     a.BaseURL + "/api/v1/accounts/verify_credentials",
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
	id, _ := items[0]["id"].(string)
	return id, nil
}
