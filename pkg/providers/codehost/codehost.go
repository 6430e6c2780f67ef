// Package codehost implements the code-hosting provider adapter (spec
// §4.11): starred-repo and repo listings, paginated, with the
// provider's versioned Accept header.
package codehost

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/wisbric/connectkit/pkg/connector"
	"github.com/wisbric/connectkit/pkg/httpcore"
	"github.com/wisbric/connectkit/pkg/oauth"
	"github.com/wisbric/connectkit/pkg/providers/providerutil"
)

// AcceptMediaType is the provider's versioned REST media type.
const AcceptMediaType = "application/vnd.github+json"

const DefaultPerPage = 30

// Adapter fetches a user's starred repositories or owned repositories.
type Adapter struct {
	HTTP        *httpcore.Core
	BaseURL     string // e.g. https://api.github.com
	RedirectURI string
}

func (Adapter) Name() string { return "github" }

func (a Adapter) ProviderKey(params map[string]string) string { return "github" }

func (a Adapter) GetConnectOptions(params map[string]string) oauth.ConnectOptions {
	return oauth.ConnectOptions{}
}

func (a Adapter) GetRedirectURI() string { return a.RedirectURI }

// Fetch dispatches to /user/starred or /user/repos depending on
// params["type"], defaulting to starred.
func (a Adapter) Fetch(ctx context.Context, accessToken string, params map[string]string) ([]map[string]any, error) {
	resourceType := params["type"]
	if resourceType == "" {
		resourceType = "starred"
	}

	page := 1
	if p := params["page"]; p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	var path string
	switch resourceType {
	case "starred":
		path = "/user/starred"
	case "repos":
		path = "/user/repos"
	default:
		return nil, fmt.Errorf("codehost: unknown resource type %q", resourceType)
	}

	reqURL := a.BaseURL + path
	query := url.Values{
		"per_page": {strconv.Itoa(DefaultPerPage)},
		"page":     {strconv.Itoa(page)},
	}

	resp, err := a.HTTP.Do(ctx, a.Name(), httpcore.RequestConfig{
		URL:    reqURL,
		Method: http.MethodGet,
		Headers: http.Header{
			"Authorization": {"Bearer " + accessToken},
			"Accept":        {AcceptMediaType},
		},
		Query:   query,
		ETagKey: connector.ETagKeyForPage(resourceType, page),
	})
	if err != nil {
		return nil, err
	}
	return providerutil.DecodeObjects(resp.Data)
}
