// Package mailcal implements the mail/calendar provider adapter (spec
// §4.11): mail requires a list-then-hydrate pattern bounded by the
// provider's own rate limiter; calendar is a single listing call routed
// to the "google-calendar" normalizer key.
package mailcal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/wisbric/connectkit/pkg/httpcore"
	"github.com/wisbric/connectkit/pkg/oauth"
	"github.com/wisbric/connectkit/pkg/providers/providerutil"
)

// DefaultHydrateConcurrency bounds how many message-detail fetches run
// concurrently during the list-then-hydrate pass; the provider rate
// limiter still governs actual admission.
const DefaultHydrateConcurrency = 5

const DefaultMaxResults = 50

// Adapter fetches Gmail messages or Calendar events depending on
// params["service"].
type Adapter struct {
	HTTP               *httpcore.Core
	BaseURL            string // e.g. https://www.googleapis.com
	RedirectURI        string
	HydrateConcurrency int
}

func (Adapter) Name() string { return "google" }

func (a Adapter) ProviderKey(params map[string]string) string {
	if params["service"] == "calendar" {
		return "google-calendar"
	}
	return "google-mail"
}

func (a Adapter) GetConnectOptions(params map[string]string) oauth.ConnectOptions {
	return oauth.ConnectOptions{ExtraParams: map[string]string{"access_type": "offline", "prompt": "consent"}}
}

func (a Adapter) GetRedirectURI() string { return a.RedirectURI }

func (a Adapter) Fetch(ctx context.Context, accessToken string, params map[string]string) ([]map[string]any, error) {
	switch params["service"] {
	case "calendar":
		return a.fetchCalendar(ctx, accessToken)
	case "mail", "":
		return a.fetchMail(ctx, accessToken)
	default:
		return nil, fmt.Errorf("mailcal: unknown service %q", params["service"])
	}
}

func (a Adapter) fetchCalendar(ctx context.Context, accessToken string) ([]map[string]any, error) {
	resp, err := a.HTTP.Do(ctx, a.Name(), httpcore.RequestConfig{
		URL:     a.BaseURL + "/calendar/v3/calendars/primary/events",
		Method:  http.MethodGet,
		Headers: http.Header{"Authorization": {"Bearer " + accessToken}},
		Query:   url.Values{"maxResults": {"50"}, "singleEvents": {"true"}, "orderBy": {"startTime"}},
		ETagKey: "google-calendar:primary",
	})
	if err != nil {
		return nil, err
	}
	return providerutil.DecodeField(resp.Data, "items")
}

func (a Adapter) fetchMail(ctx context.Context, accessToken string) ([]map[string]any, error) {
	listResp, err := a.HTTP.Do(ctx, a.Name(), httpcore.RequestConfig{
		URL:     a.BaseURL + "/gmail/v1/users/me/messages",
		Method:  http.MethodGet,
		Headers: http.Header{"Authorization": {"Bearer " + accessToken}},
		Query:   url.Values{"maxResults": {"50"}},
		ETagKey: "google-mail:list",
	})
	if err != nil {
		return nil, err
	}

	refs, err := providerutil.DecodeField(listResp.Data, "messages")
	if err != nil {
		return nil, err
	}

	concurrency := a.HydrateConcurrency
	if concurrency <= 0 {
		concurrency = DefaultHydrateConcurrency
	}

	items := make([]map[string]any, len(refs))
	errs := make([]error, len(refs))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, ref := range refs {
		id, _ := ref["id"].(string)
		if id == "" {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			items[i], errs[i] = a.hydrateMessage(ctx, accessToken, id)
		}(i, id)
	}
	wg.Wait()

	out := make([]map[string]any, 0, len(refs))
	for i, err := range errs {
		if err != nil {
			return nil, err
		}
		if items[i] != nil {
			out = append(out, items[i])
		}
	}
	return out, nil
}

func (a Adapter) hydrateMessage(ctx context.Context, accessToken, id string) (map[string]any, error) {
	resp, err := a.HTTP.Do(ctx, a.Name(), httpcore.RequestConfig{
		URL:     a.BaseURL + "/gmail/v1/users/me/messages/" + id,
		Method:  http.MethodGet,
		Headers: http.Header{"Authorization": {"Bearer " + accessToken}},
		Query:   url.Values{"format": {"metadata"}, "metadataHeaders": {"Subject"}},
		ETagKey: "google-mail:message:" + id,
	})
	if err != nil {
		return nil, err
	}
	items, err := providerutil.DecodeObjects(resp.Data)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}
