// Package feed implements the feed provider adapter (spec §4.11): no
// OAuth, an arbitrary caller-supplied feed URL, and an ETag key derived
// from a truncated SHA-256 of that URL so keys stay bounded regardless
// of URL length.
package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"net/http"

	"github.com/wisbric/connectkit/pkg/httpcore"
	"github.com/wisbric/connectkit/pkg/normalize"
	"github.com/wisbric/connectkit/pkg/oauth"
)

// ETagKeyLength is how many hex characters of the URL's SHA-256 digest
// form the cache key.
const ETagKeyLength = 16

// Adapter fetches and parses an RSS/Atom feed. Unlike the other
// provider adapters it carries no OAuth credential to acquire.
type Adapter struct {
	HTTP *httpcore.Core
}

// Connector is the feed provider's top-level entry point. It skips
// BaseConnector.GetAccessToken entirely (spec §4.11: "overrides
// getAccessToken to no-op") since a feed URL needs no access token.
type Connector struct {
	Adapter Adapter
	Norm    *normalize.Registry
}

// NewConnector wires a feed Connector over http and the shared
// normalizer registry.
func NewConnector(http *httpcore.Core, norm *normalize.Registry) *Connector {
	return &Connector{Adapter: Adapter{HTTP: http}, Norm: norm}
}

// Fetch retrieves and normalizes params["url"] for userID. There is no
// connect/handleCallback/disconnect lifecycle for feeds: the URL is the
// only credential.
func (c *Connector) Fetch(ctx context.Context, userID string, params map[string]string) ([]normalize.NormalizedItem, error) {
	raw, err := c.Adapter.Fetch(ctx, "", params)
	if err != nil {
		return nil, err
	}
	return c.Norm.Normalize(c.Adapter.ProviderKey(params), userID, raw)
}

func (Adapter) Name() string { return "feed" }

func (a Adapter) ProviderKey(params map[string]string) string { return "feed" }

func (a Adapter) GetConnectOptions(params map[string]string) oauth.ConnectOptions {
	return oauth.ConnectOptions{}
}

func (a Adapter) GetRedirectURI() string { return "" }

// ETagKey derives the bounded cache key for feedURL.
func ETagKey(feedURL string) string {
	sum := sha256.Sum256([]byte(feedURL))
	return "feed:" + hex.EncodeToString(sum[:])[:ETagKeyLength]
}

// Fetch retrieves params["url"] and parses it as RSS or Atom, returning
// each entry as a raw item. accessToken is ignored: feeds carry no
// credential.
func (a Adapter) Fetch(ctx context.Context, accessToken string, params map[string]string) ([]map[string]any, error) {
	feedURL := params["url"]
	if feedURL == "" {
		return nil, fmt.Errorf("feed: missing url parameter")
	}

	resp, err := a.HTTP.Do(ctx, a.Name(), httpcore.RequestConfig{
		URL:     feedURL,
		Method:  http.MethodGet,
		ETagKey: ETagKey(feedURL),
	})
	if err != nil {
		return nil, err
	}

	return parseFeed(resp.Data)
}

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	GUID        string `xml:"guid"`
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
	Author      string `xml:"author"`
	Description string `xml:"description"`
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID      string `xml:"id"`
	Title   string `xml:"title"`
	Updated string `xml:"updated"`
	Summary string `xml:"summary"`
	Author  struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
}

func parseFeed(body []byte) ([]map[string]any, error) {
	var rss rssFeed
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		out := make([]map[string]any, 0, len(rss.Channel.Items))
		for _, it := range rss.Channel.Items {
			out = append(out, map[string]any{
				"guid":        it.GUID,
				"title":       it.Title,
				"link":        it.Link,
				"pubDate":     it.PubDate,
				"author":      it.Author,
				"description": it.Description,
			})
		}
		return out, nil
	}

	var atom atomFeed
	if err := xml.Unmarshal(body, &atom); err != nil {
		return nil, fmt.Errorf("feed: parsing feed: %w", err)
	}
	out := make([]map[string]any, 0, len(atom.Entries))
	for _, e := range atom.Entries {
		link := ""
		for _, l := range e.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		out = append(out, map[string]any{
			"guid":        e.ID,
			"title":       e.Title,
			"link":        link,
			"pubDate":     e.Updated,
			"author":      e.Author.Name,
			"description": e.Summary,
		})
	}
	return out, nil
}
