// Package mappers provides the default normalize.Mapper implementation
// for every provider connector in pkg/providers.
package mappers

import (
	"fmt"
	"time"

	"github.com/wisbric/connectkit/pkg/normalize"
)

func str(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

func nested(raw map[string]any, key string) map[string]any {
	if v, ok := raw[key].(map[string]any); ok {
		return v
	}
	return nil
}

func numAsString(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int64(v))
	default:
		return ""
	}
}

func parseTime(layout, value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return nil
	}
	return &t
}

// GitHubMapper maps starred-repo and repo items from the code-hosting
// connector's /user/starred and /user/repos endpoints.
type GitHubMapper struct{}

func (GitHubMapper) Map(userID string, raw map[string]any) (normalize.NormalizedItem, error) {
	// /user/starred wraps the repo under "repo"; /user/repos is flat.
	repo := raw
	if r := nested(raw, "repo"); r != nil {
		repo = r
	}

	id := numAsString(repo, "id")
	if id == "" {
		return normalize.NormalizedItem{}, fmt.Errorf("mappers: github item missing id")
	}

	owner := nested(repo, "owner")
	return normalize.NormalizedItem{
		Source:      "github",
		ExternalID:  id,
		UserID:      userID,
		Title:       str(repo, "full_name"),
		BodyText:    str(repo, "description"),
		URL:         str(repo, "html_url"),
		Author:      str(owner, "login"),
		PublishedAt: parseTime(time.RFC3339, str(repo, "created_at")),
		Metadata: map[string]string{
			"stargazers_count": numAsString(repo, "stargazers_count"),
			"language":         str(repo, "language"),
		},
	}, nil
}

// GoogleMailMapper maps Gmail message resources, already hydrated by the
// mail/calendar connector's list-then-hydrate pass.
type GoogleMailMapper struct{}

func (GoogleMailMapper) Map(userID string, raw map[string]any) (normalize.NormalizedItem, error) {
	id := str(raw, "id")
	if id == "" {
		return normalize.NormalizedItem{}, fmt.Errorf("mappers: google-mail item missing id")
	}

	var subject, from string
	var publishedAt *time.Time
	payload := nested(raw, "payload")
	for _, h := range headerSlice(payload) {
		switch h["name"] {
		case "Subject":
			subject, _ = h["value"].(string)
		case "From":
			from, _ = h["value"].(string)
		case "Date":
			if v, ok := h["value"].(string); ok {
				publishedAt = parseTime(time.RFC1123Z, v)
			}
		}
	}

	return normalize.NormalizedItem{
		Source:      "google-mail",
		ExternalID:  id,
		UserID:      userID,
		Title:       subject,
		BodyText:    str(raw, "snippet"),
		Author:      from,
		PublishedAt: publishedAt,
		Metadata: map[string]string{
			"threadId": str(raw, "threadId"),
		},
	}, nil
}

func headerSlice(payload map[string]any) []map[string]any {
	raw, ok := payload["headers"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, h := range raw {
		if m, ok := h.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// GoogleCalendarMapper maps Calendar event resources under the
// "google-calendar" synthetic key.
type GoogleCalendarMapper struct{}

func (GoogleCalendarMapper) Map(userID string, raw map[string]any) (normalize.NormalizedItem, error) {
	id := str(raw, "id")
	if id == "" {
		return normalize.NormalizedItem{}, fmt.Errorf("mappers: google-calendar item missing id")
	}

	start := nested(raw, "start")
	publishedAt := parseTime(time.RFC3339, str(start, "dateTime"))
	if publishedAt == nil {
		publishedAt = parseTime("2006-01-02", str(start, "date"))
	}

	organizer := nested(raw, "organizer")
	return normalize.NormalizedItem{
		Source:      "google-calendar",
		ExternalID:  id,
		UserID:      userID,
		Title:       str(raw, "summary"),
		BodyText:    str(raw, "description"),
		URL:         str(raw, "htmlLink"),
		Author:      str(organizer, "email"),
		PublishedAt: publishedAt,
		Metadata: map[string]string{
			"status": str(raw, "status"),
		},
	}, nil
}

// RedditMapper maps the social-link aggregator's Reddit listing children.
type RedditMapper struct{}

func (RedditMapper) Map(userID string, raw map[string]any) (normalize.NormalizedItem, error) {
	data := raw
	if d := nested(raw, "data"); d != nil {
		data = d
	}

	id := str(data, "id")
	if id == "" {
		return normalize.NormalizedItem{}, fmt.Errorf("mappers: reddit item missing id")
	}

	var publishedAt *time.Time
	if created, ok := data["created_utc"].(float64); ok {
		t := time.Unix(int64(created), 0).UTC()
		publishedAt = &t
	}

	return normalize.NormalizedItem{
		Source:      "reddit",
		ExternalID:  id,
		UserID:      userID,
		Title:       str(data, "title"),
		BodyText:    str(data, "selftext"),
		URL:         str(data, "permalink"),
		Author:      str(data, "author"),
		PublishedAt: publishedAt,
		Metadata: map[string]string{
			"subreddit": str(data, "subreddit"),
			"score":     numAsString(data, "score"),
		},
	}, nil
}

// MastodonMapper maps the microblog connector's status objects.
type MastodonMapper struct{}

func (MastodonMapper) Map(userID string, raw map[string]any) (normalize.NormalizedItem, error) {
	id := str(raw, "id")
	if id == "" {
		return normalize.NormalizedItem{}, fmt.Errorf("mappers: mastodon item missing id")
	}

	account := nested(raw, "account")
	return normalize.NormalizedItem{
		Source:      "mastodon",
		ExternalID:  id,
		UserID:      userID,
		BodyText:    str(raw, "content"),
		URL:         str(raw, "url"),
		Author:      str(account, "acct"),
		PublishedAt: parseTime(time.RFC3339, str(raw, "created_at")),
		Metadata: map[string]string{
			"visibility":       str(raw, "visibility"),
			"reblogs_count":    numAsString(raw, "reblogs_count"),
			"favourites_count": numAsString(raw, "favourites_count"),
		},
	}, nil
}

// FeedMapper maps syndication feed entries (RSS/Atom, pre-parsed by the
// feed connector into a common shape).
type FeedMapper struct{}

func (FeedMapper) Map(userID string, raw map[string]any) (normalize.NormalizedItem, error) {
	id := str(raw, "guid")
	if id == "" {
		id = str(raw, "link")
	}
	if id == "" {
		return normalize.NormalizedItem{}, fmt.Errorf("mappers: feed item missing guid and link")
	}

	return normalize.NormalizedItem{
		Source:      "feed",
		ExternalID:  id,
		UserID:      userID,
		Title:       str(raw, "title"),
		BodyText:    str(raw, "description"),
		URL:         str(raw, "link"),
		Author:      str(raw, "author"),
		PublishedAt: parseTime(time.RFC1123Z, str(raw, "pubDate")),
	}, nil
}
