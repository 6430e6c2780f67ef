package mappers

import "testing"

func TestGitHubMapperUnwrapsStarredEnvelope(t *testing.T) {
	raw := map[string]any{
		"repo": map[string]any{
			"id":               float64(42),
			"full_name":        "wisbric/connectkit",
			"description":      "ingestion sdk",
			"html_url":         "https://github.com/wisbric/connectkit",
			"created_at":       "2024-01-02T15:04:05Z",
			"stargazers_count": float64(7),
			"language":         "Go",
			"owner":            map[string]any{"login": "wisbric"},
		},
	}

	item, err := GitHubMapper{}.Map("user-1", raw)
	if err != nil {
		t.Fatalf("Map returned error: %v", err)
	}
	if item.ExternalID != "42" {
		t.Fatalf("ExternalID = %q, want 42", item.ExternalID)
	}
	if item.Author != "wisbric" {
		t.Fatalf("Author = %q, want wisbric", item.Author)
	}
	if item.PublishedAt == nil {
		t.Fatal("PublishedAt = nil, want parsed timestamp")
	}
	if item.Metadata["stargazers_count"] != "7" {
		t.Fatalf("stargazers_count = %q, want 7", item.Metadata["stargazers_count"])
	}
}

func TestGitHubMapperFlatRepoShape(t *testing.T) {
	raw := map[string]any{
		"id":        float64(7),
		"full_name": "wisbric/other",
		"owner":     map[string]any{"login": "wisbric"},
	}
	item, err := GitHubMapper{}.Map("user-1", raw)
	if err != nil {
		t.Fatalf("Map returned error: %v", err)
	}
	if item.ExternalID != "7" {
		t.Fatalf("ExternalID = %q, want 7", item.ExternalID)
	}
}

func TestGitHubMapperMissingIDFails(t *testing.T) {
	if _, err := (GitHubMapper{}).Map("user-1", map[string]any{}); err == nil {
		t.Fatal("Map() err = nil, want error for missing id")
	}
}

func TestGoogleMailMapperExtractsHeaders(t *testing.T) {
	raw := map[string]any{
		"id":       "msg-1",
		"threadId": "thread-1",
		"snippet":  "hello there",
		"payload": map[string]any{
			"headers": []any{
				map[string]any{"name": "Subject", "value": "Hi"},
				map[string]any{"name": "From", "value": "a@example.com"},
				map[string]any{"name": "Date", "value": "Mon, 02 Jan 2024 15:04:05 +0000"},
			},
		},
	}

	item, err := GoogleMailMapper{}.Map("user-1", raw)
	if err != nil {
		t.Fatalf("Map returned error: %v", err)
	}
	if item.Title != "Hi" {
		t.Fatalf("Title = %q, want Hi", item.Title)
	}
	if item.Author != "a@example.com" {
		t.Fatalf("Author = %q, want a@example.com", item.Author)
	}
	if item.PublishedAt == nil {
		t.Fatal("PublishedAt = nil, want parsed timestamp")
	}
	if item.Metadata["threadId"] != "thread-1" {
		t.Fatalf("threadId = %q, want thread-1", item.Metadata["threadId"])
	}
}

func TestGoogleMailMapperMissingIDFails(t *testing.T) {
	if _, err := (GoogleMailMapper{}).Map("user-1", map[string]any{}); err == nil {
		t.Fatal("Map() err = nil, want error for missing id")
	}
}

func TestGoogleCalendarMapperParsesDateTime(t *testing.T) {
	raw := map[string]any{
		"id":       "evt-1",
		"summary":  "Standup",
		"htmlLink": "https://calendar.google.com/evt-1",
		"start":    map[string]any{"dateTime": "2024-01-02T09:00:00Z"},
		"organizer": map[string]any{
			"email": "team@example.com",
		},
		"status": "confirmed",
	}

	item, err := GoogleCalendarMapper{}.Map("user-1", raw)
	if err != nil {
		t.Fatalf("Map returned error: %v", err)
	}
	if item.PublishedAt == nil {
		t.Fatal("PublishedAt = nil, want parsed dateTime")
	}
	if item.Metadata["status"] != "confirmed" {
		t.Fatalf("status = %q, want confirmed", item.Metadata["status"])
	}
}

func TestGoogleCalendarMapperFallsBackToAllDayDate(t *testing.T) {
	raw := map[string]any{
		"id":      "evt-2",
		"summary": "Holiday",
		"start":   map[string]any{"date": "2024-01-02"},
	}
	item, err := GoogleCalendarMapper{}.Map("user-1", raw)
	if err != nil {
		t.Fatalf("Map returned error: %v", err)
	}
	if item.PublishedAt == nil {
		t.Fatal("PublishedAt = nil, want parsed all-day date")
	}
}

func TestRedditMapperUnwrapsListingChild(t *testing.T) {
	raw := map[string]any{
		"data": map[string]any{
			"id":          "abc123",
			"title":       "a post",
			"selftext":    "body",
			"permalink":   "/r/golang/abc123",
			"author":      "gopher",
			"subreddit":   "golang",
			"score":       float64(99),
			"created_utc": float64(1700000000),
		},
	}
	item, err := RedditMapper{}.Map("user-1", raw)
	if err != nil {
		t.Fatalf("Map returned error: %v", err)
	}
	if item.ExternalID != "abc123" {
		t.Fatalf("ExternalID = %q, want abc123", item.ExternalID)
	}
	if item.PublishedAt == nil {
		t.Fatal("PublishedAt = nil, want parsed created_utc")
	}
	if item.Metadata["subreddit"] != "golang" {
		t.Fatalf("subreddit = %q, want golang", item.Metadata["subreddit"])
	}
}

func TestMastodonMapperExtractsAccount(t *testing.T) {
	raw := map[string]any{
		"id":               "status-1",
		"content":          "<p>hello</p>",
		"url":              "https://mastodon.social/@gopher/status-1",
		"created_at":       "2024-01-02T15:04:05Z",
		"visibility":       "public",
		"reblogs_count":    float64(3),
		"favourites_count": float64(5),
		"account":          map[string]any{"acct": "gopher@mastodon.social"},
	}
	item, err := MastodonMapper{}.Map("user-1", raw)
	if err != nil {
		t.Fatalf("Map returned error: %v", err)
	}
	if item.Author != "gopher@mastodon.social" {
		t.Fatalf("Author = %q, want gopher@mastodon.social", item.Author)
	}
	if item.Metadata["reblogs_count"] != "3" {
		t.Fatalf("reblogs_count = %q, want 3", item.Metadata["reblogs_count"])
	}
}

func TestFeedMapperPrefersGUIDOverLink(t *testing.T) {
	raw := map[string]any{
		"guid":        "guid-1",
		"link":        "https://example.com/post",
		"title":       "a post",
		"description": "body",
		"author":      "writer",
		"pubDate":     "Mon, 02 Jan 2024 15:04:05 +0000",
	}
	item, err := FeedMapper{}.Map("user-1", raw)
	if err != nil {
		t.Fatalf("Map returned error: %v", err)
	}
	if item.ExternalID != "guid-1" {
		t.Fatalf("ExternalID = %q, want guid-1", item.ExternalID)
	}
	if item.PublishedAt == nil {
		t.Fatal("PublishedAt = nil, want parsed pubDate")
	}
}

func TestFeedMapperFallsBackToLinkWhenGUIDMissing(t *testing.T) {
	raw := map[string]any{"link": "https://example.com/post"}
	item, err := FeedMapper{}.Map("user-1", raw)
	if err != nil {
		t.Fatalf("Map returned error: %v", err)
	}
	if item.ExternalID != "https://example.com/post" {
		t.Fatalf("ExternalID = %q, want link fallback", item.ExternalID)
	}
}

func TestFeedMapperMissingGUIDAndLinkFails(t *testing.T) {
	if _, err := (FeedMapper{}).Map("user-1", map[string]any{}); err == nil {
		t.Fatal("Map() err = nil, want error for missing guid and link")
	}
}
