package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wisbric/connectkit/internal/telemetry"
	"github.com/wisbric/connectkit/pkg/httpcore"
	"github.com/wisbric/connectkit/pkg/mappers"
	"github.com/wisbric/connectkit/pkg/normalize"
)

const rssBody = `<?xml version="1.0"?>
<rss><channel>
<item><guid>g1</guid><title>Post one</title><link>https://example.com/1</link><pubDate>Mon, 02 Jan 2024 15:04:05 +0000</pubDate><author>writer</author><description>body</description></item>
</channel></rss>`

const atomBody = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<entry><id>urn:1</id><title>Entry one</title><updated>2024-01-02T15:04:05Z</updated><summary>body</summary><link rel="alternate" href="https://example.com/entry1"/></entry>
</feed>`

func newTestConnector(t *testing.T) *Connector {
	t.Helper()
	core := httpcore.New(telemetry.NoopCollector{})
	core.ConfigureProvider("feed", 50, 10, 0)
	norm := normalize.NewRegistry()
	norm.Register("feed", mappers.FeedMapper{})
	return &Connector{Adapter: Adapter{HTTP: core}, Norm: norm}
}

func TestFetchParsesRSS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssBody))
	}))
	defer srv.Close()

	c := newTestConnector(t)
	items, err := c.Fetch(context.Background(), "user-1", map[string]string{"url": srv.URL})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].Title != "Post one" {
		t.Fatalf("Title = %q, want Post one", items[0].Title)
	}
}

func TestFetchParsesAtom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(atomBody))
	}))
	defer srv.Close()

	c := newTestConnector(t)
	items, err := c.Fetch(context.Background(), "user-1", map[string]string{"url": srv.URL})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].URL != "https://example.com/entry1" {
		t.Fatalf("URL = %q, want https://example.com/entry1", items[0].URL)
	}
}

func TestFetchMissingURLFails(t *testing.T) {
	c := newTestConnector(t)
	if _, err := c.Fetch(context.Background(), "user-1", nil); err == nil {
		t.Fatal("Fetch() err = nil, want error for missing url")
	}
}

func TestETagKeyIsBoundedAndDeterministic(t *testing.T) {
	a := ETagKey("https://example.com/feed.xml")
	b := ETagKey("https://example.com/feed.xml")
	if a != b {
		t.Fatal("ETagKey not deterministic")
	}
	if len(a) > len("feed:")+ETagKeyLength {
		t.Fatalf("ETagKey length = %d, want bounded", len(a))
	}
}
