package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/connectkit/internal/crypto"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	enc := crypto.New(key)

	return NewRedisStore(client, enc)
}

func TestRedisStoreSetThenGetRoundTrips(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	ts := TokenSet{AccessToken: "abc", RefreshToken: "def", ExpiresAt: ptr(time.Now().Add(time.Hour))}

	if _, err := store.Set(ctx, "user-1", "github", ts, map[string]string{"scope": "repo"}); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	rec, err := store.Get(ctx, "user-1", "github", GetOptions{})
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if rec == nil {
		t.Fatal("Get() = nil, want record")
	}
	if rec.TokenSet.AccessToken != "abc" {
		t.Fatalf("AccessToken = %q, want %q", rec.TokenSet.AccessToken, "abc")
	}
	if rec.Metadata["scope"] != "repo" {
		t.Fatalf("Metadata[scope] = %q, want %q", rec.Metadata["scope"], "repo")
	}
}

func TestRedisStoreGetMissingReturnsNil(t *testing.T) {
	store := newTestRedisStore(t)
	rec, err := store.Get(context.Background(), "user-1", "github", GetOptions{})
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if rec != nil {
		t.Fatalf("Get() = %+v, want nil", rec)
	}
}

func TestRedisStoreUpdatePreservesCreatedAtAndMetadata(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	first, err := store.Set(ctx, "user-1", "github", TokenSet{AccessToken: "abc", ExpiresAt: ptr(time.Now().Add(time.Hour))}, map[string]string{"scope": "repo"})
	if err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	updated, err := store.Update(ctx, "user-1", "github", TokenSet{AccessToken: "xyz", ExpiresAt: ptr(time.Now().Add(2 * time.Hour))})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if !updated.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("CreatedAt = %v, want preserved %v", updated.CreatedAt, first.CreatedAt)
	}
	if updated.Metadata["scope"] != "repo" {
		t.Fatalf("Metadata[scope] = %q, want preserved %q", updated.Metadata["scope"], "repo")
	}
}

func TestRedisStoreDeleteRemovesKey(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := store.Set(ctx, "user-1", "github", TokenSet{AccessToken: "abc"}, nil); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := store.Delete(ctx, "user-1", "github"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	rec, err := store.Get(ctx, "user-1", "github", GetOptions{})
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if rec != nil {
		t.Fatalf("Get() after Delete = %+v, want nil", rec)
	}
}

func TestRedisStoreListReturnsOnlyMatchingUser(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	mustSet := func(userID, provider string) {
		if _, err := store.Set(ctx, userID, provider, TokenSet{AccessToken: "tok"}, nil); err != nil {
			t.Fatalf("Set(%s, %s) returned error: %v", userID, provider, err)
		}
	}
	mustSet("user-1", "github")
	mustSet("user-1", "reddit")
	mustSet("user-2", "github")

	providers, err := store.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("List() = %v, want 2 entries", providers)
	}
}
