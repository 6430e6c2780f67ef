package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	ckerrors "github.com/wisbric/connectkit/errors"
)

func newTestCore(t *testing.T, tokenHandler http.HandlerFunc) (*Core, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(tokenHandler)
	t.Cleanup(srv.Close)

	core := New(map[string]ProviderConfig{
		"github": {
			ClientID:              "client-id",
			ClientSecret:          "client-secret",
			AuthorizationEndpoint: srv.URL + "/authorize",
			TokenEndpoint:         srv.URL + "/token",
			Scopes:                []string{"repo"},
			RedirectURL:           "https://app.example.com/callback",
			UsePKCE:               true,
			AuthMethod:            AuthMethodClientSecretBasic,
		},
	}, nil)

	if err := core.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	return core, srv
}

func TestCreateAuthURLIncludesPKCEAndState(t *testing.T) {
	core, _ := newTestCore(t, nil)

	authURL, err := core.CreateAuthURL("github", "user-1", ConnectOptions{})
	if err != nil {
		t.Fatalf("CreateAuthURL returned error: %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parsing auth URL: %v", err)
	}
	q := parsed.Query()
	if q.Get("code_challenge") == "" {
		t.Fatal("code_challenge missing from auth URL")
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Fatalf("code_challenge_method = %q, want S256", q.Get("code_challenge_method"))
	}
	if q.Get("state") == "" {
		t.Fatal("state missing from auth URL")
	}
	if q.Get("client_id") != "client-id" {
		t.Fatalf("client_id = %q, want client-id", q.Get("client_id"))
	}
}

func TestCreateAuthURLUnknownProviderFails(t *testing.T) {
	core, _ := newTestCore(t, nil)
	if _, err := core.CreateAuthURL("unknown", "user-1", ConnectOptions{}); err == nil {
		t.Fatal("CreateAuthURL() err = nil, want error for unknown provider")
	}
}

func TestExchangeCodeRejectsUnknownState(t *testing.T) {
	core, _ := newTestCore(t, nil)
	_, err := core.ExchangeCode(context.Background(), "github", "some-code", "bogus-state", "")
	if err == nil {
		t.Fatal("ExchangeCode() err = nil, want error for unknown state")
	}
	var oauthErr *ckerrors.OAuthError
	if !errors.As(err, &oauthErr) {
		t.Fatalf("ExchangeCode() err = %v, want OAuthError", err)
	}
}

func TestExchangeCodeSucceedsWithValidCodeVerifier(t *testing.T) {
	var gotVerifier string
	core, _ := newTestCore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		gotVerifier = r.Form.Get("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-xyz",
			"refresh_token": "refresh-xyz",
			"expires_in":    3600,
			"token_type":    "Bearer",
		})
	})

	authURL, err := core.CreateAuthURL("github", "user-1", ConnectOptions{})
	if err != nil {
		t.Fatalf("CreateAuthURL returned error: %v", err)
	}
	parsed, _ := url.Parse(authURL)
	state := parsed.Query().Get("state")

	ts, err := core.ExchangeCode(context.Background(), "github", "auth-code", state, "")
	if err != nil {
		t.Fatalf("ExchangeCode returned error: %v", err)
	}
	if ts.AccessToken != "access-xyz" {
		t.Fatalf("AccessToken = %q, want access-xyz", ts.AccessToken)
	}
	if !ts.HasExpiresAt() {
		t.Fatal("HasExpiresAt() = false, want true")
	}
	if gotVerifier == "" {
		t.Fatal("token request missing code_verifier")
	}

	// Reusing the same state must fail: it was deleted on first use.
	if _, err := core.ExchangeCode(context.Background(), "github", "auth-code", state, ""); err == nil {
		t.Fatal("second ExchangeCode() with same state err = nil, want error")
	}
}

func TestRefreshTokenClassifiesInvalidGrantAsExpired(t *testing.T) {
	core, _ := newTestCore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "refresh token revoked",
		})
	})

	_, err := core.RefreshToken(context.Background(), "github", "stale-refresh-token")
	if err == nil {
		t.Fatal("RefreshToken() err = nil, want TokenExpiredError")
	}
	var expired *ckerrors.TokenExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("RefreshToken() err = %v, want TokenExpiredError", err)
	}
}

func TestRefreshTokenSucceeds(t *testing.T) {
	core, _ := newTestCore(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" {
			t.Fatalf("grant_type = %q, want refresh_token", r.Form.Get("grant_type"))
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			t.Fatal("expected HTTP Basic client auth for AuthMethodClientSecretBasic")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "new-access",
			"expires_in":   1800,
			"token_type":   "Bearer",
		})
	})

	ts, err := core.RefreshToken(context.Background(), "github", "existing-refresh-token")
	if err != nil {
		t.Fatalf("RefreshToken returned error: %v", err)
	}
	if ts.AccessToken != "new-access" {
		t.Fatalf("AccessToken = %q, want new-access", ts.AccessToken)
	}
	if ts.RefreshToken != "existing-refresh-token" {
		t.Fatalf("RefreshToken = %q, want preserved existing-refresh-token", ts.RefreshToken)
	}
}

func TestRevokeTokenNoRevocationEndpointIsNoop(t *testing.T) {
	core, _ := newTestCore(t, nil)
	core.RevokeToken(context.Background(), "github", "sometoken")
}

func TestRevokeTokenBestEffort(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		gotToken = r.Form.Get("token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	core := New(map[string]ProviderConfig{
		"github": {
			ClientID:              "client-id",
			ClientSecret:          "client-secret",
			AuthorizationEndpoint: srv.URL + "/authorize",
			TokenEndpoint:         srv.URL + "/token",
			RevocationEndpoint:    srv.URL + "/revoke",
		},
	}, nil)
	if err := core.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	core.RevokeToken(context.Background(), "github", "tok-123")
	if gotToken != "tok-123" {
		t.Fatalf("revoked token = %q, want tok-123", gotToken)
	}
}

func TestSweepExpiredChallengesRemovesStaleEntries(t *testing.T) {
	core, _ := newTestCore(t, nil)
	core.challenges["stale-state"] = pkceChallenge{CreatedAt: time.Now().Add(-time.Hour)}
	core.sweepExpiredChallenges()
	if _, ok := core.challenges["stale-state"]; ok {
		t.Fatal("stale challenge survived sweep")
	}
}
