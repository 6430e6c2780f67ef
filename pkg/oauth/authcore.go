// Package oauth implements AuthCore (spec §4.8): PKCE-backed
// authorization URL construction, code exchange, refresh, and
// revocation against a configured set of provider OAuth clients, with
// optional OIDC discovery and nonce verification.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	ckerrors "github.com/wisbric/connectkit/errors"
	"github.com/wisbric/connectkit/pkg/tokenstore"
)

// ConnectOptions lets a connector override scopes or inject extra
// authorization URL parameters for one connect call (e.g. login_hint).
type ConnectOptions struct {
	Scopes      []string
	ExtraParams map[string]string
}

// Core is AuthCore: the OAuth client for every configured provider, plus
// the in-memory PKCE/state table and its sweeper.
type Core struct {
	mu         sync.Mutex
	providers  map[string]*resolvedProvider
	challenges map[string]pkceChallenge

	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an uninitialized AuthCore for the given provider configs.
// Call Initialize before use.
func New(providers map[string]ProviderConfig, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	resolved := make(map[string]*resolvedProvider, len(providers))
	for name, cfg := range providers {
		resolved[name] = &resolvedProvider{cfg: cfg}
	}
	return &Core{
		providers:  resolved,
		challenges: make(map[string]pkceChallenge),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Initialize resolves OAuth endpoints for every configured provider,
// running OIDC discovery where a DiscoveryURL was given.
func (c *Core) Initialize(ctx context.Context) error {
	for name, rp := range c.providers {
		if rp.cfg.DiscoveryURL != "" {
			provider, err := oidc.NewProvider(ctx, rp.cfg.DiscoveryURL)
			if err != nil {
				return &ckerrors.ConfigError{Field: "providers." + name + ".discoveryUrl", Msg: "discovering OIDC provider", Cause: err}
			}
			rp.oauth2Cfg = &oauth2.Config{
				ClientID:     rp.cfg.ClientID,
				ClientSecret: rp.cfg.ClientSecret,
				RedirectURL:  rp.cfg.RedirectURL,
				Scopes:       rp.cfg.Scopes,
				Endpoint:     provider.Endpoint(),
			}
			if rp.cfg.OIDC {
				rp.oidcVerifier = provider.Verifier(&oidc.Config{ClientID: rp.cfg.ClientID})
			}
			continue
		}

		if rp.cfg.AuthorizationEndpoint == "" || rp.cfg.TokenEndpoint == "" {
			return &ckerrors.ConfigError{Field: "providers." + name, Msg: "must set authorizationEndpoint and tokenEndpoint, or discoveryUrl"}
		}
		rp.oauth2Cfg = &oauth2.Config{
			ClientID:     rp.cfg.ClientID,
			ClientSecret: rp.cfg.ClientSecret,
			RedirectURL:  rp.cfg.RedirectURL,
			Scopes:       rp.cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   rp.cfg.AuthorizationEndpoint,
				TokenURL:  rp.cfg.TokenEndpoint,
				AuthStyle: authStyleFor(rp.cfg.AuthMethod),
			},
		}
	}
	return nil
}

// StartSweeper launches the 60s PKCE-expiry sweep; it exits when ctx is
// done.
func (c *Core) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweepExpiredChallenges()
			}
		}
	}()
}

func (c *Core) sweepExpiredChallenges() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for state, ch := range c.challenges {
		if now.Sub(ch.CreatedAt) > pkceTTL {
			delete(c.challenges, state)
		}
	}
}

// CreateAuthURL builds the authorization URL for provider and stashes
// its PKCE challenge (and nonce, for OIDC providers) under the returned
// state.
func (c *Core) CreateAuthURL(provider, _ string, opts ConnectOptions) (string, error) {
	rp, ok := c.providers[provider]
	if !ok || rp.oauth2Cfg == nil {
		return "", &ckerrors.OAuthError{Provider: provider, Msg: "unknown or uninitialized provider"}
	}

	state, err := generateState()
	if err != nil {
		return "", err
	}

	challenge := pkceChallenge{CreatedAt: time.Now()}
	var authOpts []oauth2.AuthCodeOption

	if rp.cfg.UsePKCE {
		verifier, codeChallenge, err := generatePKCE()
		if err != nil {
			return "", err
		}
		challenge.Verifier = verifier
		challenge.Challenge = codeChallenge
		authOpts = append(authOpts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}

	if rp.cfg.OIDC && rp.oidcVerifier != nil {
		nonce, err := generateNonce()
		if err != nil {
			return "", err
		}
		challenge.Nonce = nonce
		authOpts = append(authOpts, oauth2.SetAuthURLParam("nonce", nonce))
	}

	for k, v := range rp.cfg.ExtraAuthParams {
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, v))
	}
	for k, v := range opts.ExtraParams {
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, v))
	}

	cfg := *rp.oauth2Cfg
	if len(opts.Scopes) > 0 {
		cfg.Scopes = opts.Scopes
	}

	authURL := cfg.AuthCodeURL(state, authOpts...)

	c.mu.Lock()
	c.challenges[state] = challenge
	c.mu.Unlock()

	return authURL, nil
}

// ExchangeCode validates the PKCE state, exchanges the authorization
// code, and (for OIDC providers carrying a nonce) verifies the returned
// ID token's nonce.
func (c *Core) ExchangeCode(ctx context.Context, provider, code, state, redirectURI string) (tokenstore.TokenSet, error) {
	rp, ok := c.providers[provider]
	if !ok || rp.oauth2Cfg == nil {
		return tokenstore.TokenSet{}, &ckerrors.OAuthError{Provider: provider, Msg: "unknown or uninitialized provider"}
	}

	c.mu.Lock()
	challenge, found := c.challenges[state]
	delete(c.challenges, state)
	c.mu.Unlock()

	if !found {
		return tokenstore.TokenSet{}, &ckerrors.OAuthError{Provider: provider, Msg: "unknown or already-used state"}
	}
	if time.Since(challenge.CreatedAt) > pkceTTL {
		return tokenstore.TokenSet{}, &ckerrors.OAuthError{Provider: provider, Msg: "authorization request expired"}
	}

	var exchangeOpts []oauth2.AuthCodeOption
	if challenge.Verifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.SetAuthURLParam("code_verifier", challenge.Verifier))
	}

	cfg := *rp.oauth2Cfg
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}

	token, err := cfg.Exchange(ctx, code, exchangeOpts...)
	if err != nil {
		return tokenstore.TokenSet{}, classifyOAuthError(provider, err)
	}

	if challenge.Nonce != "" {
		if err := c.verifyNonce(ctx, rp, token, challenge.Nonce); err != nil {
			return tokenstore.TokenSet{}, err
		}
	}

	return toTokenSet(token), nil
}

func (c *Core) verifyNonce(ctx context.Context, rp *resolvedProvider, token *oauth2.Token, nonce string) error {
	if rp.oidcVerifier == nil {
		return nil
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return &ckerrors.OAuthError{Msg: "token response missing id_token"}
	}
	idToken, err := rp.oidcVerifier.Verify(ctx, rawIDToken)
	if err != nil {
		return &ckerrors.OAuthError{Msg: "verifying id_token", Cause: err}
	}
	if idToken.Nonce != nonce {
		return &ckerrors.OAuthError{Msg: "id_token nonce mismatch"}
	}
	return nil
}

type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type tokenWireResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
	IDToken      string `json:"id_token"`
}

// RefreshToken POSTs grant_type=refresh_token directly rather than going
// through oauth2.TokenSource, so a permanent invalid_grant failure can be
// told apart from a transient one.
func (c *Core) RefreshToken(ctx context.Context, provider, refreshToken string) (tokenstore.TokenSet, error) {
	rp, ok := c.providers[provider]
	if !ok || rp.oauth2Cfg == nil {
		return tokenstore.TokenSet{}, &ckerrors.OAuthError{Provider: provider, Msg: "unknown or uninitialized provider"}
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	if rp.cfg.AuthMethod != AuthMethodClientSecretBasic {
		form.Set("client_id", rp.cfg.ClientID)
		if rp.cfg.ClientSecret != "" {
			form.Set("client_secret", rp.cfg.ClientSecret)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rp.oauth2Cfg.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenstore.TokenSet{}, &ckerrors.TokenRefreshError{Provider: provider, Cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if rp.cfg.AuthMethod == AuthMethodClientSecretBasic {
		req.SetBasicAuth(rp.cfg.ClientID, rp.cfg.ClientSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tokenstore.TokenSet{}, &ckerrors.TokenRefreshError{Provider: provider, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenstore.TokenSet{}, &ckerrors.TokenRefreshError{Provider: provider, Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		var wireErr tokenErrorResponse
		_ = json.Unmarshal(body, &wireErr)
		if wireErr.Error == "invalid_grant" {
			return tokenstore.TokenSet{}, &ckerrors.TokenExpiredError{
				Provider: provider,
				Cause:    fmt.Errorf("%s: %s", wireErr.Error, wireErr.ErrorDescription),
			}
		}
		return tokenstore.TokenSet{}, &ckerrors.TokenRefreshError{
			Provider: provider,
			Cause:    fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, wireErr.Error),
		}
	}

	var wire tokenWireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return tokenstore.TokenSet{}, &ckerrors.TokenRefreshError{Provider: provider, Cause: fmt.Errorf("decoding refresh response: %w", err)}
	}

	ts := tokenstore.TokenSet{
		AccessToken:  wire.AccessToken,
		RefreshToken: wire.RefreshToken,
		Scope:        wire.Scope,
		TokenType:    wire.TokenType,
		IDToken:      wire.IDToken,
	}
	if ts.RefreshToken == "" {
		// Many providers omit refresh_token on refresh; the old one stays valid.
		ts.RefreshToken = refreshToken
	}
	if wire.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(wire.ExpiresIn) * time.Second)
		ts.ExpiresAt = &exp
	}
	return ts, nil
}

// RevokeToken is best-effort: failures are logged, never propagated,
// since a stored token is always deleted regardless of revocation
// outcome.
func (c *Core) RevokeToken(ctx context.Context, provider, token string) {
	rp, ok := c.providers[provider]
	if !ok || rp.cfg.RevocationEndpoint == "" {
		return
	}

	form := url.Values{"token": {token}}
	if rp.cfg.AuthMethod != AuthMethodClientSecretBasic {
		form.Set("client_id", rp.cfg.ClientID)
		if rp.cfg.ClientSecret != "" {
			form.Set("client_secret", rp.cfg.ClientSecret)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rp.cfg.RevocationEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		c.logger.Warn("oauth: building revoke request failed", "provider", provider, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rp.cfg.AuthMethod == AuthMethodClientSecretBasic {
		req.SetBasicAuth(rp.cfg.ClientID, rp.cfg.ClientSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("oauth: revoke request failed", "provider", provider, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("oauth: revoke request rejected", "provider", provider, "status", resp.StatusCode)
	}
}

func classifyOAuthError(provider string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &ckerrors.OAuthError{
			Provider: provider,
			Code:     retrieveErr.ErrorCode,
			Msg:      retrieveErr.ErrorDescription,
			Denied:   retrieveErr.ErrorCode == "access_denied",
			Cause:    err,
		}
	}
	return &ckerrors.OAuthError{Provider: provider, Msg: err.Error(), Cause: err}
}

func toTokenSet(token *oauth2.Token) tokenstore.TokenSet {
	ts := tokenstore.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	if !token.Expiry.IsZero() {
		exp := token.Expiry
		ts.ExpiresAt = &exp
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		ts.IDToken = idToken
	}
	if scope, ok := token.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}
