package oauth

import (
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// AuthMethod selects how client credentials are presented to the token
// endpoint. A provider may mandate one; the default tries client_secret_post.
type AuthMethod int

const (
	// AuthMethodClientSecretPost sends client_id/client_secret as form
	// fields alongside the grant.
	AuthMethodClientSecretPost AuthMethod = iota
	// AuthMethodClientSecretBasic sends client credentials as HTTP Basic
	// auth, as some providers (e.g. GitHub) require.
	AuthMethodClientSecretBasic
)

// ProviderConfig is one entry of the AuthCore's provider -> OAuth client
// configuration map.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string

	// Either AuthorizationEndpoint+TokenEndpoint, or DiscoveryURL.
	AuthorizationEndpoint string
	TokenEndpoint         string
	RevocationEndpoint    string
	DiscoveryURL          string

	Scopes      []string
	RedirectURL string

	UsePKCE bool
	// OIDC opts the provider into nonce issuance and ID token
	// verification; only meaningful when DiscoveryURL is set.
	OIDC bool

	AuthMethod AuthMethod
	// ExtraAuthParams are appended to every authorization URL for this
	// provider (e.g. access_type=offline, prompt=consent, duration=permanent).
	ExtraAuthParams map[string]string
}

// resolvedProvider is a ProviderConfig after Initialize has resolved its
// endpoints (directly or via OIDC discovery).
type resolvedProvider struct {
	cfg          ProviderConfig
	oauth2Cfg    *oauth2.Config
	oidcVerifier *oidc.IDTokenVerifier
}

func authStyleFor(m AuthMethod) oauth2.AuthStyle {
	if m == AuthMethodClientSecretBasic {
		return oauth2.AuthStyleInHeader
	}
	return oauth2.AuthStyleInParams
}
