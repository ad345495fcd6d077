// Package providers adapts the upstream identity providers behind a single
// interface, absorbing each provider's protocol quirks so callers see one
// uniform contract.
package providers

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
)

// Provider is the closed set of supported upstream identity providers.
type Provider string

const (
	Github    Provider = "github"
	Google    Provider = "google"
	Microsoft Provider = "microsoft"
)

// Parse validates a provider name from a URL path or request body.
func Parse(s string) (Provider, error) {
	switch Provider(strings.ToLower(s)) {
	case Github:
		return Github, nil
	case Google:
		return Google, nil
	case Microsoft:
		return Microsoft, nil
	default:
		return "", errors.Wrapf(brokererrors.ErrBadRequest, "invalid provider %q", s)
	}
}

// All returns every supported provider.
func All() []Provider {
	return []Provider{Github, Google, Microsoft}
}

// Capabilities describes a provider's protocol behavior. The table is fixed
// per provider and drives the adapter's branching.
type Capabilities struct {
	SupportsRefresh bool // github never issues refresh tokens
	RequiresPKCE    bool // microsoft rejects exchanges without a code verifier
	EmailFallback   bool // github may omit email from the profile endpoint
	OIDCUserInfo    bool // user info served from the OIDC userinfo endpoint
}

var capabilityTable = map[Provider]Capabilities{
	Github:    {SupportsRefresh: false, RequiresPKCE: false, EmailFallback: true, OIDCUserInfo: false},
	Google:    {SupportsRefresh: true, RequiresPKCE: false, EmailFallback: false, OIDCUserInfo: true},
	Microsoft: {SupportsRefresh: true, RequiresPKCE: true, EmailFallback: false, OIDCUserInfo: false},
}

// Capabilities returns the provider's capability row.
func (p Provider) Capabilities() Capabilities {
	return capabilityTable[p]
}

// Credentials is a resolved OAuth app credential for one provider. Which
// credential a request uses is decided by the credentials resolver.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// UserInfo is the normalized profile fetched after a successful exchange.
type UserInfo struct {
	ProviderUserID string `json:"provider_user_id"`
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	AvatarURL      string `json:"avatar_url,omitempty"`
}

// TokenDetails is the normalized result of a code exchange or refresh.
type TokenDetails struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scopes       []string
}

type endpoints struct {
	oauth2.Endpoint
	userInfoURL string
	emailsURL   string
	oidcIssuer  string
}

func defaultEndpoints() map[Provider]endpoints {
	return map[Provider]endpoints{
		Github: {
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://github.com/login/oauth/authorize",
				TokenURL: "https://github.com/login/oauth/access_token",
			},
			userInfoURL: "https://api.github.com/user",
			emailsURL:   "https://api.github.com/user/emails",
		},
		Google: {
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
			oidcIssuer: "https://accounts.google.com",
		},
		Microsoft: {
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
				TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
			},
			userInfoURL: "https://graph.microsoft.com/v1.0/me",
		},
	}
}
