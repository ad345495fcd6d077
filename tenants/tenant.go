// Package tenants models the organizations and services the broker issues
// tokens for, together with their OAuth credential overrides.
package tenants

import "time"

// OrgStatus is the lifecycle state of an organization. Only active
// organizations may mint tenant-scoped sessions.
type OrgStatus string

const (
	OrgActive    OrgStatus = "active"
	OrgPending   OrgStatus = "pending"
	OrgSuspended OrgStatus = "suspended"
)

// Organization is a tenant of the broker, addressed by slug in URLs and
// claim sets.
type Organization struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Status    OrgStatus `json:"status"`
	Plan      string    `json:"plan,omitempty"`
	Features  []string  `json:"features,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Active reports whether the organization may be used for new sessions.
func (o *Organization) Active() bool {
	return o.Status == OrgActive
}

// Service is one integration surface inside an organization, with its own
// redirect URIs and per-provider scope requirements.
type Service struct {
	ID             string              `json:"id"`
	OrgID          string              `json:"org_id"`
	Slug           string              `json:"slug"`
	Name           string              `json:"name"`
	RedirectURIs   []string            `json:"redirect_uris,omitempty"`
	ProviderScopes map[string][]string `json:"provider_scopes,omitempty"` // provider -> extra scopes
	CreatedAt      time.Time           `json:"created_at,omitempty"`
}

// ScopesFor returns the extra scopes the service requests from a provider.
func (s *Service) ScopesFor(provider string) []string {
	if s.ProviderScopes == nil {
		return nil
	}
	return s.ProviderScopes[provider]
}

// OAuthCredential is a bring-your-own-OAuth-app credential registered by an
// organization for a provider. The client secret is sealed at rest.
type OAuthCredential struct {
	ID              string    `json:"id"`
	OrgID           string    `json:"org_id"`
	Provider        string    `json:"provider"`
	ClientID        string    `json:"client_id"`
	ClientSecretEnc []byte    `json:"-"`
	EncKeyID        string    `json:"-"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// TokenGrant is an allow-list entry authorizing a service to fetch users'
// provider tokens. A service-scoped session may only retrieve tokens for
// providers its service has a grant for; Required marks providers the
// service cannot function without.
type TokenGrant struct {
	ID        string    `json:"id"`
	ServiceID string    `json:"service_id"`
	Provider  string    `json:"provider"`
	Required  bool      `json:"required"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
