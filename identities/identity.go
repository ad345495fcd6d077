// Package identities models the link between a broker account and an
// upstream provider account, together with the provider tokens held for it.
package identities

import (
	"time"
)

// TenantScope narrows an identity to the organization/service it was issued
// under. The zero value is the platform scope.
type TenantScope struct {
	OrgID     string `json:"org_id,omitempty"`
	ServiceID string `json:"service_id,omitempty"`
}

// IsPlatform reports whether the scope is the platform-wide one.
func (s TenantScope) IsPlatform() bool {
	return s.OrgID == "" && s.ServiceID == ""
}

// Identity is one linked provider account. At most one identity exists per
// (user, provider, issuing org, issuing service).
//
// Token columns come in plaintext and encrypted forms. New writes go to the
// encrypted columns when a crypto vault is configured; rows written before
// encryption was enabled keep their plaintext columns readable.
type Identity struct {
	ID             string `json:"id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Provider       string `json:"provider,omitempty"`
	ProviderUserID string `json:"provider_user_id,omitempty"`
	Email          string `json:"email,omitempty"`

	AccessToken     string `json:"-"`
	AccessTokenEnc  []byte `json:"-"`
	RefreshToken    string `json:"-"`
	RefreshTokenEnc []byte `json:"-"`
	EncKeyID        string `json:"-"`

	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	Scopes         string     `json:"scopes,omitempty"`

	IssuingOrgID     string `json:"issuing_org_id,omitempty"`
	IssuingServiceID string `json:"issuing_service_id,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Scope returns the tenant scope the identity was issued under.
func (i *Identity) Scope() TenantScope {
	return TenantScope{OrgID: i.IssuingOrgID, ServiceID: i.IssuingServiceID}
}

// HasEncryptedTokens reports whether the row carries sealed token columns.
func (i *Identity) HasEncryptedTokens() bool {
	return len(i.AccessTokenEnc) > 0 || len(i.RefreshTokenEnc) > 0
}
