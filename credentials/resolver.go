// Package credentials decides which OAuth app credential a request uses for
// a provider. Resolution is three tiered: the organization's own registered
// credential wins, then the platform's elevated credential for platform
// owners, then the platform default.
package credentials

import (
	"github.com/pkg/errors"

	"github.com/jrsteele09/go-identity-broker/identities"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/providers"
	"github.com/jrsteele09/go-identity-broker/tenants"
	"github.com/jrsteele09/go-identity-broker/users"
	"github.com/jrsteele09/go-identity-broker/vault"
)

// Source records which tier supplied the credential. Callers use it for
// logging and to decide whether elevated scopes are in play.
type Source string

const (
	SourceOrganization Source = "organization"
	SourceElevated     Source = "elevated"
	SourceDefault      Source = "default"
)

// Resolver resolves provider credentials for a tenant scope.
type Resolver struct {
	credRepo tenants.OAuthCredentialRepo
	vault    *vault.Vault
	defaults map[providers.Provider]providers.Credentials
	elevated map[providers.Provider]providers.Credentials
}

// NewResolver creates a Resolver. The elevated map may be nil when the
// deployment has no elevated platform apps.
func NewResolver(
	credRepo tenants.OAuthCredentialRepo,
	cryptoVault *vault.Vault,
	defaults map[providers.Provider]providers.Credentials,
	elevated map[providers.Provider]providers.Credentials,
) *Resolver {
	return &Resolver{
		credRepo: credRepo,
		vault:    cryptoVault,
		defaults: defaults,
		elevated: elevated,
	}
}

// Resolve returns the credential to use for a provider in the given scope.
// The same resolution order applies to authorization URLs, code exchanges
// and refreshes, so a token is always refreshed with the credential that
// minted it.
func (r *Resolver) Resolve(provider providers.Provider, scope identities.TenantScope, actingUser *users.User) (providers.Credentials, Source, error) {
	if scope.OrgID != "" {
		creds, err := r.organizationCredential(provider, scope.OrgID)
		if err == nil {
			return creds, SourceOrganization, nil
		}
		if !errors.Is(err, brokererrors.ErrNotFound) {
			return providers.Credentials{}, "", errors.Wrap(err, "[Resolver.Resolve] organizationCredential")
		}
	}

	if actingUser != nil && actingUser.IsPlatformOwner {
		if creds, ok := r.elevated[provider]; ok && creds.ClientID != "" {
			return creds, SourceElevated, nil
		}
	}

	creds, ok := r.defaults[provider]
	if !ok || creds.ClientID == "" {
		return providers.Credentials{}, "", errors.Wrapf(brokererrors.ErrProvider, "[Resolver.Resolve] no credential configured for %s", provider)
	}
	return creds, SourceDefault, nil
}

func (r *Resolver) organizationCredential(provider providers.Provider, orgID string) (providers.Credentials, error) {
	row, err := r.credRepo.Get(orgID, string(provider))
	if err != nil {
		return providers.Credentials{}, err
	}

	if r.vault == nil {
		return providers.Credentials{}, errors.Wrap(brokererrors.ErrCrypto, "organization credential stored encrypted but no vault configured")
	}
	secret, err := r.vault.Decrypt(row.ClientSecretEnc)
	if err != nil {
		return providers.Credentials{}, errors.Wrap(err, "decrypt client secret")
	}

	defaults := r.defaults[provider]
	return providers.Credentials{
		ClientID:     row.ClientID,
		ClientSecret: secret,
		RedirectURI:  defaults.RedirectURI,
	}, nil
}
