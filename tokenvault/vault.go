// Package tokenvault serves provider access tokens, transparently refreshing
// them near expiry. Refreshes are serialized per user through a lease-style
// lock so concurrent requests trigger exactly one provider call.
package tokenvault

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-identity-broker/credentials"
	"github.com/jrsteele09/go-identity-broker/identities"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/providers"
	"github.com/jrsteele09/go-identity-broker/users"
	"github.com/jrsteele09/go-identity-broker/vault"
)

const (
	// DefaultRefreshMargin is how close to expiry a token is considered
	// refresh-due.
	DefaultRefreshMargin = 5 * time.Minute

	// DefaultLockTTL bounds how long a crashed holder can block refreshes.
	DefaultLockTTL = 30 * time.Second

	// DefaultContentionWait is how long a loser of the lock race waits
	// before re-reading the refreshed row.
	DefaultContentionWait = 2 * time.Second
)

// LockRepo is the distributed lease lock behind refresh serialization.
// Acquire is atomic insert-if-absent; expired leases are purged first.
type LockRepo interface {
	Acquire(key string, ttl time.Duration) (bool, error)
	Release(key string) error
}

// Refresher is the provider-facing refresh call, satisfied by
// providers.Adapter.
type Refresher interface {
	Refresh(ctx context.Context, provider providers.Provider, creds providers.Credentials, refreshToken string) (*providers.TokenDetails, error)
}

// CredentialResolver picks the OAuth app credential for a refresh.
type CredentialResolver interface {
	Resolve(provider providers.Provider, scope identities.TenantScope, actingUser *users.User) (providers.Credentials, credentials.Source, error)
}

// ProviderToken is what callers receive: always a usable, decrypted token.
type ProviderToken struct {
	Provider     providers.Provider `json:"provider"`
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time         `json:"expires_at,omitempty"`
	Scopes       string             `json:"scopes,omitempty"`
}

// Vault hands out provider tokens from stored identities.
type Vault struct {
	identityRepo identities.IdentityRepo
	userRepo     users.UserRepo
	lockRepo     LockRepo
	resolver     CredentialResolver
	refresher    Refresher
	crypto       *vault.Vault

	refreshMargin  time.Duration
	lockTTL        time.Duration
	contentionWait time.Duration
	nowFunc        func() time.Time
	sleepFunc      func(time.Duration)
}

// VaultOption defines a function type to modify the Vault instance.
type VaultOption func(*Vault)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) VaultOption {
	return func(v *Vault) {
		v.nowFunc = now
	}
}

// WithSleepFunc overrides the contention wait (primarily for testing)
func WithSleepFunc(sleep func(time.Duration)) VaultOption {
	return func(v *Vault) {
		v.sleepFunc = sleep
	}
}

// WithRefreshMargin overrides the refresh-due margin.
func WithRefreshMargin(margin time.Duration) VaultOption {
	return func(v *Vault) {
		v.refreshMargin = margin
	}
}

// WithLockTTL overrides the lease duration.
func WithLockTTL(ttl time.Duration) VaultOption {
	return func(v *Vault) {
		v.lockTTL = ttl
	}
}

// New creates a token Vault. The crypto vault may be nil, in which case
// tokens are persisted in plaintext columns.
func New(
	identityRepo identities.IdentityRepo,
	userRepo users.UserRepo,
	lockRepo LockRepo,
	resolver CredentialResolver,
	refresher Refresher,
	crypto *vault.Vault,
	options ...VaultOption,
) *Vault {
	v := &Vault{
		identityRepo:   identityRepo,
		userRepo:       userRepo,
		lockRepo:       lockRepo,
		resolver:       resolver,
		refresher:      refresher,
		crypto:         crypto,
		refreshMargin:  DefaultRefreshMargin,
		lockTTL:        DefaultLockTTL,
		contentionWait: DefaultContentionWait,
		nowFunc:        time.Now,
		sleepFunc:      time.Sleep,
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// GetToken returns a usable access token for the user's identity with the
// provider, refreshing first when expiry is inside the margin.
func (v *Vault) GetToken(ctx context.Context, userID string, provider providers.Provider, scope identities.TenantScope) (*ProviderToken, error) {
	identity, err := v.identityRepo.GetByUserProvider(userID, string(provider), scope)
	if err != nil {
		return nil, errors.Wrapf(err, "[Vault.GetToken] no %s identity for user", provider)
	}

	if v.refreshDue(identity) {
		identity, err = v.refreshWithLock(ctx, identity)
		if err != nil {
			return nil, errors.Wrap(err, "[Vault.GetToken] refreshWithLock")
		}
	}

	return v.toProviderToken(identity)
}

func (v *Vault) refreshDue(identity *identities.Identity) bool {
	if identity.TokenExpiresAt == nil {
		return false
	}
	return identity.TokenExpiresAt.Before(v.nowFunc().Add(v.refreshMargin))
}

// refreshWithLock serializes refreshes per user. Losing the lock race is not
// an error: the loser waits out the winner and re-reads the row.
func (v *Vault) refreshWithLock(ctx context.Context, identity *identities.Identity) (*identities.Identity, error) {
	acquired, err := v.lockRepo.Acquire(identity.UserID, v.lockTTL)
	if err != nil {
		return nil, errors.Wrap(err, "[Vault.refreshWithLock] lockRepo.Acquire")
	}

	if !acquired {
		v.sleepFunc(v.contentionWait)
		updated, err := v.identityRepo.GetByUserProvider(identity.UserID, identity.Provider, identity.Scope())
		if err != nil {
			return nil, errors.Wrap(err, "[Vault.refreshWithLock] re-read after contention")
		}
		return updated, nil
	}

	defer func() {
		if err := v.lockRepo.Release(identity.UserID); err != nil {
			log.Warn().Err(err).Str("user_id", identity.UserID).Msg("failed to release refresh lock")
		}
	}()

	return v.refresh(ctx, identity)
}

func (v *Vault) refresh(ctx context.Context, identity *identities.Identity) (*identities.Identity, error) {
	provider, err := providers.Parse(identity.Provider)
	if err != nil {
		return nil, errors.Wrap(err, "[Vault.refresh]")
	}

	_, refreshToken, err := v.decryptTokens(identity)
	if err != nil {
		return nil, errors.Wrap(err, "[Vault.refresh] decryptTokens")
	}
	if refreshToken == "" {
		return nil, errors.Wrapf(brokererrors.ErrRefreshUnsupported, "[Vault.refresh] no refresh token for %s identity", provider)
	}

	actingUser, err := v.userRepo.GetByID(identity.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "[Vault.refresh] userRepo.GetByID")
	}

	creds, source, err := v.resolver.Resolve(provider, identity.Scope(), actingUser)
	if err != nil {
		return nil, errors.Wrap(err, "[Vault.refresh] resolver.Resolve")
	}

	details, err := v.refresher.Refresh(ctx, provider, creds, refreshToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Vault.refresh] refresher.Refresh")
	}

	log.Info().
		Str("user_id", identity.UserID).
		Str("provider", string(provider)).
		Str("credential_source", string(source)).
		Msg("refreshed provider token")

	// Providers that issue no new refresh token keep the stored one
	newRefreshToken := details.RefreshToken
	if newRefreshToken == "" {
		newRefreshToken = refreshToken
	}

	if err := v.sealTokens(identity, details.AccessToken, newRefreshToken); err != nil {
		return nil, errors.Wrap(err, "[Vault.refresh] sealTokens")
	}
	identity.TokenExpiresAt = details.ExpiresAt

	if err := v.identityRepo.Upsert(identity); err != nil {
		return nil, errors.Wrap(err, "[Vault.refresh] identityRepo.Upsert")
	}
	return identity, nil
}

// decryptTokens returns usable plaintext tokens regardless of how the row is
// stored. Rows written before encryption was enabled keep plaintext columns.
func (v *Vault) decryptTokens(identity *identities.Identity) (accessToken, refreshToken string, err error) {
	accessToken = identity.AccessToken
	refreshToken = identity.RefreshToken

	if len(identity.AccessTokenEnc) > 0 {
		if v.crypto == nil {
			return "", "", errors.Wrap(brokererrors.ErrCrypto, "row encrypted but no vault configured")
		}
		accessToken, err = v.crypto.Decrypt(identity.AccessTokenEnc)
		if err != nil {
			return "", "", errors.Wrap(err, "decrypt access token")
		}
	}
	if len(identity.RefreshTokenEnc) > 0 {
		if v.crypto == nil {
			return "", "", errors.Wrap(brokererrors.ErrCrypto, "row encrypted but no vault configured")
		}
		refreshToken, err = v.crypto.Decrypt(identity.RefreshTokenEnc)
		if err != nil {
			return "", "", errors.Wrap(err, "decrypt refresh token")
		}
	}
	return accessToken, refreshToken, nil
}

// sealTokens writes new token material onto the row, encrypting when a
// crypto vault is configured. Writing through encryption migrates legacy
// plaintext rows.
func (v *Vault) sealTokens(identity *identities.Identity, accessToken, refreshToken string) error {
	if v.crypto == nil {
		identity.AccessToken = accessToken
		identity.RefreshToken = refreshToken
		return nil
	}

	accessEnc, err := v.crypto.Encrypt(accessToken)
	if err != nil {
		return errors.Wrap(err, "encrypt access token")
	}
	refreshEnc, err := v.crypto.Encrypt(refreshToken)
	if err != nil {
		return errors.Wrap(err, "encrypt refresh token")
	}

	identity.AccessToken = ""
	identity.RefreshToken = ""
	identity.AccessTokenEnc = accessEnc
	identity.RefreshTokenEnc = refreshEnc
	identity.EncKeyID = v.crypto.KeyID()
	return nil
}

// SealNewTokens prepares an identity row for persistence after a code
// exchange, using the same storage rules as refresh.
func (v *Vault) SealNewTokens(identity *identities.Identity, details *providers.TokenDetails) error {
	if err := v.sealTokens(identity, details.AccessToken, details.RefreshToken); err != nil {
		return errors.Wrap(err, "[Vault.SealNewTokens]")
	}
	identity.TokenExpiresAt = details.ExpiresAt
	return nil
}

func (v *Vault) toProviderToken(identity *identities.Identity) (*ProviderToken, error) {
	accessToken, refreshToken, err := v.decryptTokens(identity)
	if err != nil {
		return nil, errors.Wrap(err, "[Vault.toProviderToken] decryptTokens")
	}
	return &ProviderToken{
		Provider:     providers.Provider(identity.Provider),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    identity.TokenExpiresAt,
		Scopes:       identity.Scopes,
	}, nil
}
