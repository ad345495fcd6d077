package identities

import "time"

type IdentityRepo interface {
	Upsert(identity *Identity) error
	GetByUserProvider(userID, provider string, scope TenantScope) (*Identity, error)
	GetByProviderSubject(provider, providerUserID string, scope TenantScope) (*Identity, error)
	ListByUser(userID string) ([]*Identity, error)
	CountByUser(userID string) (int, error)

	// CountByUserInScope counts a user's identities within one tenant scope.
	// The lockout guard on unlink uses this: identities in other scopes
	// cannot sign the user in to this one.
	CountByUserInScope(userID string, scope TenantScope) (int, error)

	Delete(userID, provider string, scope TenantScope) error

	// ListExpiringBefore returns identities whose tokens expire before the
	// cutoff and that hold a refresh token, for the background sweep.
	ListExpiringBefore(cutoff time.Time) ([]*Identity, error)
}
