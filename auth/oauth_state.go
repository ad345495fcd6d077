// Package auth drives the browser-facing SSO flows: starting a provider
// login, completing the callback, linking additional identities, and
// revoking sessions.
package auth

import "time"

// StateTTL is how long an in-flight OAuth round trip stays valid.
const StateTTL = 10 * time.Minute

// OAuthState is the server-side record for one outbound authorization
// redirect. States are single use: the callback consumes the row.
type OAuthState struct {
	State        string    // opaque value carried through the provider round trip
	Provider     string    // provider the redirect targeted
	PKCEVerifier string    // set when the provider requires PKCE
	RedirectURI  string    // where to send the browser after completion
	OrgSlug      string    // tenant context for the resulting session
	ServiceSlug  string    // tenant context for the resulting session
	IsAdminFlow  bool      // selects elevated platform credentials
	LinkUserID   string    // set when this flow links an identity to an existing account
	DeviceCode   string    // user code of a pending device authorization to complete
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the state is past its TTL.
func (s *OAuthState) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// StateRepo stores in-flight OAuth states.
type StateRepo interface {
	Create(state *OAuthState) error

	// Consume atomically fetches and deletes a state, making replay of the
	// same callback impossible.
	Consume(state string) (*OAuthState, error)

	// DeleteExpired removes states past their TTL.
	DeleteExpired(before time.Time) (int64, error)
}
