// Package sessions holds the server-side session rows that back issued claim
// sets. A claim set is only honored while its session row is alive, which is
// what makes logout an immediate revocation.
package sessions

import "time"

// Session is one live login. The raw bearer token is never stored; rows are
// keyed by its SHA-256 hash.
type Session struct {
	ID        string    // Unique session identifier (UUID)
	UserID    string    // Owning user
	TokenHash string    // SHA-256 hex of the issued bearer token
	OrgID     string    // Tenant context, empty for platform sessions
	ServiceID string    // Tenant context, empty for platform sessions
	UserAgent string    // Client metadata captured at login
	IPAddress string    // Client metadata captured at login
	CreatedAt time.Time // When the session was created
	ExpiresAt time.Time // Mirrors the claim set expiry
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
