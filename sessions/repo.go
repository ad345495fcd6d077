package sessions

import "time"

// Repo defines session storage operations. Expired rows are swept by a
// background job; revocation is a plain delete.
type Repo interface {
	// Create inserts a new session row
	Create(session *Session) error

	// GetByTokenHash retrieves a live session by the token hash
	GetByTokenHash(tokenHash string) (*Session, error)

	// DeleteByTokenHash removes a session, revoking its token
	DeleteByTokenHash(tokenHash string) error

	// DeleteByUser removes all sessions for a user
	DeleteByUser(userID string) error

	// DeleteExpired removes sessions that expired before the given time
	DeleteExpired(before time.Time) error
}
