package sqlite

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/sessions"
)

var _ sessions.Repo = (*sessionRepo)(nil)

type sessionRepo struct {
	db *sql.DB
}

func (r *sessionRepo) Create(session *sessions.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(`
		INSERT INTO sessions (id, user_id, token_hash, org_id, service_id, user_agent, ip_address, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.TokenHash, session.OrgID, session.ServiceID,
		session.UserAgent, session.IPAddress, toMillis(session.CreatedAt), toMillis(session.ExpiresAt))
	if err != nil {
		return errors.Wrap(err, "[sessionRepo.Create]")
	}
	return nil
}

func (r *sessionRepo) GetByTokenHash(tokenHash string) (*sessions.Session, error) {
	var (
		session   sessions.Session
		createdAt int64
		expiresAt int64
	)
	err := r.db.QueryRow(`
		SELECT id, user_id, token_hash, org_id, service_id, user_agent, ip_address, created_at, expires_at
		FROM sessions WHERE token_hash = ?`, tokenHash).Scan(
		&session.ID, &session.UserID, &session.TokenHash, &session.OrgID, &session.ServiceID,
		&session.UserAgent, &session.IPAddress, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, brokererrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[sessionRepo.GetByTokenHash]")
	}

	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	return &session, nil
}

func (r *sessionRepo) DeleteByTokenHash(tokenHash string) error {
	if _, err := r.db.Exec(`DELETE FROM sessions WHERE token_hash = ?`, tokenHash); err != nil {
		return errors.Wrap(err, "[sessionRepo.DeleteByTokenHash]")
	}
	return nil
}

func (r *sessionRepo) DeleteByUser(userID string) error {
	if _, err := r.db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return errors.Wrap(err, "[sessionRepo.DeleteByUser]")
	}
	return nil
}

func (r *sessionRepo) DeleteExpired(before time.Time) error {
	if _, err := r.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, toMillis(before)); err != nil {
		return errors.Wrap(err, "[sessionRepo.DeleteExpired]")
	}
	return nil
}
