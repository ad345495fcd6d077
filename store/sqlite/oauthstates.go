package sqlite

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-identity-broker/auth"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
)

var _ auth.StateRepo = (*stateRepo)(nil)

type stateRepo struct {
	db *sql.DB
}

func (r *stateRepo) Create(state *auth.OAuthState) error {
	_, err := r.db.Exec(`
		INSERT INTO oauth_states (state, provider, pkce_verifier, redirect_uri, org_slug, service_slug, is_admin_flow, link_user_id, device_user_code, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		state.State, state.Provider, state.PKCEVerifier, state.RedirectURI,
		state.OrgSlug, state.ServiceSlug, state.IsAdminFlow, state.LinkUserID, state.DeviceCode,
		toMillis(state.CreatedAt), toMillis(state.ExpiresAt))
	if err != nil {
		return errors.Wrap(err, "[stateRepo.Create]")
	}
	return nil
}

// Consume fetches and deletes in one transaction so a replayed callback
// always loses.
func (r *stateRepo) Consume(state string) (*auth.OAuthState, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "[stateRepo.Consume] begin")
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		row       auth.OAuthState
		createdAt int64
		expiresAt int64
	)
	err = tx.QueryRow(`
		SELECT state, provider, pkce_verifier, redirect_uri, org_slug, service_slug, is_admin_flow, link_user_id, device_user_code, created_at, expires_at
		FROM oauth_states WHERE state = ?`, state).Scan(
		&row.State, &row.Provider, &row.PKCEVerifier, &row.RedirectURI,
		&row.OrgSlug, &row.ServiceSlug, &row.IsAdminFlow, &row.LinkUserID, &row.DeviceCode,
		&createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, brokererrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[stateRepo.Consume] scan")
	}

	if _, err := tx.Exec(`DELETE FROM oauth_states WHERE state = ?`, state); err != nil {
		return nil, errors.Wrap(err, "[stateRepo.Consume] delete")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "[stateRepo.Consume] commit")
	}

	row.CreatedAt = fromMillis(createdAt)
	row.ExpiresAt = fromMillis(expiresAt)
	return &row, nil
}

func (r *stateRepo) DeleteExpired(before time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM oauth_states WHERE expires_at < ?`, toMillis(before))
	if err != nil {
		return 0, errors.Wrap(err, "[stateRepo.DeleteExpired]")
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}
