package sqlite

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jrsteele09/go-identity-broker/identities"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
)

var _ identities.IdentityRepo = (*identityRepo)(nil)

type identityRepo struct {
	db *sql.DB
}

const identityColumns = `id, user_id, provider, provider_user_id, email,
	access_token, access_token_enc, refresh_token, refresh_token_enc, enc_key_id,
	token_expires_at, scopes, issuing_org_id, issuing_service_id, created_at, updated_at`

func (r *identityRepo) Upsert(identity *identities.Identity) error {
	if identity.ID == "" {
		identity.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO identities (`+identityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider, issuing_org_id, issuing_service_id) DO UPDATE SET
			provider_user_id = excluded.provider_user_id,
			email = excluded.email,
			access_token = excluded.access_token,
			access_token_enc = excluded.access_token_enc,
			refresh_token = excluded.refresh_token,
			refresh_token_enc = excluded.refresh_token_enc,
			enc_key_id = excluded.enc_key_id,
			token_expires_at = excluded.token_expires_at,
			scopes = excluded.scopes,
			updated_at = excluded.updated_at`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.Email,
		identity.AccessToken, identity.AccessTokenEnc, identity.RefreshToken, identity.RefreshTokenEnc, identity.EncKeyID,
		toNullMillis(identity.TokenExpiresAt), identity.Scopes, identity.IssuingOrgID, identity.IssuingServiceID,
		toMillis(identity.CreatedAt), toMillis(identity.UpdatedAt))
	if err != nil {
		return errors.Wrap(err, "[identityRepo.Upsert]")
	}
	return nil
}

func (r *identityRepo) GetByUserProvider(userID, provider string, scope identities.TenantScope) (*identities.Identity, error) {
	row := r.db.QueryRow(`SELECT `+identityColumns+` FROM identities
		WHERE user_id = ? AND provider = ? AND issuing_org_id = ? AND issuing_service_id = ?`,
		userID, provider, scope.OrgID, scope.ServiceID)
	return scanIdentity(row)
}

func (r *identityRepo) GetByProviderSubject(provider, providerUserID string, scope identities.TenantScope) (*identities.Identity, error) {
	row := r.db.QueryRow(`SELECT `+identityColumns+` FROM identities
		WHERE provider = ? AND provider_user_id = ? AND issuing_org_id = ? AND issuing_service_id = ?`,
		provider, providerUserID, scope.OrgID, scope.ServiceID)
	return scanIdentity(row)
}

func (r *identityRepo) ListByUser(userID string) ([]*identities.Identity, error) {
	rows, err := r.db.Query(`SELECT `+identityColumns+` FROM identities WHERE user_id = ? ORDER BY provider`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[identityRepo.ListByUser]")
	}
	defer rows.Close() //nolint:errcheck

	return scanIdentities(rows)
}

func (r *identityRepo) CountByUser(userID string) (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM identities WHERE user_id = ?`, userID).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "[identityRepo.CountByUser]")
	}
	return count, nil
}

func (r *identityRepo) CountByUserInScope(userID string, scope identities.TenantScope) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM identities
		WHERE user_id = ? AND issuing_org_id = ? AND issuing_service_id = ?`,
		userID, scope.OrgID, scope.ServiceID).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "[identityRepo.CountByUserInScope]")
	}
	return count, nil
}

func (r *identityRepo) Delete(userID, provider string, scope identities.TenantScope) error {
	result, err := r.db.Exec(`DELETE FROM identities
		WHERE user_id = ? AND provider = ? AND issuing_org_id = ? AND issuing_service_id = ?`,
		userID, provider, scope.OrgID, scope.ServiceID)
	if err != nil {
		return errors.Wrap(err, "[identityRepo.Delete]")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return brokererrors.ErrNotFound
	}
	return nil
}

func (r *identityRepo) ListExpiringBefore(cutoff time.Time) ([]*identities.Identity, error) {
	rows, err := r.db.Query(`SELECT `+identityColumns+` FROM identities
		WHERE token_expires_at IS NOT NULL AND token_expires_at < ?
		AND (refresh_token != '' OR refresh_token_enc IS NOT NULL)
		ORDER BY token_expires_at`, toMillis(cutoff))
	if err != nil {
		return nil, errors.Wrap(err, "[identityRepo.ListExpiringBefore]")
	}
	defer rows.Close() //nolint:errcheck

	return scanIdentities(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*identities.Identity, error) {
	var (
		identity   identities.Identity
		expiresAt  sql.NullInt64
		createdAt  int64
		updatedAt  int64
		accessEnc  []byte
		refreshEnc []byte
	)
	err := row.Scan(
		&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderUserID, &identity.Email,
		&identity.AccessToken, &accessEnc, &identity.RefreshToken, &refreshEnc, &identity.EncKeyID,
		&expiresAt, &identity.Scopes, &identity.IssuingOrgID, &identity.IssuingServiceID,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, brokererrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[identityRepo] scan")
	}

	identity.AccessTokenEnc = accessEnc
	identity.RefreshTokenEnc = refreshEnc
	identity.TokenExpiresAt = fromNullMillis(expiresAt)
	identity.CreatedAt = fromMillis(createdAt)
	identity.UpdatedAt = fromMillis(updatedAt)
	return &identity, nil
}

func scanIdentities(rows *sql.Rows) ([]*identities.Identity, error) {
	list := make([]*identities.Identity, 0)
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "[identityRepo] rows")
	}
	return list, nil
}
