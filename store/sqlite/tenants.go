package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/tenants"
)

var (
	_ tenants.OrganizationRepo    = (*organizationRepo)(nil)
	_ tenants.ServiceRepo         = (*serviceRepo)(nil)
	_ tenants.OAuthCredentialRepo = (*oauthCredentialRepo)(nil)
	_ tenants.TokenGrantRepo      = (*tokenGrantRepo)(nil)
)

type organizationRepo struct {
	db *sql.DB
}

func (r *organizationRepo) Upsert(org *tenants.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}

	features, err := json.Marshal(org.Features)
	if err != nil {
		return errors.Wrap(err, "[organizationRepo.Upsert] marshal features")
	}

	_, err = r.db.Exec(`
		INSERT INTO organizations (id, slug, name, status, plan, features, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			plan = excluded.plan,
			features = excluded.features,
			owner_id = excluded.owner_id`,
		org.ID, org.Slug, org.Name, string(org.Status), org.Plan, string(features), org.OwnerID, toMillis(org.CreatedAt))
	if err != nil {
		return errors.Wrap(err, "[organizationRepo.Upsert]")
	}
	return nil
}

func (r *organizationRepo) GetBySlug(slug string) (*tenants.Organization, error) {
	row := r.db.QueryRow(`SELECT id, slug, name, status, plan, features, owner_id, created_at
		FROM organizations WHERE slug = ?`, slug)
	return scanOrganization(row)
}

func (r *organizationRepo) GetByID(id string) (*tenants.Organization, error) {
	row := r.db.QueryRow(`SELECT id, slug, name, status, plan, features, owner_id, created_at
		FROM organizations WHERE id = ?`, id)
	return scanOrganization(row)
}

func scanOrganization(row rowScanner) (*tenants.Organization, error) {
	var (
		org       tenants.Organization
		status    string
		features  string
		createdAt int64
	)
	err := row.Scan(&org.ID, &org.Slug, &org.Name, &status, &org.Plan, &features, &org.OwnerID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, brokererrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[organizationRepo] scan")
	}

	org.Status = tenants.OrgStatus(status)
	org.CreatedAt = fromMillis(createdAt)
	if err := json.Unmarshal([]byte(features), &org.Features); err != nil {
		return nil, errors.Wrap(err, "[organizationRepo] unmarshal features")
	}
	return &org, nil
}

type serviceRepo struct {
	db *sql.DB
}

func (r *serviceRepo) Upsert(service *tenants.Service) error {
	if service.ID == "" {
		service.ID = uuid.New().String()
	}
	if service.CreatedAt.IsZero() {
		service.CreatedAt = time.Now().UTC()
	}

	redirects, err := json.Marshal(service.RedirectURIs)
	if err != nil {
		return errors.Wrap(err, "[serviceRepo.Upsert] marshal redirect uris")
	}
	scopes, err := json.Marshal(service.ProviderScopes)
	if err != nil {
		return errors.Wrap(err, "[serviceRepo.Upsert] marshal provider scopes")
	}

	_, err = r.db.Exec(`
		INSERT INTO services (id, org_id, slug, name, redirect_uris, provider_scopes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, slug) DO UPDATE SET
			name = excluded.name,
			redirect_uris = excluded.redirect_uris,
			provider_scopes = excluded.provider_scopes`,
		service.ID, service.OrgID, service.Slug, service.Name, string(redirects), string(scopes), toMillis(service.CreatedAt))
	if err != nil {
		return errors.Wrap(err, "[serviceRepo.Upsert]")
	}
	return nil
}

func (r *serviceRepo) GetBySlug(orgID, slug string) (*tenants.Service, error) {
	row := r.db.QueryRow(`SELECT id, org_id, slug, name, redirect_uris, provider_scopes, created_at
		FROM services WHERE org_id = ? AND slug = ?`, orgID, slug)
	return scanService(row)
}

func (r *serviceRepo) GetByID(id string) (*tenants.Service, error) {
	row := r.db.QueryRow(`SELECT id, org_id, slug, name, redirect_uris, provider_scopes, created_at
		FROM services WHERE id = ?`, id)
	return scanService(row)
}

func scanService(row rowScanner) (*tenants.Service, error) {
	var (
		service   tenants.Service
		redirects string
		scopes    string
		createdAt int64
	)
	err := row.Scan(&service.ID, &service.OrgID, &service.Slug, &service.Name, &redirects, &scopes, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, brokererrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[serviceRepo] scan")
	}

	service.CreatedAt = fromMillis(createdAt)
	if err := json.Unmarshal([]byte(redirects), &service.RedirectURIs); err != nil {
		return nil, errors.Wrap(err, "[serviceRepo] unmarshal redirect uris")
	}
	if err := json.Unmarshal([]byte(scopes), &service.ProviderScopes); err != nil {
		return nil, errors.Wrap(err, "[serviceRepo] unmarshal provider scopes")
	}
	return &service, nil
}

type oauthCredentialRepo struct {
	db *sql.DB
}

func (r *oauthCredentialRepo) Upsert(cred *tenants.OAuthCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(`
		INSERT INTO organization_oauth_credentials (id, org_id, provider, client_id, client_secret_enc, enc_key_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, provider) DO UPDATE SET
			client_id = excluded.client_id,
			client_secret_enc = excluded.client_secret_enc,
			enc_key_id = excluded.enc_key_id`,
		cred.ID, cred.OrgID, cred.Provider, cred.ClientID, cred.ClientSecretEnc, cred.EncKeyID, toMillis(cred.CreatedAt))
	if err != nil {
		return errors.Wrap(err, "[oauthCredentialRepo.Upsert]")
	}
	return nil
}

func (r *oauthCredentialRepo) Get(orgID, provider string) (*tenants.OAuthCredential, error) {
	var (
		cred      tenants.OAuthCredential
		createdAt int64
	)
	err := r.db.QueryRow(`SELECT id, org_id, provider, client_id, client_secret_enc, enc_key_id, created_at
		FROM organization_oauth_credentials WHERE org_id = ? AND provider = ?`, orgID, provider).Scan(
		&cred.ID, &cred.OrgID, &cred.Provider, &cred.ClientID, &cred.ClientSecretEnc, &cred.EncKeyID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, brokererrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[oauthCredentialRepo.Get]")
	}

	cred.CreatedAt = fromMillis(createdAt)
	return &cred, nil
}

func (r *oauthCredentialRepo) Delete(orgID, provider string) error {
	result, err := r.db.Exec(`DELETE FROM organization_oauth_credentials WHERE org_id = ? AND provider = ?`, orgID, provider)
	if err != nil {
		return errors.Wrap(err, "[oauthCredentialRepo.Delete]")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return brokererrors.ErrNotFound
	}
	return nil
}

type tokenGrantRepo struct {
	db *sql.DB
}

func (r *tokenGrantRepo) Upsert(grant *tenants.TokenGrant) error {
	if grant.ID == "" {
		grant.ID = uuid.New().String()
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(`
		INSERT INTO provider_token_grants (id, service_id, provider, required, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(service_id, provider) DO UPDATE SET
			required = excluded.required`,
		grant.ID, grant.ServiceID, grant.Provider, grant.Required, toMillis(grant.CreatedAt))
	if err != nil {
		return errors.Wrap(err, "[tokenGrantRepo.Upsert]")
	}
	return nil
}

func (r *tokenGrantRepo) Get(serviceID, provider string) (*tenants.TokenGrant, error) {
	var (
		grant     tenants.TokenGrant
		createdAt int64
	)
	err := r.db.QueryRow(`SELECT id, service_id, provider, required, created_at
		FROM provider_token_grants WHERE service_id = ? AND provider = ?`,
		serviceID, provider).Scan(
		&grant.ID, &grant.ServiceID, &grant.Provider, &grant.Required, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, brokererrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[tokenGrantRepo.Get]")
	}

	grant.CreatedAt = fromMillis(createdAt)
	return &grant, nil
}
