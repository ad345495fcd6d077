package sqlite_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-identity-broker/auth"
	"github.com/jrsteele09/go-identity-broker/deviceauth"
	"github.com/jrsteele09/go-identity-broker/identities"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/sessions"
	"github.com/jrsteele09/go-identity-broker/store/sqlite"
	"github.com/jrsteele09/go-identity-broker/tenants"
	"github.com/jrsteele09/go-identity-broker/users"
)

func setupStoreFixture(t *testing.T) *sqlite.Store {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "broker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.db")

	store, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Users().Upsert(&users.User{Email: "keep@example.com"}))
	require.NoError(t, store.Close())

	store, err = sqlite.Open(path)
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck

	user, err := store.Users().GetByEmail("keep@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
}

func TestUserUpsertAndLookup(t *testing.T) {
	store := setupStoreFixture(t)
	repo := store.Users()

	user := &users.User{Email: "dev@example.com", Name: "Dev"}
	require.NoError(t, repo.Upsert(user))
	require.NotEmpty(t, user.ID)

	user.Name = "Dev Renamed"
	require.NoError(t, repo.Upsert(user))

	loaded, err := repo.GetByID(user.ID)
	require.NoError(t, err)
	require.Equal(t, "Dev Renamed", loaded.Name)
	require.False(t, loaded.IsPlatformOwner)

	require.NoError(t, repo.SetPlatformOwner("dev@example.com", true))
	require.NoError(t, repo.TouchLastLogin(user.ID))

	loaded, err = repo.GetByEmail("dev@example.com")
	require.NoError(t, err)
	require.True(t, loaded.IsPlatformOwner)
	require.False(t, loaded.LastLoginAt.IsZero())

	_, err = repo.GetByEmail("missing@example.com")
	require.ErrorIs(t, err, brokererrors.ErrNotFound)
}

func TestIdentityUpsertScopedBySameTenant(t *testing.T) {
	store := setupStoreFixture(t)

	user := &users.User{Email: "dev@example.com"}
	require.NoError(t, store.Users().Upsert(user))

	repo := store.Identities()
	expiry := time.Now().UTC().Add(time.Hour)

	platform := &identities.Identity{
		UserID:          user.ID,
		Provider:        "github",
		ProviderUserID:  "gh-1",
		AccessTokenEnc:  []byte("sealed-platform"),
		RefreshTokenEnc: []byte("sealed-refresh"),
		EncKeyID:        "k1",
		TokenExpiresAt:  &expiry,
	}
	require.NoError(t, repo.Upsert(platform))

	tenant := &identities.Identity{
		UserID:           user.ID,
		Provider:         "github",
		ProviderUserID:   "gh-1",
		AccessTokenEnc:   []byte("sealed-tenant"),
		IssuingOrgID:     "org-1",
		IssuingServiceID: "svc-1",
	}
	require.NoError(t, repo.Upsert(tenant))

	count, err := repo.CountByUser(user.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// Same user/provider/scope must update in place, not add a row
	platform.AccessTokenEnc = []byte("resealed")
	require.NoError(t, repo.Upsert(platform))

	count, err = repo.CountByUser(user.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// Scoped count only sees the rows issued under that scope
	scoped, err := repo.CountByUserInScope(user.ID, identities.TenantScope{OrgID: "org-1", ServiceID: "svc-1"})
	require.NoError(t, err)
	require.Equal(t, 1, scoped)

	scoped, err = repo.CountByUserInScope(user.ID, identities.TenantScope{})
	require.NoError(t, err)
	require.Equal(t, 1, scoped)

	loaded, err := repo.GetByUserProvider(user.ID, "github", identities.TenantScope{})
	require.NoError(t, err)
	require.Equal(t, []byte("resealed"), loaded.AccessTokenEnc)
	require.NotNil(t, loaded.TokenExpiresAt)
	require.Equal(t, expiry.UnixMilli(), loaded.TokenExpiresAt.UnixMilli())

	bySubject, err := repo.GetByProviderSubject("github", "gh-1", identities.TenantScope{OrgID: "org-1", ServiceID: "svc-1"})
	require.NoError(t, err)
	require.Equal(t, []byte("sealed-tenant"), bySubject.AccessTokenEnc)
}

func TestIdentityListExpiringSkipsRowsWithoutRefreshToken(t *testing.T) {
	store := setupStoreFixture(t)

	user := &users.User{Email: "dev@example.com"}
	require.NoError(t, store.Users().Upsert(user))

	repo := store.Identities()
	soon := time.Now().UTC().Add(time.Minute)

	require.NoError(t, repo.Upsert(&identities.Identity{
		UserID: user.ID, Provider: "google", ProviderUserID: "g-1",
		RefreshTokenEnc: []byte("sealed"), TokenExpiresAt: &soon,
	}))
	require.NoError(t, repo.Upsert(&identities.Identity{
		UserID: user.ID, Provider: "github", ProviderUserID: "gh-1",
		TokenExpiresAt: &soon,
	}))

	expiring, err := repo.ListExpiringBefore(time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	require.Equal(t, "google", expiring[0].Provider)
}

func TestDeviceCodeBatchInsertAndAuthorize(t *testing.T) {
	store := setupStoreFixture(t)
	repo := store.DeviceCodes()

	expiry := time.Now().UTC().Add(deviceauth.DeviceCodeTTL)
	batch := []*deviceauth.DeviceCode{
		{ID: "dc-1", DeviceCode: "device-1", UserCode: "AAAA-1111", ClientID: "cli", Status: deviceauth.StatusPending, ExpiresAt: expiry},
		{ID: "dc-2", DeviceCode: "device-2", UserCode: "BBBB-2222", ClientID: "cli", OrgSlug: "acme", ServiceSlug: "ci", Status: deviceauth.StatusPending, ExpiresAt: expiry},
	}
	require.NoError(t, repo.InsertBatch(batch))

	code, err := repo.GetByDeviceCode("device-2")
	require.NoError(t, err)
	require.Equal(t, "acme", code.OrgSlug)
	require.Equal(t, deviceauth.StatusPending, code.Status)

	authorized, err := repo.Authorize("BBBB-2222", "user-1")
	require.NoError(t, err)
	require.Equal(t, deviceauth.StatusAuthorized, authorized.Status)
	require.Equal(t, "user-1", authorized.UserID)

	_, err = repo.Authorize("ZZZZ-9999", "user-1")
	require.ErrorIs(t, err, brokererrors.ErrNotFound)

	deleted, err := repo.DeleteExpired(expiry.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	_, err = repo.GetByUserCode("AAAA-1111")
	require.ErrorIs(t, err, brokererrors.ErrNotFound)
}

func TestSessionLifecycle(t *testing.T) {
	store := setupStoreFixture(t)

	user := &users.User{Email: "dev@example.com"}
	require.NoError(t, store.Users().Upsert(user))

	repo := store.Sessions()
	session := &sessions.Session{
		UserID:    user.ID,
		TokenHash: "hash-1",
		OrgID:     "org-1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, repo.Create(session))
	require.NotEmpty(t, session.ID)

	loaded, err := repo.GetByTokenHash("hash-1")
	require.NoError(t, err)
	require.Equal(t, user.ID, loaded.UserID)
	require.Equal(t, "org-1", loaded.OrgID)

	require.NoError(t, repo.DeleteByTokenHash("hash-1"))
	_, err = repo.GetByTokenHash("hash-1")
	require.ErrorIs(t, err, brokererrors.ErrNotFound)
}

func TestSessionDeleteExpired(t *testing.T) {
	store := setupStoreFixture(t)

	user := &users.User{Email: "dev@example.com"}
	require.NoError(t, store.Users().Upsert(user))

	repo := store.Sessions()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(&sessions.Session{UserID: user.ID, TokenHash: "stale", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, repo.Create(&sessions.Session{UserID: user.ID, TokenHash: "live", ExpiresAt: now.Add(time.Hour)}))

	require.NoError(t, repo.DeleteExpired(now))

	_, err := repo.GetByTokenHash("stale")
	require.ErrorIs(t, err, brokererrors.ErrNotFound)
	_, err = repo.GetByTokenHash("live")
	require.NoError(t, err)
}

func TestOAuthStateConsumedExactlyOnce(t *testing.T) {
	store := setupStoreFixture(t)
	repo := store.OAuthStates()

	now := time.Now().UTC()
	require.NoError(t, repo.Create(&auth.OAuthState{
		State:        "state-1",
		Provider:     "microsoft",
		PKCEVerifier: "verifier",
		OrgSlug:      "acme",
		CreatedAt:    now,
		ExpiresAt:    now.Add(auth.StateTTL),
	}))

	state, err := repo.Consume("state-1")
	require.NoError(t, err)
	require.Equal(t, "microsoft", state.Provider)
	require.Equal(t, "verifier", state.PKCEVerifier)
	require.Equal(t, "acme", state.OrgSlug)

	_, err = repo.Consume("state-1")
	require.ErrorIs(t, err, brokererrors.ErrNotFound)
}

func TestOAuthStateDeleteExpired(t *testing.T) {
	store := setupStoreFixture(t)
	repo := store.OAuthStates()

	now := time.Now().UTC()
	require.NoError(t, repo.Create(&auth.OAuthState{State: "old", Provider: "github", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, repo.Create(&auth.OAuthState{State: "new", Provider: "github", CreatedAt: now, ExpiresAt: now.Add(auth.StateTTL)}))

	deleted, err := repo.DeleteExpired(now)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	_, err = repo.Consume("new")
	require.NoError(t, err)
}

func TestRefreshLockSingleWinner(t *testing.T) {
	store := setupStoreFixture(t)
	repo := store.RefreshLocks()

	acquired, err := repo.Acquire("user-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = repo.Acquire("user-1", 30*time.Second)
	require.NoError(t, err)
	require.False(t, acquired)

	// A different key is unaffected
	acquired, err = repo.Acquire("user-2", 30*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, repo.Release("user-1"))
	acquired, err = repo.Acquire("user-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestRefreshLockExpiredLeaseIsReclaimed(t *testing.T) {
	store := setupStoreFixture(t)
	repo := store.RefreshLocks()

	acquired, err := repo.Acquire("user-1", time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(5 * time.Millisecond)

	acquired, err = repo.Acquire("user-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestOrganizationAndServiceRoundTrip(t *testing.T) {
	store := setupStoreFixture(t)

	org := &tenants.Organization{
		Slug:     "acme",
		Name:     "Acme Corp",
		Status:   tenants.OrgActive,
		Plan:     "pro",
		Features: []string{"sso", "audit"},
	}
	require.NoError(t, store.Organizations().Upsert(org))
	require.NotEmpty(t, org.ID)

	loaded, err := store.Organizations().GetBySlug("acme")
	require.NoError(t, err)
	require.True(t, loaded.Active())
	require.Equal(t, []string{"sso", "audit"}, loaded.Features)

	service := &tenants.Service{
		OrgID:        org.ID,
		Slug:         "ci",
		Name:         "CI Runner",
		RedirectURIs: []string{"https://ci.acme.example/callback"},
		ProviderScopes: map[string][]string{
			"github": {"repo"},
		},
	}
	require.NoError(t, store.Services().Upsert(service))

	loadedService, err := store.Services().GetBySlug(org.ID, "ci")
	require.NoError(t, err)
	require.Equal(t, []string{"repo"}, loadedService.ScopesFor("github"))
	require.Nil(t, loadedService.ScopesFor("google"))

	byID, err := store.Services().GetByID(service.ID)
	require.NoError(t, err)
	require.Equal(t, "CI Runner", byID.Name)
}

func TestOAuthCredentialRoundTrip(t *testing.T) {
	store := setupStoreFixture(t)

	org := &tenants.Organization{Slug: "acme", Status: tenants.OrgActive}
	require.NoError(t, store.Organizations().Upsert(org))

	repo := store.OAuthCredentials()
	cred := &tenants.OAuthCredential{
		OrgID:           org.ID,
		Provider:        "github",
		ClientID:        "byoo-client",
		ClientSecretEnc: []byte("sealed-secret"),
		EncKeyID:        "k1",
	}
	require.NoError(t, repo.Upsert(cred))

	loaded, err := repo.Get(org.ID, "github")
	require.NoError(t, err)
	require.Equal(t, "byoo-client", loaded.ClientID)
	require.Equal(t, []byte("sealed-secret"), loaded.ClientSecretEnc)

	cred.ClientID = "rotated"
	require.NoError(t, repo.Upsert(cred))

	loaded, err = repo.Get(org.ID, "github")
	require.NoError(t, err)
	require.Equal(t, "rotated", loaded.ClientID)

	require.NoError(t, repo.Delete(org.ID, "github"))
	_, err = repo.Get(org.ID, "github")
	require.ErrorIs(t, err, brokererrors.ErrNotFound)
}

func TestTokenGrantRoundTrip(t *testing.T) {
	store := setupStoreFixture(t)
	repo := store.TokenGrants()

	grant := &tenants.TokenGrant{
		ServiceID: "svc-1",
		Provider:  "github",
		Required:  true,
	}
	require.NoError(t, repo.Upsert(grant))

	loaded, err := repo.Get("svc-1", "github")
	require.NoError(t, err)
	require.True(t, loaded.Required)

	grant.Required = false
	require.NoError(t, repo.Upsert(grant))

	loaded, err = repo.Get("svc-1", "github")
	require.NoError(t, err)
	require.False(t, loaded.Required)

	// A provider the service was never granted stays invisible
	_, err = repo.Get("svc-1", "google")
	require.ErrorIs(t, err, brokererrors.ErrNotFound)
}
