package tokenvault_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-identity-broker/credentials"
	"github.com/jrsteele09/go-identity-broker/identities"
	fakeidentityrepo "github.com/jrsteele09/go-identity-broker/identities/repofake"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/providers"
	"github.com/jrsteele09/go-identity-broker/tokenvault"
	fakelockrepo "github.com/jrsteele09/go-identity-broker/tokenvault/repofake"
	"github.com/jrsteele09/go-identity-broker/users"
	fakeuserrepo "github.com/jrsteele09/go-identity-broker/users/repofake"
	"github.com/jrsteele09/go-identity-broker/vault"
)

type stubResolver struct{}

func (stubResolver) Resolve(provider providers.Provider, scope identities.TenantScope, actingUser *users.User) (providers.Credentials, credentials.Source, error) {
	return providers.Credentials{ClientID: "cid", ClientSecret: "secret"}, credentials.SourceDefault, nil
}

type stubRefresher struct {
	calls   atomic.Int64
	details *providers.TokenDetails
	err     error
	block   chan struct{} // when set, Refresh waits until closed
}

func (r *stubRefresher) Refresh(ctx context.Context, provider providers.Provider, creds providers.Credentials, refreshToken string) (*providers.TokenDetails, error) {
	r.calls.Add(1)
	if r.block != nil {
		<-r.block
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.details, nil
}

type vaultFixture struct {
	identityRepo *fakeidentityrepo.FakeIdentityRepo
	userRepo     *fakeuserrepo.FakeUserRepo
	lockRepo     *fakelockrepo.FakeLockRepo
	refresher    *stubRefresher
	crypto       *vault.Vault
	now          time.Time
	user         *users.User
}

func setupVaultFixture(t *testing.T) *vaultFixture {
	t.Helper()

	crypto, err := vault.New("6368616e676520746869732070617373776f726420746f206120736563726574", "default")
	require.NoError(t, err)

	f := &vaultFixture{
		identityRepo: fakeidentityrepo.NewFakeIdentityRepo(),
		userRepo:     fakeuserrepo.NewFakeUserRepo(),
		lockRepo:     fakelockrepo.NewFakeLockRepo(),
		refresher:    &stubRefresher{},
		crypto:       crypto,
		now:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		user:         &users.User{Email: "user@example.com"},
	}
	require.NoError(t, f.userRepo.Upsert(f.user))
	return f
}

func (f *vaultFixture) newVault(t *testing.T, options ...tokenvault.VaultOption) *tokenvault.Vault {
	t.Helper()
	opts := append([]tokenvault.VaultOption{
		tokenvault.WithNowFunc(func() time.Time { return f.now }),
		tokenvault.WithSleepFunc(func(time.Duration) {}),
	}, options...)
	return tokenvault.New(f.identityRepo, f.userRepo, f.lockRepo, stubResolver{}, f.refresher, f.crypto, opts...)
}

func (f *vaultFixture) storeIdentity(t *testing.T, provider string, access, refresh string, expiresAt *time.Time) *identities.Identity {
	t.Helper()

	accessEnc, err := f.crypto.Encrypt(access)
	require.NoError(t, err)
	var refreshEnc []byte
	if refresh != "" {
		refreshEnc, err = f.crypto.Encrypt(refresh)
		require.NoError(t, err)
	}

	identity := &identities.Identity{
		UserID:          f.user.ID,
		Provider:        provider,
		ProviderUserID:  "sub-1",
		Email:           f.user.Email,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		EncKeyID:        f.crypto.KeyID(),
		TokenExpiresAt:  expiresAt,
	}
	require.NoError(t, f.identityRepo.Upsert(identity))
	return identity
}

func TestGetTokenReturnsStoredTokenWhenFresh(t *testing.T) {
	f := setupVaultFixture(t)
	expiresAt := f.now.Add(2 * time.Hour)
	f.storeIdentity(t, "google", "stored-access", "stored-refresh", &expiresAt)

	v := f.newVault(t)
	token, err := v.GetToken(context.Background(), f.user.ID, providers.Google, identities.TenantScope{})
	require.NoError(t, err)
	require.Equal(t, "stored-access", token.AccessToken)
	require.EqualValues(t, 0, f.refresher.calls.Load())
}

func TestGetTokenRefreshesNearExpiry(t *testing.T) {
	f := setupVaultFixture(t)
	expiresAt := f.now.Add(time.Minute) // inside the 5 minute margin
	f.storeIdentity(t, "google", "stale-access", "stored-refresh", &expiresAt)

	newExpiry := f.now.Add(time.Hour)
	f.refresher.details = &providers.TokenDetails{AccessToken: "fresh-access", ExpiresAt: &newExpiry}

	v := f.newVault(t)
	token, err := v.GetToken(context.Background(), f.user.ID, providers.Google, identities.TenantScope{})
	require.NoError(t, err)
	require.Equal(t, "fresh-access", token.AccessToken)
	require.EqualValues(t, 1, f.refresher.calls.Load())

	// No new refresh token from the provider keeps the stored one
	require.Equal(t, "stored-refresh", token.RefreshToken)

	// The persisted row is re-sealed, never written back in plaintext
	row, err := f.identityRepo.GetByUserProvider(f.user.ID, "google", identities.TenantScope{})
	require.NoError(t, err)
	require.Empty(t, row.AccessToken)
	require.NotEmpty(t, row.AccessTokenEnc)
}

func TestGetTokenMissingIdentity(t *testing.T) {
	f := setupVaultFixture(t)

	v := f.newVault(t)
	_, err := v.GetToken(context.Background(), f.user.ID, providers.Github, identities.TenantScope{})
	require.ErrorIs(t, err, brokererrors.ErrNotFound)
}

func TestRefreshWithoutRefreshTokenFails(t *testing.T) {
	f := setupVaultFixture(t)
	expiresAt := f.now.Add(time.Minute)
	f.storeIdentity(t, "google", "stale-access", "", &expiresAt)

	v := f.newVault(t)
	_, err := v.GetToken(context.Background(), f.user.ID, providers.Google, identities.TenantScope{})
	require.ErrorIs(t, err, brokererrors.ErrRefreshUnsupported)
}

func TestConcurrentGetTokenRefreshesOnce(t *testing.T) {
	f := setupVaultFixture(t)
	expiresAt := f.now.Add(time.Minute)
	f.storeIdentity(t, "google", "stale-access", "stored-refresh", &expiresAt)

	newExpiry := f.now.Add(time.Hour)
	f.refresher.details = &providers.TokenDetails{AccessToken: "fresh-access", ExpiresAt: &newExpiry}
	f.refresher.block = make(chan struct{})

	winnerStarted := make(chan struct{}, 8)
	winnerDone := make(chan struct{})

	// Losers of the lock race wait for the winner to finish persisting
	// before re-reading, standing in for the fixed contention sleep.
	sleepFunc := func(time.Duration) {
		winnerStarted <- struct{}{}
		<-winnerDone
	}

	v := f.newVault(t, tokenvault.WithSleepFunc(sleepFunc))

	const workers = 4
	results := make([]*tokenvault.ProviderToken, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = v.GetToken(context.Background(), f.user.ID, providers.Google, identities.TenantScope{})
		}(i)
	}

	// Let the winner complete only after every loser has hit contention, so
	// no goroutine can acquire the lock after the refreshed row lands.
	for i := 0; i < workers-1; i++ {
		<-winnerStarted
	}
	close(f.refresher.block)

	go func() {
		// Release the losers once the refreshed row is persisted.
		for {
			row, err := f.identityRepo.GetByUserProvider(f.user.ID, "google", identities.TenantScope{})
			if err == nil && row.TokenExpiresAt != nil && row.TokenExpiresAt.Equal(newExpiry) {
				close(winnerDone)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	wg.Wait()

	require.EqualValues(t, 1, f.refresher.calls.Load())
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "fresh-access", results[i].AccessToken)
	}
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	f := setupVaultFixture(t)
	expiresAt := f.now.Add(time.Minute)
	f.storeIdentity(t, "google", "stale-access", "stored-refresh", &expiresAt)

	// A crashed holder left a lease behind 31 seconds ago.
	f.lockRepo.NowFunc = func() time.Time { return f.now.Add(-31 * time.Second) }
	acquired, err := f.lockRepo.Acquire(f.user.ID, tokenvault.DefaultLockTTL)
	require.NoError(t, err)
	require.True(t, acquired)
	f.lockRepo.NowFunc = func() time.Time { return f.now }

	newExpiry := f.now.Add(time.Hour)
	f.refresher.details = &providers.TokenDetails{AccessToken: "fresh-access", ExpiresAt: &newExpiry}

	v := f.newVault(t)
	token, err := v.GetToken(context.Background(), f.user.ID, providers.Google, identities.TenantScope{})
	require.NoError(t, err)
	require.Equal(t, "fresh-access", token.AccessToken)
	require.EqualValues(t, 1, f.refresher.calls.Load())
}

func TestSweepOnceRefreshesExpiringRows(t *testing.T) {
	f := setupVaultFixture(t)

	soonExpiry := f.now.Add(30 * time.Minute)
	f.storeIdentity(t, "google", "soon-access", "soon-refresh", &soonExpiry)

	laterUser := &users.User{Email: "later@example.com"}
	require.NoError(t, f.userRepo.Upsert(laterUser))
	laterExpiry := f.now.Add(3 * time.Hour)
	accessEnc, err := f.crypto.Encrypt("later-access")
	require.NoError(t, err)
	refreshEnc, err := f.crypto.Encrypt("later-refresh")
	require.NoError(t, err)
	require.NoError(t, f.identityRepo.Upsert(&identities.Identity{
		UserID:          laterUser.ID,
		Provider:        "google",
		ProviderUserID:  "sub-2",
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		TokenExpiresAt:  &laterExpiry,
	}))

	newExpiry := f.now.Add(2 * time.Hour)
	f.refresher.details = &providers.TokenDetails{AccessToken: "swept-access", ExpiresAt: &newExpiry}

	v := f.newVault(t)
	refreshed, err := v.SweepOnce(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, refreshed)
	require.EqualValues(t, 1, f.refresher.calls.Load())
}
