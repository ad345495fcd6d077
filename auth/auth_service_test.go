package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-identity-broker/auth"
	fakestaterepo "github.com/jrsteele09/go-identity-broker/auth/repofakes"
	"github.com/jrsteele09/go-identity-broker/claims"
	"github.com/jrsteele09/go-identity-broker/credentials"
	"github.com/jrsteele09/go-identity-broker/deviceauth"
	"github.com/jrsteele09/go-identity-broker/identities"
	fakeidentityrepo "github.com/jrsteele09/go-identity-broker/identities/repofake"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/providers"
	fakesessionrepo "github.com/jrsteele09/go-identity-broker/sessions/repofakes"
	tenantrepofakes "github.com/jrsteele09/go-identity-broker/tenants/repofakes"
	"github.com/jrsteele09/go-identity-broker/tokenvault"
	fakelockrepo "github.com/jrsteele09/go-identity-broker/tokenvault/repofake"
	"github.com/jrsteele09/go-identity-broker/users"
	fakeuserrepo "github.com/jrsteele09/go-identity-broker/users/repofake"
	"github.com/jrsteele09/go-identity-broker/vault"
)

type stubAdapter struct {
	details *providers.TokenDetails
	info    *providers.UserInfo
}

func (a *stubAdapter) AuthorizationURL(provider providers.Provider, creds providers.Credentials, scopes []string, state string) (string, string) {
	return "https://idp.example.com/authorize?state=" + state, ""
}

func (a *stubAdapter) ExchangeCode(ctx context.Context, provider providers.Provider, creds providers.Credentials, code, pkceVerifier string) (*providers.TokenDetails, error) {
	return a.details, nil
}

func (a *stubAdapter) FetchUserInfo(ctx context.Context, provider providers.Provider, accessToken string) (*providers.UserInfo, error) {
	return a.info, nil
}

type stubDevice struct {
	verifiedUserCode string
	verifiedUserID   string
}

func (d *stubDevice) Verify(ctx context.Context, userCode, userID string) (*deviceauth.DeviceCode, error) {
	d.verifiedUserCode = userCode
	d.verifiedUserID = userID
	return &deviceauth.DeviceCode{UserCode: userCode, UserID: userID, Status: deviceauth.StatusAuthorized}, nil
}

type authFixture struct {
	stateRepo    *fakestaterepo.FakeStateRepo
	userRepo     *fakeuserrepo.FakeUserRepo
	identityRepo *fakeidentityrepo.FakeIdentityRepo
	sessionRepo  *fakesessionrepo.FakeSessionRepo
	orgRepo      *tenantrepofakes.FakeOrganizationRepo
	adapter      *stubAdapter
	device       *stubDevice
	codec        *claims.Codec
	service      *auth.Service
	now          time.Time
}

func setupAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	f := &authFixture{
		stateRepo:    fakestaterepo.NewFakeStateRepo(),
		userRepo:     fakeuserrepo.NewFakeUserRepo(),
		identityRepo: fakeidentityrepo.NewFakeIdentityRepo(),
		sessionRepo:  fakesessionrepo.NewFakeSessionRepo(),
		orgRepo:      tenantrepofakes.NewFakeOrganizationRepo(),
		device:       &stubDevice{},
		now:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	nowFunc := func() time.Time { return f.now }

	expiresAt := f.now.Add(time.Hour)
	f.adapter = &stubAdapter{
		details: &providers.TokenDetails{
			AccessToken:  "provider-access",
			RefreshToken: "provider-refresh",
			ExpiresAt:    &expiresAt,
			Scopes:       []string{"user:email"},
		},
		info: &providers.UserInfo{ProviderUserID: "gh-42", Email: "octo@example.com", Name: "Octo"},
	}

	crypto, err := vault.New("6368616e676520746869732070617373776f726420746f206120736563726574", "default")
	require.NoError(t, err)

	credRepo := tenantrepofakes.NewFakeOAuthCredentialRepo()
	resolver := credentials.NewResolver(credRepo, crypto, map[providers.Provider]providers.Credentials{
		providers.Github: {ClientID: "platform-github", ClientSecret: "secret", RedirectURI: "https://broker.example.com/auth/github/callback"},
	}, nil)

	tokens := tokenvault.New(f.identityRepo, f.userRepo, fakelockrepo.NewFakeLockRepo(), resolver, nil, crypto,
		tokenvault.WithNowFunc(nowFunc))

	codec, err := claims.NewCodec(claims.NewHMACSigner("test-signing-secret"), claims.WithNowFunc(nowFunc))
	require.NoError(t, err)
	f.codec = codec

	f.service = auth.NewService(auth.Repos{
		States:        f.stateRepo,
		Users:         f.userRepo,
		Identities:    f.identityRepo,
		Organizations: f.orgRepo,
		Services:      tenantrepofakes.NewFakeServiceRepo(),
		Sessions:      f.sessionRepo,
	}, f.adapter, resolver, tokens, codec, f.device, auth.WithNowFunc(nowFunc))

	return f
}

func (f *authFixture) beginAndCallback(t *testing.T, params auth.BeginParams) *auth.CallbackResult {
	t.Helper()

	authURL, err := f.service.Begin(context.Background(), params)
	require.NoError(t, err)
	state := stateFromURL(t, authURL)

	result, err := f.service.Callback(context.Background(), auth.CallbackParams{
		Provider: params.Provider,
		State:    state,
		Code:     "auth-code",
		Meta:     auth.ClientMetadata{UserAgent: "browser/1.0", IPAddress: "203.0.113.7"},
	})
	require.NoError(t, err)
	return result
}

func stateFromURL(t *testing.T, authURL string) string {
	t.Helper()
	const marker = "state="
	idx := len(authURL) - 36 // uuid length
	require.Contains(t, authURL, marker)
	return authURL[idx:]
}

func TestLoginCreatesUserIdentityAndSession(t *testing.T) {
	f := setupAuthFixture(t)

	result := f.beginAndCallback(t, auth.BeginParams{Provider: providers.Github})
	require.NotEmpty(t, result.Token)
	require.False(t, result.Linked)
	require.False(t, result.DeviceCompleted)

	verified, err := f.codec.Verify(result.Token)
	require.NoError(t, err)
	require.Equal(t, "octo@example.com", verified.Email)

	user, err := f.userRepo.GetByEmail("octo@example.com")
	require.NoError(t, err)
	require.Equal(t, user.ID, verified.Subject)

	// Tokens land encrypted, never in the plaintext columns
	identity, err := f.identityRepo.GetByUserProvider(user.ID, "github", identities.TenantScope{})
	require.NoError(t, err)
	require.Empty(t, identity.AccessToken)
	require.NotEmpty(t, identity.AccessTokenEnc)

	session, err := f.sessionRepo.GetByTokenHash(claims.HashToken(result.Token))
	require.NoError(t, err)
	require.Equal(t, user.ID, session.UserID)
	require.Equal(t, "browser/1.0", session.UserAgent)
}

func TestRepeatLoginReusesAccount(t *testing.T) {
	f := setupAuthFixture(t)

	first := f.beginAndCallback(t, auth.BeginParams{Provider: providers.Github})
	second := f.beginAndCallback(t, auth.BeginParams{Provider: providers.Github})
	require.Equal(t, first.User.ID, second.User.ID)

	count, err := f.identityRepo.CountByUser(first.User.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestCallbackRejectsReplayedState(t *testing.T) {
	f := setupAuthFixture(t)

	authURL, err := f.service.Begin(context.Background(), auth.BeginParams{Provider: providers.Github})
	require.NoError(t, err)
	state := stateFromURL(t, authURL)

	params := auth.CallbackParams{Provider: providers.Github, State: state, Code: "auth-code"}
	_, err = f.service.Callback(context.Background(), params)
	require.NoError(t, err)

	_, err = f.service.Callback(context.Background(), params)
	require.ErrorIs(t, err, brokererrors.ErrUnauthorized)
}

func TestCallbackRejectsExpiredState(t *testing.T) {
	f := setupAuthFixture(t)

	authURL, err := f.service.Begin(context.Background(), auth.BeginParams{Provider: providers.Github})
	require.NoError(t, err)
	state := stateFromURL(t, authURL)

	f.now = f.now.Add(11 * time.Minute)
	_, err = f.service.Callback(context.Background(), auth.CallbackParams{Provider: providers.Github, State: state, Code: "auth-code"})
	require.ErrorIs(t, err, brokererrors.ErrUnauthorized)
}

func TestLinkingAttachesIdentityToExistingAccount(t *testing.T) {
	f := setupAuthFixture(t)

	target := &users.User{Email: "existing@example.com"}
	require.NoError(t, f.userRepo.Upsert(target))

	result := f.beginAndCallback(t, auth.BeginParams{Provider: providers.Github, LinkUserID: target.ID, ActingUser: target})
	require.True(t, result.Linked)
	require.Empty(t, result.Token)

	identity, err := f.identityRepo.GetByUserProvider(target.ID, "github", identities.TenantScope{})
	require.NoError(t, err)
	require.Equal(t, "gh-42", identity.ProviderUserID)
}

func TestLinkingRejectsIdentityOwnedByAnotherAccount(t *testing.T) {
	f := setupAuthFixture(t)

	// First login claims the github identity for a fresh account.
	f.beginAndCallback(t, auth.BeginParams{Provider: providers.Github})

	target := &users.User{Email: "someone-else@example.com"}
	require.NoError(t, f.userRepo.Upsert(target))

	authURL, err := f.service.Begin(context.Background(), auth.BeginParams{Provider: providers.Github, LinkUserID: target.ID, ActingUser: target})
	require.NoError(t, err)

	_, err = f.service.Callback(context.Background(), auth.CallbackParams{
		Provider: providers.Github,
		State:    stateFromURL(t, authURL),
		Code:     "auth-code",
	})
	require.ErrorIs(t, err, brokererrors.ErrBadRequest)
}

func TestCallbackCompletesDeviceCode(t *testing.T) {
	f := setupAuthFixture(t)

	result := f.beginAndCallback(t, auth.BeginParams{Provider: providers.Github, DeviceUserCode: "ABCD-EFGH"})
	require.True(t, result.DeviceCompleted)
	require.Empty(t, result.Token)
	require.Equal(t, "ABCD-EFGH", f.device.verifiedUserCode)
	require.Equal(t, result.User.ID, f.device.verifiedUserID)
}

func TestUnlinkLastIdentityRejected(t *testing.T) {
	f := setupAuthFixture(t)

	result := f.beginAndCallback(t, auth.BeginParams{Provider: providers.Github})

	err := f.service.Unlink(context.Background(), result.User.ID, providers.Github, identities.TenantScope{})
	require.ErrorIs(t, err, brokererrors.ErrBadRequest)
}

func TestUnlinkWithRemainingIdentity(t *testing.T) {
	f := setupAuthFixture(t)

	result := f.beginAndCallback(t, auth.BeginParams{Provider: providers.Github})

	// A second linked identity makes the first removable.
	require.NoError(t, f.identityRepo.Upsert(&identities.Identity{
		UserID:         result.User.ID,
		Provider:       "google",
		ProviderUserID: "goog-7",
	}))

	require.NoError(t, f.service.Unlink(context.Background(), result.User.ID, providers.Github, identities.TenantScope{}))

	_, err := f.identityRepo.GetByUserProvider(result.User.ID, "github", identities.TenantScope{})
	require.ErrorIs(t, err, brokererrors.ErrNotFound)
}

func TestUnlinkCountsOnlyIdentitiesInScope(t *testing.T) {
	f := setupAuthFixture(t)

	user := &users.User{Email: "scoped@example.com"}
	require.NoError(t, f.userRepo.Upsert(user))

	orgScope := identities.TenantScope{OrgID: "org-1"}
	require.NoError(t, f.identityRepo.Upsert(&identities.Identity{
		UserID:         user.ID,
		Provider:       "github",
		ProviderUserID: "gh-9",
		IssuingOrgID:   "org-1",
	}))

	// A platform-scope identity cannot sign the user in to the org, so it
	// must not make the org's only identity removable.
	require.NoError(t, f.identityRepo.Upsert(&identities.Identity{
		UserID:         user.ID,
		Provider:       "google",
		ProviderUserID: "goog-9",
	}))

	err := f.service.Unlink(context.Background(), user.ID, providers.Github, orgScope)
	require.ErrorIs(t, err, brokererrors.ErrBadRequest)

	_, err = f.identityRepo.GetByUserProvider(user.ID, "github", orgScope)
	require.NoError(t, err)
}

func TestLogoutRevokesSession(t *testing.T) {
	f := setupAuthFixture(t)

	result := f.beginAndCallback(t, auth.BeginParams{Provider: providers.Github})
	require.NoError(t, f.service.Logout(context.Background(), result.Token))

	_, err := f.sessionRepo.GetByTokenHash(claims.HashToken(result.Token))
	require.ErrorIs(t, err, brokererrors.ErrNotFound)
}
