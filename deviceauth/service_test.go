package deviceauth_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-identity-broker/claims"
	"github.com/jrsteele09/go-identity-broker/deviceauth"
	fakedevicecoderepo "github.com/jrsteele09/go-identity-broker/deviceauth/repofake"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	fakesessionrepo "github.com/jrsteele09/go-identity-broker/sessions/repofakes"
	"github.com/jrsteele09/go-identity-broker/tenants"
	tenantrepofakes "github.com/jrsteele09/go-identity-broker/tenants/repofakes"
	"github.com/jrsteele09/go-identity-broker/users"
	fakeuserrepo "github.com/jrsteele09/go-identity-broker/users/repofake"
)

var userCodePattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}$`)

type deviceFixture struct {
	repo        *fakedevicecoderepo.FakeDeviceCodeRepo
	userRepo    *fakeuserrepo.FakeUserRepo
	orgRepo     *tenantrepofakes.FakeOrganizationRepo
	serviceRepo *tenantrepofakes.FakeServiceRepo
	sessionRepo *fakesessionrepo.FakeSessionRepo
	codec       *claims.Codec
	service     *deviceauth.Service
	now         time.Time
	user        *users.User
}

func setupDeviceFixture(t *testing.T) *deviceFixture {
	t.Helper()

	f := &deviceFixture{
		repo:        fakedevicecoderepo.NewFakeDeviceCodeRepo(),
		userRepo:    fakeuserrepo.NewFakeUserRepo(),
		orgRepo:     tenantrepofakes.NewFakeOrganizationRepo(),
		serviceRepo: tenantrepofakes.NewFakeServiceRepo(),
		sessionRepo: fakesessionrepo.NewFakeSessionRepo(),
		now:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		user:        &users.User{Email: "dev@example.com"},
	}
	require.NoError(t, f.userRepo.Upsert(f.user))

	nowFunc := func() time.Time { return f.now }

	codec, err := claims.NewCodec(claims.NewHMACSigner("test-signing-secret"), claims.WithNowFunc(nowFunc))
	require.NoError(t, err)
	f.codec = codec

	writer := deviceauth.NewBatchWriter(f.repo,
		deviceauth.WithFlushTimeout(time.Millisecond),
		deviceauth.WithBatchNowFunc(nowFunc),
	)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go writer.Run(ctx)

	f.service = deviceauth.NewService(deviceauth.Repos{
		DeviceCodes:   f.repo,
		Users:         f.userRepo,
		Organizations: f.orgRepo,
		Services:      f.serviceRepo,
		Sessions:      f.sessionRepo,
	}, writer, codec, deviceauth.WithNowFunc(nowFunc))

	return f
}

func TestCreateDeviceCode(t *testing.T) {
	f := setupDeviceFixture(t)

	code, err := f.service.Create(context.Background(), "cli-client", "", "")
	require.NoError(t, err)

	require.Regexp(t, userCodePattern, code.UserCode)
	require.NotEmpty(t, code.DeviceCode)
	require.Equal(t, deviceauth.StatusPending, code.Status)
	require.Equal(t, f.now.Add(15*time.Minute), code.ExpiresAt)

	// Create returns only after the row is committed
	stored, err := f.repo.GetByDeviceCode(code.DeviceCode)
	require.NoError(t, err)
	require.Equal(t, code.UserCode, stored.UserCode)
}

func TestCreateRequiresClientID(t *testing.T) {
	f := setupDeviceFixture(t)

	_, err := f.service.Create(context.Background(), "", "", "")
	require.ErrorIs(t, err, brokererrors.ErrBadRequest)
}

func TestVerifyUnknownUserCode(t *testing.T) {
	f := setupDeviceFixture(t)

	_, err := f.service.Verify(context.Background(), "ZZZZ-ZZZZ", f.user.ID)
	require.ErrorIs(t, err, brokererrors.ErrBadRequest)
}

func TestVerifyExpiredUserCode(t *testing.T) {
	f := setupDeviceFixture(t)

	code, err := f.service.Create(context.Background(), "cli-client", "", "")
	require.NoError(t, err)

	f.now = f.now.Add(16 * time.Minute)
	_, err = f.service.Verify(context.Background(), code.UserCode, f.user.ID)
	require.ErrorIs(t, err, brokererrors.ErrBadRequest)
}

func TestExchangeValidationOrder(t *testing.T) {
	f := setupDeviceFixture(t)

	code, err := f.service.Create(context.Background(), "cli-client", "", "")
	require.NoError(t, err)

	// Client mismatch outranks everything else
	_, err = f.service.Exchange(context.Background(), code.DeviceCode, "other-client", deviceauth.SessionMetadata{})
	require.ErrorIs(t, err, brokererrors.ErrUnauthorized)

	// Pending before the user approves
	_, err = f.service.Exchange(context.Background(), code.DeviceCode, "cli-client", deviceauth.SessionMetadata{})
	require.ErrorIs(t, err, brokererrors.ErrDeviceCodePending)

	_, err = f.service.Verify(context.Background(), code.UserCode, f.user.ID)
	require.NoError(t, err)

	resp, err := f.service.Exchange(context.Background(), code.DeviceCode, "cli-client", deviceauth.SessionMetadata{UserAgent: "cli/1.0"})
	require.NoError(t, err)
	require.Equal(t, "Bearer", resp.TokenType)

	verified, err := f.codec.Verify(resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, f.user.ID, verified.Subject)
	require.Equal(t, "dev@example.com", verified.Email)

	// A session row backs the issued token
	session, err := f.sessionRepo.GetByTokenHash(claims.HashToken(resp.AccessToken))
	require.NoError(t, err)
	require.Equal(t, f.user.ID, session.UserID)

	// Codes stay exchangeable until TTL
	_, err = f.service.Exchange(context.Background(), code.DeviceCode, "cli-client", deviceauth.SessionMetadata{})
	require.NoError(t, err)

	// Expiry wins over authorized once the TTL passes
	f.now = f.now.Add(16 * time.Minute)
	_, err = f.service.Exchange(context.Background(), code.DeviceCode, "cli-client", deviceauth.SessionMetadata{})
	require.ErrorIs(t, err, brokererrors.ErrDeviceCodeExpired)
}

func TestExchangeTenantScopedClaims(t *testing.T) {
	f := setupDeviceFixture(t)

	org := &tenants.Organization{Slug: "acme", Name: "Acme", Status: tenants.OrgActive, Plan: "pro", Features: []string{"sso"}}
	require.NoError(t, f.orgRepo.Upsert(org))
	require.NoError(t, f.serviceRepo.Upsert(&tenants.Service{OrgID: org.ID, Slug: "ci", Name: "CI"}))

	code, err := f.service.Create(context.Background(), "cli-client", "acme", "ci")
	require.NoError(t, err)
	_, err = f.service.Verify(context.Background(), code.UserCode, f.user.ID)
	require.NoError(t, err)

	resp, err := f.service.Exchange(context.Background(), code.DeviceCode, "cli-client", deviceauth.SessionMetadata{})
	require.NoError(t, err)

	verified, err := f.codec.Verify(resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "acme", verified.Org)
	require.Equal(t, "ci", verified.Service)
	require.Equal(t, "pro", verified.Plan)
	require.Equal(t, []string{"sso"}, verified.Features)
}

func TestExchangeInactiveOrganization(t *testing.T) {
	f := setupDeviceFixture(t)

	require.NoError(t, f.orgRepo.Upsert(&tenants.Organization{Slug: "dormant", Status: tenants.OrgSuspended}))

	code, err := f.service.Create(context.Background(), "cli-client", "dormant", "")
	require.NoError(t, err)
	_, err = f.service.Verify(context.Background(), code.UserCode, f.user.ID)
	require.NoError(t, err)

	_, err = f.service.Exchange(context.Background(), code.DeviceCode, "cli-client", deviceauth.SessionMetadata{})
	require.ErrorIs(t, err, brokererrors.ErrOrganizationNotActive)
}

func TestCleanupExpired(t *testing.T) {
	f := setupDeviceFixture(t)

	code, err := f.service.Create(context.Background(), "cli-client", "", "")
	require.NoError(t, err)

	f.now = f.now.Add(16 * time.Minute)
	deleted, err := f.service.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	_, err = f.repo.GetByDeviceCode(code.DeviceCode)
	require.ErrorIs(t, err, brokererrors.ErrNotFound)
}

func TestGenerateUserCodeAlphabet(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := deviceauth.GenerateUserCode()
		require.NoError(t, err)
		require.Regexp(t, userCodePattern, code)
		require.NotContains(t, code, "0")
		require.NotContains(t, code, "O")
		require.NotContains(t, code, "1")
		require.NotContains(t, code, "I")
	}
}
