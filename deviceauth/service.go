package deviceauth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-identity-broker/claims"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/sessions"
	"github.com/jrsteele09/go-identity-broker/tenants"
	"github.com/jrsteele09/go-identity-broker/users"
)

// Repos aggregates the repositories the device flow touches.
type Repos struct {
	DeviceCodes   DeviceCodeRepo
	Users         users.UserRepo
	Organizations tenants.OrganizationRepo
	Services      tenants.ServiceRepo
	Sessions      sessions.Repo
}

// SessionMetadata is the client context captured when an exchange succeeds.
type SessionMetadata struct {
	UserAgent string
	IPAddress string
}

// TokenResponse is the successful exchange payload.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Service drives the device authorization state machine. Creation goes
// through the batch writer; verification and exchange hit the repos directly.
type Service struct {
	repos   Repos
	writer  *BatchWriter
	codec   *claims.Codec
	nowFunc func() time.Time
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

// NewService creates the device flow service.
func NewService(repos Repos, writer *BatchWriter, codec *claims.Codec, options ...ServiceOption) *Service {
	s := &Service{
		repos:   repos,
		writer:  writer,
		codec:   codec,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Create mints a new pending device code for a client. The returned row is
// durably committed before Create returns.
func (s *Service) Create(ctx context.Context, clientID, orgSlug, serviceSlug string) (*DeviceCode, error) {
	if clientID == "" {
		return nil, errors.Wrap(brokererrors.ErrBadRequest, "[Service.Create] client_id is required")
	}

	userCode, err := GenerateUserCode()
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Create]")
	}

	code := &DeviceCode{
		ID:          uuid.New().String(),
		DeviceCode:  uuid.New().String(),
		UserCode:    userCode,
		ClientID:    clientID,
		OrgSlug:     orgSlug,
		ServiceSlug: serviceSlug,
		Status:      StatusPending,
	}

	if err := s.writer.Enqueue(ctx, code); err != nil {
		return nil, errors.Wrap(err, "[Service.Create] writer.Enqueue")
	}
	return code, nil
}

// Verify approves a pending user code on behalf of a logged-in user. Codes
// that are unknown, expired, or already decided are rejected uniformly so
// the endpoint leaks nothing about which it was.
func (s *Service) Verify(ctx context.Context, userCode, userID string) (*DeviceCode, error) {
	code, err := s.repos.DeviceCodes.GetByUserCode(userCode)
	if err != nil {
		return nil, errors.Wrap(brokererrors.ErrBadRequest, "[Service.Verify] invalid user code")
	}
	if code.Expired(s.nowFunc()) || code.Status != StatusPending {
		return nil, errors.Wrap(brokererrors.ErrBadRequest, "[Service.Verify] invalid user code")
	}

	authorized, err := s.repos.DeviceCodes.Authorize(userCode, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Verify] Authorize")
	}

	log.Info().Str("user_id", userID).Str("client_id", authorized.ClientID).Msg("device code authorized")
	return authorized, nil
}

// Exchange trades an authorized device code for a signed claim set. The
// checks run in a fixed order: client mismatch before expiry before pending,
// so a polling client always sees the most actionable error.
func (s *Service) Exchange(ctx context.Context, deviceCode, clientID string, meta SessionMetadata) (*TokenResponse, error) {
	code, err := s.repos.DeviceCodes.GetByDeviceCode(deviceCode)
	if err != nil {
		return nil, errors.Wrap(brokererrors.ErrBadRequest, "[Service.Exchange] invalid device code")
	}

	if code.ClientID != clientID {
		return nil, errors.Wrap(brokererrors.ErrUnauthorized, "[Service.Exchange] client mismatch")
	}
	if code.Expired(s.nowFunc()) {
		return nil, errors.Wrap(brokererrors.ErrDeviceCodeExpired, "[Service.Exchange]")
	}
	if !code.Authorized() {
		return nil, errors.Wrap(brokererrors.ErrDeviceCodePending, "[Service.Exchange]")
	}

	user, err := s.repos.Users.GetByID(code.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Exchange] Users.GetByID")
	}

	claimSet := claims.Claims{
		Email:           user.Email,
		IsPlatformOwner: user.IsPlatformOwner,
		Org:             code.OrgSlug,
		Service:         code.ServiceSlug,
	}
	claimSet.Subject = user.ID

	var orgID, serviceID string
	if code.OrgSlug != "" {
		org, err := s.repos.Organizations.GetBySlug(code.OrgSlug)
		if err != nil {
			return nil, errors.Wrap(err, "[Service.Exchange] Organizations.GetBySlug")
		}
		if !org.Active() {
			return nil, errors.Wrapf(brokererrors.ErrOrganizationNotActive, "[Service.Exchange] org %s", org.Slug)
		}
		orgID = org.ID
		claimSet.Plan = org.Plan
		claimSet.Features = org.Features

		if code.ServiceSlug != "" {
			service, err := s.repos.Services.GetBySlug(org.ID, code.ServiceSlug)
			if err != nil {
				return nil, errors.Wrap(err, "[Service.Exchange] Services.GetBySlug")
			}
			serviceID = service.ID
		}
	}

	token, err := s.codec.Issue(claimSet)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Exchange] codec.Issue")
	}

	now := s.nowFunc().UTC()
	session := &sessions.Session{
		UserID:    user.ID,
		TokenHash: claims.HashToken(token),
		OrgID:     orgID,
		ServiceID: serviceID,
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		CreatedAt: now,
		ExpiresAt: now.Add(s.codec.Expiry()),
	}
	if err := s.repos.Sessions.Create(session); err != nil {
		return nil, errors.Wrap(err, "[Service.Exchange] Sessions.Create")
	}

	if err := s.repos.Users.TouchLastLogin(user.ID); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to touch last login")
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.codec.Expiry().Seconds()),
	}, nil
}

// CleanupExpired removes device codes past their TTL.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	deleted, err := s.repos.DeviceCodes.DeleteExpired(s.nowFunc())
	if err != nil {
		return 0, errors.Wrap(err, "[Service.CleanupExpired] DeleteExpired")
	}
	return deleted, nil
}

// RunCleanup deletes expired codes on a fixed ticker until the context is
// cancelled.
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.CleanupExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("device code cleanup failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("expired device codes removed")
			}
		}
	}
}
