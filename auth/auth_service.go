package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-identity-broker/claims"
	"github.com/jrsteele09/go-identity-broker/credentials"
	"github.com/jrsteele09/go-identity-broker/deviceauth"
	"github.com/jrsteele09/go-identity-broker/identities"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/providers"
	"github.com/jrsteele09/go-identity-broker/sessions"
	"github.com/jrsteele09/go-identity-broker/tenants"
	"github.com/jrsteele09/go-identity-broker/tokenvault"
	"github.com/jrsteele09/go-identity-broker/users"
)

// defaultScopes are requested on every login, before any per-service extras.
var defaultScopes = map[providers.Provider][]string{
	providers.Github:    {"user:email"},
	providers.Google:    {"openid", "email", "profile"},
	providers.Microsoft: {"openid", "email", "profile", "offline_access", "User.Read"},
}

// ProviderAdapter is the provider-facing surface the flows need, satisfied
// by providers.Adapter.
type ProviderAdapter interface {
	AuthorizationURL(provider providers.Provider, creds providers.Credentials, scopes []string, state string) (authURL, pkceVerifier string)
	ExchangeCode(ctx context.Context, provider providers.Provider, creds providers.Credentials, code, pkceVerifier string) (*providers.TokenDetails, error)
	FetchUserInfo(ctx context.Context, provider providers.Provider, accessToken string) (*providers.UserInfo, error)
}

// CredentialResolver picks the OAuth app credential for a flow.
type CredentialResolver interface {
	Resolve(provider providers.Provider, scope identities.TenantScope, actingUser *users.User) (providers.Credentials, credentials.Source, error)
}

// DeviceAuthorizer completes a pending device code after a browser login.
type DeviceAuthorizer interface {
	Verify(ctx context.Context, userCode, userID string) (*deviceauth.DeviceCode, error)
}

// Repos aggregates the repositories the SSO flows touch.
type Repos struct {
	States        StateRepo
	Users         users.UserRepo
	Identities    identities.IdentityRepo
	Organizations tenants.OrganizationRepo
	Services      tenants.ServiceRepo
	Sessions      sessions.Repo
}

// ClientMetadata is the client context captured on login.
type ClientMetadata struct {
	UserAgent string
	IPAddress string
}

// Service implements the SSO login, callback, linking and logout flows.
type Service struct {
	repos    Repos
	adapter  ProviderAdapter
	resolver CredentialResolver
	tokens   *tokenvault.Vault
	codec    *claims.Codec
	device   DeviceAuthorizer
	nowFunc  func() time.Time
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

// NewService creates the SSO flow service. The device authorizer may be nil
// when the deployment has no device flow.
func NewService(
	repos Repos,
	adapter ProviderAdapter,
	resolver CredentialResolver,
	tokens *tokenvault.Vault,
	codec *claims.Codec,
	device DeviceAuthorizer,
	options ...ServiceOption,
) *Service {
	s := &Service{
		repos:    repos,
		adapter:  adapter,
		resolver: resolver,
		tokens:   tokens,
		codec:    codec,
		device:   device,
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// BeginParams describes an outbound login redirect.
type BeginParams struct {
	Provider       providers.Provider
	OrgSlug        string
	ServiceSlug    string
	RedirectURI    string
	DeviceUserCode string      // pending device code to complete after login
	IsAdminFlow    bool        // use elevated platform credentials
	LinkUserID     string      // link the resulting identity to this account
	ActingUser     *users.User // authenticated user starting the flow, if any
}

// Begin resolves credentials and tenant scope, stores a single-use state row
// and returns the provider authorization URL to redirect the browser to.
func (s *Service) Begin(ctx context.Context, params BeginParams) (string, error) {
	scope, service, err := s.tenantScope(params.OrgSlug, params.ServiceSlug)
	if err != nil {
		return "", errors.Wrap(err, "[Service.Begin]")
	}

	actingUser := params.ActingUser
	if params.IsAdminFlow {
		// The admin flow runs before authentication; it exists to mint
		// elevated-credential tokens for the platform owner.
		actingUser = &users.User{IsPlatformOwner: true}
	}

	creds, source, err := s.resolver.Resolve(params.Provider, scope, actingUser)
	if err != nil {
		return "", errors.Wrap(err, "[Service.Begin] resolver.Resolve")
	}

	scopes := append([]string{}, defaultScopes[params.Provider]...)
	if service != nil {
		scopes = append(scopes, service.ScopesFor(string(params.Provider))...)
	}

	state := uuid.New().String()
	authURL, pkceVerifier := s.adapter.AuthorizationURL(params.Provider, creds, scopes, state)

	now := s.nowFunc().UTC()
	row := &OAuthState{
		State:        state,
		Provider:     string(params.Provider),
		PKCEVerifier: pkceVerifier,
		RedirectURI:  params.RedirectURI,
		OrgSlug:      params.OrgSlug,
		ServiceSlug:  params.ServiceSlug,
		IsAdminFlow:  params.IsAdminFlow,
		LinkUserID:   params.LinkUserID,
		DeviceCode:   params.DeviceUserCode,
		CreatedAt:    now,
		ExpiresAt:    now.Add(StateTTL),
	}
	if err := s.repos.States.Create(row); err != nil {
		return "", errors.Wrap(err, "[Service.Begin] States.Create")
	}

	log.Info().
		Str("provider", string(params.Provider)).
		Str("org", params.OrgSlug).
		Str("credential_source", string(source)).
		Bool("linking", params.LinkUserID != "").
		Msg("sso flow started")

	return authURL, nil
}

// CallbackParams carries the provider redirect back into the broker.
type CallbackParams struct {
	Provider providers.Provider
	State    string
	Code     string
	Meta     ClientMetadata
}

// CallbackResult is the outcome of a completed callback. Exactly one of
// Token, Linked or DeviceCompleted describes what happened.
type CallbackResult struct {
	Token           string
	ExpiresIn       int64
	RedirectURI     string
	Linked          bool
	DeviceCompleted bool
	User            *users.User
}

// Callback completes the round trip: consumes the state, exchanges the code,
// fetches the profile, upserts user and identity, then either links, completes
// a device code, or mints a session.
func (s *Service) Callback(ctx context.Context, params CallbackParams) (*CallbackResult, error) {
	st, err := s.repos.States.Consume(params.State)
	if err != nil {
		return nil, errors.Wrap(brokererrors.ErrUnauthorized, "[Service.Callback] unknown state")
	}
	if st.Expired(s.nowFunc()) || st.Provider != string(params.Provider) {
		return nil, errors.Wrap(brokererrors.ErrUnauthorized, "[Service.Callback] stale state")
	}

	scope, _, err := s.tenantScope(st.OrgSlug, st.ServiceSlug)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Callback]")
	}

	var actingUser *users.User
	if st.LinkUserID != "" {
		actingUser, err = s.repos.Users.GetByID(st.LinkUserID)
		if err != nil {
			return nil, errors.Wrap(err, "[Service.Callback] linking user")
		}
	}
	if st.IsAdminFlow {
		actingUser = &users.User{IsPlatformOwner: true}
	}

	creds, _, err := s.resolver.Resolve(params.Provider, scope, actingUser)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Callback] resolver.Resolve")
	}

	details, err := s.adapter.ExchangeCode(ctx, params.Provider, creds, params.Code, st.PKCEVerifier)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Callback] ExchangeCode")
	}

	info, err := s.adapter.FetchUserInfo(ctx, params.Provider, details.AccessToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Callback] FetchUserInfo")
	}

	user, err := s.resolveUser(st, params.Provider, info, scope)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Callback]")
	}

	if err := s.persistIdentity(user, params.Provider, info, details, scope); err != nil {
		return nil, errors.Wrap(err, "[Service.Callback]")
	}

	if err := s.repos.Users.TouchLastLogin(user.ID); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to touch last login")
	}

	result := &CallbackResult{RedirectURI: st.RedirectURI, User: user}

	switch {
	case st.DeviceCode != "":
		if s.device == nil {
			return nil, errors.Wrap(brokererrors.ErrBadRequest, "[Service.Callback] device flow not enabled")
		}
		if _, err := s.device.Verify(ctx, st.DeviceCode, user.ID); err != nil {
			return nil, errors.Wrap(err, "[Service.Callback] device.Verify")
		}
		result.DeviceCompleted = true

	case st.LinkUserID != "":
		result.Linked = true

	default:
		token, expiresIn, err := s.mintSession(user, st.OrgSlug, st.ServiceSlug, scope, params.Meta)
		if err != nil {
			return nil, errors.Wrap(err, "[Service.Callback]")
		}
		result.Token = token
		result.ExpiresIn = expiresIn
	}

	return result, nil
}

// tenantScope resolves slugs to a scope, enforcing the org-active gate.
func (s *Service) tenantScope(orgSlug, serviceSlug string) (identities.TenantScope, *tenants.Service, error) {
	if orgSlug == "" {
		return identities.TenantScope{}, nil, nil
	}

	org, err := s.repos.Organizations.GetBySlug(orgSlug)
	if err != nil {
		return identities.TenantScope{}, nil, errors.Wrapf(err, "organization %q", orgSlug)
	}
	if !org.Active() {
		return identities.TenantScope{}, nil, errors.Wrapf(brokererrors.ErrOrganizationNotActive, "organization %q", orgSlug)
	}

	scope := identities.TenantScope{OrgID: org.ID}
	if serviceSlug == "" {
		return scope, nil, nil
	}

	service, err := s.repos.Services.GetBySlug(org.ID, serviceSlug)
	if err != nil {
		return identities.TenantScope{}, nil, errors.Wrapf(err, "service %q", serviceSlug)
	}
	scope.ServiceID = service.ID
	return scope, service, nil
}

// resolveUser finds or creates the account the identity belongs to. For
// linking flows the target account is fixed and a collision with another
// account is rejected.
func (s *Service) resolveUser(st *OAuthState, provider providers.Provider, info *providers.UserInfo, scope identities.TenantScope) (*users.User, error) {
	if st.LinkUserID != "" {
		existing, err := s.repos.Identities.GetByProviderSubject(string(provider), info.ProviderUserID, scope)
		if err == nil && existing.UserID != st.LinkUserID {
			return nil, errors.Wrap(brokererrors.ErrBadRequest, "identity already linked to another account")
		}
		user, err := s.repos.Users.GetByID(st.LinkUserID)
		if err != nil {
			return nil, errors.Wrap(err, "Users.GetByID")
		}
		return user, nil
	}

	if identity, err := s.repos.Identities.GetByProviderSubject(string(provider), info.ProviderUserID, scope); err == nil {
		user, err := s.repos.Users.GetByID(identity.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "Users.GetByID")
		}
		return user, nil
	}

	if user, err := s.repos.Users.GetByEmail(info.Email); err == nil {
		return user, nil
	}

	user := &users.User{
		Email:     info.Email,
		Name:      info.Name,
		AvatarURL: info.AvatarURL,
		CreatedAt: s.nowFunc().UTC(),
	}
	if err := s.repos.Users.Upsert(user); err != nil {
		return nil, errors.Wrap(err, "Users.Upsert")
	}

	log.Info().Str("user_id", user.ID).Str("provider", string(provider)).Msg("new user registered")
	return user, nil
}

func (s *Service) persistIdentity(user *users.User, provider providers.Provider, info *providers.UserInfo, details *providers.TokenDetails, scope identities.TenantScope) error {
	identity := &identities.Identity{
		UserID:           user.ID,
		Provider:         string(provider),
		ProviderUserID:   info.ProviderUserID,
		Email:            info.Email,
		Scopes:           strings.Join(details.Scopes, " "),
		IssuingOrgID:     scope.OrgID,
		IssuingServiceID: scope.ServiceID,
	}
	if err := s.tokens.SealNewTokens(identity, details); err != nil {
		return errors.Wrap(err, "SealNewTokens")
	}
	if err := s.repos.Identities.Upsert(identity); err != nil {
		return errors.Wrap(err, "Identities.Upsert")
	}
	return nil
}

func (s *Service) mintSession(user *users.User, orgSlug, serviceSlug string, scope identities.TenantScope, meta ClientMetadata) (string, int64, error) {
	claimSet := claims.Claims{
		Email:           user.Email,
		IsPlatformOwner: user.IsPlatformOwner,
		Org:             orgSlug,
		Service:         serviceSlug,
	}
	claimSet.Subject = user.ID

	if orgSlug != "" {
		org, err := s.repos.Organizations.GetBySlug(orgSlug)
		if err == nil {
			claimSet.Plan = org.Plan
			claimSet.Features = org.Features
		}
	}

	token, err := s.codec.Issue(claimSet)
	if err != nil {
		return "", 0, errors.Wrap(err, "codec.Issue")
	}

	now := s.nowFunc().UTC()
	session := &sessions.Session{
		UserID:    user.ID,
		TokenHash: claims.HashToken(token),
		OrgID:     scope.OrgID,
		ServiceID: scope.ServiceID,
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		CreatedAt: now,
		ExpiresAt: now.Add(s.codec.Expiry()),
	}
	if err := s.repos.Sessions.Create(session); err != nil {
		return "", 0, errors.Wrap(err, "Sessions.Create")
	}

	return token, int64(s.codec.Expiry().Seconds()), nil
}

// ListIdentities returns the user's linked identities.
func (s *Service) ListIdentities(ctx context.Context, userID string) ([]*identities.Identity, error) {
	list, err := s.repos.Identities.ListByUser(userID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.ListIdentities]")
	}
	return list, nil
}

// Unlink removes a linked identity. The last identity in the scope can never
// be removed, otherwise the account would be locked out of that tenant;
// identities issued under other scopes do not count.
func (s *Service) Unlink(ctx context.Context, userID string, provider providers.Provider, scope identities.TenantScope) error {
	count, err := s.repos.Identities.CountByUserInScope(userID, scope)
	if err != nil {
		return errors.Wrap(err, "[Service.Unlink] CountByUserInScope")
	}
	if count <= 1 {
		return errors.Wrap(brokererrors.ErrBadRequest, "[Service.Unlink] cannot unlink last identity")
	}

	if err := s.repos.Identities.Delete(userID, string(provider), scope); err != nil {
		return errors.Wrapf(err, "[Service.Unlink] %s", provider)
	}
	return nil
}

// Logout revokes the session behind a bearer token. Revocation is immediate:
// the gateway refuses the token as soon as the row is gone.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	if err := s.repos.Sessions.DeleteByTokenHash(claims.HashToken(rawToken)); err != nil {
		return errors.Wrap(err, "[Service.Logout]")
	}
	return nil
}

// RunStateCleanup removes expired OAuth states on a fixed ticker until the
// context is cancelled.
func (s *Service) RunStateCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.repos.States.DeleteExpired(s.nowFunc())
			if err != nil {
				log.Error().Err(err).Msg("oauth state cleanup failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("expired oauth states removed")
			}
		}
	}
}
