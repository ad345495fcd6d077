package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
)

const requestTimeout = 15 * time.Second

// Adapter talks to the upstream providers. It is safe for concurrent use;
// OIDC discovery results are cached behind a mutex after the first call.
type Adapter struct {
	httpClient *http.Client
	endpoints  map[Provider]endpoints
	nowFunc    func() time.Time

	oidcLock      sync.Mutex
	oidcProviders map[string]*oidc.Provider
}

// AdapterOption defines a function type to modify the Adapter instance.
type AdapterOption func(*Adapter)

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(client *http.Client) AdapterOption {
	return func(a *Adapter) {
		a.httpClient = client
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) AdapterOption {
	return func(a *Adapter) {
		a.nowFunc = now
	}
}

// WithEndpointURLs repoints a provider's endpoints, used by tests to target
// a local server.
func WithEndpointURLs(provider Provider, authURL, tokenURL, userInfoURL, emailsURL string) AdapterOption {
	return func(a *Adapter) {
		ep := a.endpoints[provider]
		ep.AuthURL = authURL
		ep.TokenURL = tokenURL
		ep.userInfoURL = userInfoURL
		ep.emailsURL = emailsURL
		a.endpoints[provider] = ep
	}
}

// WithOIDCIssuer repoints a provider's OIDC issuer.
func WithOIDCIssuer(provider Provider, issuer string) AdapterOption {
	return func(a *Adapter) {
		ep := a.endpoints[provider]
		ep.oidcIssuer = issuer
		a.endpoints[provider] = ep
	}
}

// NewAdapter creates a provider adapter with the default endpoint table.
func NewAdapter(options ...AdapterOption) *Adapter {
	a := &Adapter{
		httpClient:    &http.Client{Timeout: requestTimeout},
		endpoints:     defaultEndpoints(),
		nowFunc:       time.Now,
		oidcProviders: make(map[string]*oidc.Provider),
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

func (a *Adapter) oauthConfig(provider Provider, creds Credentials, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURI,
		Endpoint:     a.endpoints[provider].Endpoint,
		Scopes:       scopes,
	}
}

// AuthorizationURL builds the provider's consent URL for the given state.
// The returned PKCE verifier is empty for providers that do not require PKCE
// and must be carried through to ExchangeCode otherwise.
func (a *Adapter) AuthorizationURL(provider Provider, creds Credentials, scopes []string, state string) (authURL, pkceVerifier string) {
	cfg := a.oauthConfig(provider, creds, scopes)

	var opts []oauth2.AuthCodeOption
	if provider.Capabilities().RequiresPKCE {
		pkceVerifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(pkceVerifier))
	}
	if provider == Google {
		// Google only issues refresh tokens for offline access requests
		opts = append(opts, oauth2.AccessTypeOffline)
	}

	return cfg.AuthCodeURL(state, opts...), pkceVerifier
}

// tokenResponse is the provider token endpoint payload. The error fields are
// read even on 2xx responses because github reports failures that way.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeCode trades an authorization code for provider tokens.
func (a *Adapter) ExchangeCode(ctx context.Context, provider Provider, creds Credentials, code, pkceVerifier string) (*TokenDetails, error) {
	if provider.Capabilities().RequiresPKCE && pkceVerifier == "" {
		return nil, errors.Wrapf(brokererrors.ErrProvider, "[Adapter.ExchangeCode] %s requires a PKCE verifier", provider)
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {creds.RedirectURI},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
	}
	if pkceVerifier != "" {
		form.Set("code_verifier", pkceVerifier)
	}

	return a.postTokenEndpoint(ctx, provider, form)
}

// Refresh obtains a fresh access token using the stored refresh token.
// Github never issues refresh tokens, so the call fails without touching the
// network; google refresh responses carry no new refresh token.
func (a *Adapter) Refresh(ctx context.Context, provider Provider, creds Credentials, refreshToken string) (*TokenDetails, error) {
	if !provider.Capabilities().SupportsRefresh {
		return nil, errors.Wrapf(brokererrors.ErrRefreshUnsupported, "[Adapter.Refresh] %s", provider)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
	}

	details, err := a.postTokenEndpoint(ctx, provider, form)
	if err != nil {
		return nil, err
	}
	if provider == Google {
		details.RefreshToken = ""
	}
	return details, nil
}

func (a *Adapter) postTokenEndpoint(ctx context.Context, provider Provider, form url.Values) (*TokenDetails, error) {
	tokenURL := a.endpoints[provider].TokenURL

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "[Adapter.postTokenEndpoint] NewRequest")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(brokererrors.ErrProvider, "[Adapter.postTokenEndpoint] %s: %v", provider, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrapf(brokererrors.ErrProvider, "[Adapter.postTokenEndpoint] %s: read body: %v", provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().Str("provider", string(provider)).Int("status", resp.StatusCode).Msg("provider token endpoint error")
		return nil, errors.Wrapf(brokererrors.ErrProvider, "[Adapter.postTokenEndpoint] %s: status %d", provider, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, errors.Wrapf(brokererrors.ErrProvider, "[Adapter.postTokenEndpoint] %s: decode: %v", provider, err)
	}

	// Github reports failures with a 200 and an error field in the body
	if tr.Error != "" {
		log.Error().
			Str("provider", string(provider)).
			Str("error", tr.Error).
			Str("description", tr.ErrorDescription).
			Msg("provider returned error in success response")
		return nil, errors.Wrapf(brokererrors.ErrProvider, "[Adapter.postTokenEndpoint] %s: %s", provider, tr.Error)
	}
	if tr.AccessToken == "" {
		return nil, errors.Wrapf(brokererrors.ErrProvider, "[Adapter.postTokenEndpoint] %s: empty access token", provider)
	}

	details := &TokenDetails{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Scopes:       splitScopes(tr.Scope),
	}
	if tr.ExpiresIn > 0 {
		expiresAt := a.nowFunc().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second)
		details.ExpiresAt = &expiresAt
	}
	return details, nil
}

// splitScopes handles both space-delimited (google, microsoft) and
// comma-delimited (github) scope strings.
func splitScopes(scope string) []string {
	fields := strings.FieldsFunc(scope, func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// FetchUserInfo retrieves the normalized profile for an access token.
func (a *Adapter) FetchUserInfo(ctx context.Context, provider Provider, accessToken string) (*UserInfo, error) {
	switch provider {
	case Github:
		return a.fetchGithubUser(ctx, accessToken)
	case Google:
		return a.fetchOIDCUser(ctx, provider, accessToken)
	case Microsoft:
		return a.fetchMicrosoftUser(ctx, accessToken)
	default:
		return nil, errors.Wrapf(brokererrors.ErrBadRequest, "invalid provider %q", provider)
	}
}

func (a *Adapter) getJSON(ctx context.Context, endpoint, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "NewRequest")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(brokererrors.ErrProvider, "get %s: %v", endpoint, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Wrapf(brokererrors.ErrProvider, "get %s: status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(brokererrors.ErrProvider, "get %s: decode: %v", endpoint, err)
	}
	return nil
}

func (a *Adapter) fetchGithubUser(ctx context.Context, accessToken string) (*UserInfo, error) {
	var profile struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Email     string `json:"email"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := a.getJSON(ctx, a.endpoints[Github].userInfoURL, accessToken, &profile); err != nil {
		return nil, errors.Wrap(err, "[Adapter.fetchGithubUser]")
	}

	email := profile.Email
	if email == "" {
		// Profile email is empty when the user keeps it private; the emails
		// endpoint still lists addresses for the user scope.
		fallback, err := a.fetchGithubEmail(ctx, accessToken)
		if err != nil {
			return nil, errors.Wrap(err, "[Adapter.fetchGithubUser] email fallback")
		}
		email = fallback
	}

	name := profile.Name
	if name == "" {
		name = profile.Login
	}

	return &UserInfo{
		ProviderUserID: fmt.Sprintf("%d", profile.ID),
		Email:          email,
		Name:           name,
		AvatarURL:      profile.AvatarURL,
	}, nil
}

func (a *Adapter) fetchGithubEmail(ctx context.Context, accessToken string) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := a.getJSON(ctx, a.endpoints[Github].emailsURL, accessToken, &emails); err != nil {
		return "", err
	}

	// Only the primary verified address identifies the account; secondary
	// addresses are not trusted for account matching.
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", errors.Wrap(brokererrors.ErrProvider, "no primary verified email on account")
}

func (a *Adapter) fetchMicrosoftUser(ctx context.Context, accessToken string) (*UserInfo, error) {
	var profile struct {
		ID                string `json:"id"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
		DisplayName       string `json:"displayName"`
	}
	if err := a.getJSON(ctx, a.endpoints[Microsoft].userInfoURL, accessToken, &profile); err != nil {
		return nil, errors.Wrap(err, "[Adapter.fetchMicrosoftUser]")
	}

	email := profile.Mail
	if email == "" {
		email = profile.UserPrincipalName
	}
	if email == "" {
		return nil, errors.Wrap(brokererrors.ErrProvider, "microsoft profile has no email")
	}

	return &UserInfo{
		ProviderUserID: profile.ID,
		Email:          email,
		Name:           profile.DisplayName,
	}, nil
}

// oidcProvider performs discovery once per issuer and caches the result.
func (a *Adapter) oidcProvider(ctx context.Context, issuer string) (*oidc.Provider, error) {
	a.oidcLock.Lock()
	defer a.oidcLock.Unlock()

	if p, ok := a.oidcProviders[issuer]; ok {
		return p, nil
	}
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrapf(brokererrors.ErrProvider, "oidc discovery %s: %v", issuer, err)
	}
	a.oidcProviders[issuer] = p
	return p, nil
}

func (a *Adapter) fetchOIDCUser(ctx context.Context, provider Provider, accessToken string) (*UserInfo, error) {
	issuer := a.endpoints[provider].oidcIssuer

	oidcProvider, err := a.oidcProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(err, "[Adapter.fetchOIDCUser]")
	}

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	info, err := oidcProvider.UserInfo(ctx, tokenSource)
	if err != nil {
		return nil, errors.Wrapf(brokererrors.ErrProvider, "[Adapter.fetchOIDCUser] userinfo: %v", err)
	}

	var extra struct {
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := info.Claims(&extra); err != nil {
		return nil, errors.Wrapf(brokererrors.ErrProvider, "[Adapter.fetchOIDCUser] claims: %v", err)
	}

	return &UserInfo{
		ProviderUserID: info.Subject,
		Email:          info.Email,
		Name:           extra.Name,
		AvatarURL:      extra.Picture,
	}, nil
}
