package server

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-identity-broker/auth"
	"github.com/jrsteele09/go-identity-broker/identities"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/providers"
)

// AuthBeginHandler starts a provider login and redirects the browser to the
// provider's authorization URL. Tenant context, a pending device code, and
// the elevated admin flow all ride in on query parameters.
func (s *Server) AuthBeginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := providers.Parse(r.PathValue("provider"))
		if err != nil {
			s.writeError(w, err)
			return
		}

		authURL, err := s.auth.Begin(r.Context(), auth.BeginParams{
			Provider:       provider,
			OrgSlug:        r.URL.Query().Get("org"),
			ServiceSlug:    r.URL.Query().Get("service"),
			RedirectURI:    r.URL.Query().Get("redirect_uri"),
			DeviceUserCode: r.URL.Query().Get("user_code"),
			IsAdminFlow:    r.URL.Query().Get("admin") == "true",
		})
		if err != nil {
			s.writeError(w, err)
			return
		}

		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// AuthCallbackHandler completes the provider round trip. Depending on what
// the flow was started for, the response is a minted session token, a link
// confirmation, or a device-completion notice.
func (s *Server) AuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := providers.Parse(r.PathValue("provider"))
		if err != nil {
			s.writeError(w, err)
			return
		}

		query := r.URL.Query()
		if errParam := query.Get("error"); errParam != "" {
			s.writeError(w, errors.Wrapf(brokererrors.ErrUnauthorized, "provider returned %s", errParam))
			return
		}
		if query.Get("code") == "" || query.Get("state") == "" {
			s.writeError(w, errors.Wrap(brokererrors.ErrBadRequest, "code and state are required"))
			return
		}

		result, err := s.auth.Callback(r.Context(), auth.CallbackParams{
			Provider: provider,
			State:    query.Get("state"),
			Code:     query.Get("code"),
			Meta:     clientMetadata(r),
		})
		if err != nil {
			s.writeError(w, err)
			return
		}

		switch {
		case result.DeviceCompleted:
			writeJSON(w, http.StatusOK, map[string]any{"device_authorized": true})
		case result.Linked:
			writeJSON(w, http.StatusOK, map[string]any{"linked": true})
		case result.RedirectURI != "":
			http.Redirect(w, r, result.RedirectURI+"#token="+result.Token, http.StatusFound)
		default:
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": result.Token,
				"token_type":   "Bearer",
				"expires_in":   result.ExpiresIn,
			})
		}
	}
}

// IdentitiesListHandler returns the caller's linked identities. Token columns
// never leave the server.
func (s *Server) IdentitiesListHandler() http.HandlerFunc {
	type identityView struct {
		Provider  string `json:"provider"`
		Email     string `json:"email,omitempty"`
		Scopes    string `json:"scopes,omitempty"`
		OrgID     string `json:"org_id,omitempty"`
		ServiceID string `json:"service_id,omitempty"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			s.writeError(w, brokererrors.ErrUnauthorized)
			return
		}

		list, err := s.auth.ListIdentities(r.Context(), user.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}

		views := make([]identityView, 0, len(list))
		for _, identity := range list {
			views = append(views, identityView{
				Provider:  identity.Provider,
				Email:     identity.Email,
				Scopes:    identity.Scopes,
				OrgID:     identity.IssuingOrgID,
				ServiceID: identity.IssuingServiceID,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"identities": views})
	}
}

// IdentityLinkHandler starts an SSO flow that attaches another provider
// identity to the calling account. The client follows the returned URL.
func (s *Server) IdentityLinkHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			s.writeError(w, brokererrors.ErrUnauthorized)
			return
		}

		provider, err := providers.Parse(r.PathValue("provider"))
		if err != nil {
			s.writeError(w, err)
			return
		}

		claimSet, _ := ClaimsFromContext(r.Context())
		params := auth.BeginParams{
			Provider:   provider,
			LinkUserID: user.ID,
			ActingUser: user,
		}
		if claimSet != nil {
			params.OrgSlug = claimSet.Org
			params.ServiceSlug = claimSet.Service
		}

		authURL, err := s.auth.Begin(r.Context(), params)
		if err != nil {
			s.writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"authorization_url": authURL})
	}
}

// IdentityUnlinkHandler removes a linked identity in the session's tenant
// scope. The last identity cannot be removed.
func (s *Server) IdentityUnlinkHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			s.writeError(w, brokererrors.ErrUnauthorized)
			return
		}

		provider, err := providers.Parse(r.PathValue("provider"))
		if err != nil {
			s.writeError(w, err)
			return
		}

		scope := identities.TenantScope{}
		if session, ok := SessionFromContext(r.Context()); ok {
			scope.OrgID = session.OrgID
			scope.ServiceID = session.ServiceID
		}

		if err := s.auth.Unlink(r.Context(), user.ID, provider, scope); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"unlinked": true})
	}
}

// LogoutHandler revokes the calling session.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawToken, ok := tokenFromContext(r.Context())
		if !ok {
			s.writeError(w, brokererrors.ErrUnauthorized)
			return
		}

		if err := s.auth.Logout(r.Context(), rawToken); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"logged_out": true})
	}
}
