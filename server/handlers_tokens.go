package server

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-identity-broker/identities"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/providers"
)

// ProviderTokenHandler hands out a usable provider access token for the
// caller, refreshing behind the lock when it is near expiry. Service-scoped
// sessions are gated by the grant allow-list: no grant row for the service
// and provider means no token.
func (s *Server) ProviderTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.tokens == nil {
			s.writeError(w, brokererrors.ErrNotFound)
			return
		}

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

		if scope.ServiceID != "" {
			if err := s.checkTokenGrant(scope.ServiceID, provider); err != nil {
				s.writeError(w, err)
				return
			}
		}

		token, err := s.tokens.GetToken(r.Context(), user.ID, provider, scope)
		if err != nil {
			s.writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, token)
	}
}

// checkTokenGrant enforces the per-service allow-list. Absence of a grant
// row is a forbidden, not a not-found: the identity may well exist.
func (s *Server) checkTokenGrant(serviceID string, provider providers.Provider) error {
	if s.repos.TokenGrants == nil {
		return errors.Wrap(brokererrors.ErrForbidden, "[Server.checkTokenGrant] no grant repository configured")
	}

	_, err := s.repos.TokenGrants.Get(serviceID, string(provider))
	if errors.Is(err, brokererrors.ErrNotFound) {
		return errors.Wrapf(brokererrors.ErrForbidden, "[Server.checkTokenGrant] service not authorized for %s tokens", provider)
	}
	if err != nil {
		return errors.Wrap(err, "[Server.checkTokenGrant] Get")
	}
	return nil
}
