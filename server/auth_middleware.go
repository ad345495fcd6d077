package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"

	"github.com/jrsteele09/go-identity-broker/claims"
	"github.com/jrsteele09/go-identity-broker/sessions"
	"github.com/jrsteele09/go-identity-broker/users"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyUser stores the authenticated user
	ContextKeyUser ContextKey = "user"
	// ContextKeyClaims stores the verified claim set
	ContextKeyClaims ContextKey = "claims"
	// ContextKeySession stores the live session row
	ContextKeySession ContextKey = "session"
	// ContextKeyToken stores the raw bearer token
	ContextKeyToken ContextKey = "token"
)

// RequireSession is the gateway middleware: a bearer token is only accepted
// when its signature verifies AND a live session row still exists for its
// hash, so logout revokes immediately regardless of the token's expiry.
func (s *Server) RequireSession() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			rawToken, ok := bearerToken(r)
			if !ok {
				s.writeError(w, brokererrors.ErrUnauthorized)
				return
			}

			claimSet, err := s.codec.Verify(rawToken)
			if err != nil {
				s.writeError(w, brokererrors.ErrUnauthorized)
				return
			}

			session, err := s.repos.Sessions.GetByTokenHash(claims.HashToken(rawToken))
			if err != nil || session.Expired(time.Now()) {
				s.writeError(w, brokererrors.ErrUnauthorized)
				return
			}

			user, err := s.repos.Users.GetByID(session.UserID)
			if err != nil {
				s.writeError(w, brokererrors.ErrUnauthorized)
				return
			}

			// Tenant-scoped sessions stop working the moment the org leaves
			// the active state.
			if claimSet.Org != "" {
				org, err := s.repos.Organizations.GetBySlug(claimSet.Org)
				if err != nil || !org.Active() {
					s.writeError(w, brokererrors.ErrForbidden)
					return
				}
			}

			ctx := context.WithValue(r.Context(), ContextKeyUser, user)
			ctx = context.WithValue(ctx, ContextKeyClaims, claimSet)
			ctx = context.WithValue(ctx, ContextKeySession, session)
			ctx = context.WithValue(ctx, ContextKeyToken, rawToken)

			next(w, r.WithContext(ctx))
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", false
	}
	return token, true
}

// UserFromContext returns the authenticated user injected by RequireSession.
func UserFromContext(ctx context.Context) (*users.User, bool) {
	user, ok := ctx.Value(ContextKeyUser).(*users.User)
	return user, ok
}

// ClaimsFromContext returns the verified claim set.
func ClaimsFromContext(ctx context.Context) (*claims.Claims, bool) {
	claimSet, ok := ctx.Value(ContextKeyClaims).(*claims.Claims)
	return claimSet, ok
}

// SessionFromContext returns the live session row.
func SessionFromContext(ctx context.Context) (*sessions.Session, bool) {
	session, ok := ctx.Value(ContextKeySession).(*sessions.Session)
	return session, ok
}

func tokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(ContextKeyToken).(string)
	return token, ok
}
