// Package server is the broker's HTTP surface: the SSO and device flow
// endpoints plus the authenticated API behind the session gateway.
package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-identity-broker/auth"
	"github.com/jrsteele09/go-identity-broker/claims"
	"github.com/jrsteele09/go-identity-broker/deviceauth"
	"github.com/jrsteele09/go-identity-broker/internal/config"
	"github.com/jrsteele09/go-identity-broker/sessions"
	"github.com/jrsteele09/go-identity-broker/tenants"
	"github.com/jrsteele09/go-identity-broker/tokenvault"
	"github.com/jrsteele09/go-identity-broker/users"
)

// Repos aggregates the repositories the HTTP layer reads directly. Writes go
// through the services.
type Repos struct {
	Users         users.UserRepo
	Sessions      sessions.Repo
	Organizations tenants.OrganizationRepo
	TokenGrants   tenants.TokenGrantRepo
}

type Server struct {
	env    string
	mux    *http.ServeMux
	routes []string

	config config.Config
	repos  Repos
	auth   *auth.Service
	device *deviceauth.Service
	tokens *tokenvault.Vault
	codec  *claims.Codec
}

func New(
	config config.Config,
	repos Repos,
	authService *auth.Service,
	deviceService *deviceauth.Service,
	tokens *tokenvault.Vault,
	codec *claims.Codec,
) (*Server, error) {
	if authService == nil || codec == nil {
		return nil, fmt.Errorf("[Server New] auth service and codec are required")
	}

	s := &Server{
		mux:    http.NewServeMux(),
		config: config,
		repos:  repos,
		auth:   authService,
		device: deviceService,
		tokens: tokens,
		codec:  codec,
	}
	s.env = config.GetEnv()

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ansiReset
	} else {
		displayMethod = ansiGray + paddedMethod + ansiReset
	}
	log.Printf("[%-19s] %s\n", displayMethod, path)
}

// clientMetadata captures the caller context stored on new sessions.
func clientMetadata(r *http.Request) auth.ClientMetadata {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	} else if idx := strings.IndexByte(ip, ','); idx >= 0 {
		ip = strings.TrimSpace(ip[:idx])
	}
	return auth.ClientMetadata{
		UserAgent: r.UserAgent(),
		IPAddress: ip,
	}
}
