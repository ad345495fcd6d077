package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-identity-broker/auth"
	"github.com/jrsteele09/go-identity-broker/deviceauth"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/providers"
)

const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// DeviceCodeHandler mints a pending device code pair for a CLI or headless
// client. Accepts form or JSON bodies.
func (s *Server) DeviceCodeHandler() http.HandlerFunc {
	type request struct {
		ClientID    string `json:"client_id"`
		OrgSlug     string `json:"org"`
		ServiceSlug string `json:"service"`
	}
	type response struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri"`
		ExpiresIn       int64  `json:"expires_in"`
		Interval        int64  `json:"interval"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if s.device == nil {
			s.writeError(w, errors.Wrap(brokererrors.ErrBadRequest, "device flow not enabled"))
			return
		}

		var req request
		if err := decodeRequest(r, &req, func() {
			req.ClientID = r.PostFormValue("client_id")
			req.OrgSlug = r.PostFormValue("org")
			req.ServiceSlug = r.PostFormValue("service")
		}); err != nil {
			s.writeError(w, err)
			return
		}

		code, err := s.device.Create(r.Context(), req.ClientID, req.OrgSlug, req.ServiceSlug)
		if err != nil {
			s.writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, response{
			DeviceCode:      code.DeviceCode,
			UserCode:        code.UserCode,
			VerificationURI: s.config.GetBaseURL() + RouteActivate,
			ExpiresIn:       int64(deviceauth.DeviceCodeTTL.Seconds()),
			Interval:        5,
		})
	}
}

// ActivateHandler is where the user lands after typing the verification URI
// on another device. It forwards straight into an SSO login carrying the
// user code, so approving the device only takes the provider round trip.
func (s *Server) ActivateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userCode := r.URL.Query().Get("user_code")
		if userCode == "" {
			s.writeError(w, errors.Wrap(brokererrors.ErrBadRequest, "user_code is required"))
			return
		}

		providerName := r.URL.Query().Get("provider")
		if providerName == "" {
			providerName = string(providers.Github)
		}
		provider, err := providers.Parse(providerName)
		if err != nil {
			s.writeError(w, err)
			return
		}

		authURL, err := s.auth.Begin(r.Context(), auth.BeginParams{
			Provider:       provider,
			OrgSlug:        r.URL.Query().Get("org"),
			ServiceSlug:    r.URL.Query().Get("service"),
			DeviceUserCode: userCode,
		})
		if err != nil {
			s.writeError(w, err)
			return
		}

		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// DeviceVerifyHandler approves a pending user code on behalf of the
// authenticated caller, for clients that are already logged in.
func (s *Server) DeviceVerifyHandler() http.HandlerFunc {
	type request struct {
		UserCode string `json:"user_code"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if s.device == nil {
			s.writeError(w, errors.Wrap(brokererrors.ErrBadRequest, "device flow not enabled"))
			return
		}

		user, ok := UserFromContext(r.Context())
		if !ok {
			s.writeError(w, brokererrors.ErrUnauthorized)
			return
		}

		var req request
		if err := decodeRequest(r, &req, func() {
			req.UserCode = r.PostFormValue("user_code")
		}); err != nil {
			s.writeError(w, err)
			return
		}
		if req.UserCode == "" {
			s.writeError(w, errors.Wrap(brokererrors.ErrBadRequest, "user_code is required"))
			return
		}

		if _, err := s.device.Verify(r.Context(), req.UserCode, user.ID); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authorized": true})
	}
}

// DeviceTokenHandler is the polling endpoint. Until the user approves the
// code it answers authorization_pending, which clients treat as "try again".
func (s *Server) DeviceTokenHandler() http.HandlerFunc {
	type request struct {
		GrantType  string `json:"grant_type"`
		DeviceCode string `json:"device_code"`
		ClientID   string `json:"client_id"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if s.device == nil {
			s.writeError(w, errors.Wrap(brokererrors.ErrBadRequest, "device flow not enabled"))
			return
		}

		var req request
		if err := decodeRequest(r, &req, func() {
			req.GrantType = r.PostFormValue("grant_type")
			req.DeviceCode = r.PostFormValue("device_code")
			req.ClientID = r.PostFormValue("client_id")
		}); err != nil {
			s.writeError(w, err)
			return
		}

		if req.GrantType != deviceGrantType {
			s.writeError(w, errors.Wrapf(brokererrors.ErrBadRequest, "unsupported grant_type %q", req.GrantType))
			return
		}

		meta := clientMetadata(r)
		token, err := s.device.Exchange(r.Context(), req.DeviceCode, req.ClientID, deviceauth.SessionMetadata{
			UserAgent: meta.UserAgent,
			IPAddress: meta.IPAddress,
		})
		if err != nil {
			s.writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, token)
	}
}

// decodeRequest fills req from a JSON body, or falls back to form values for
// OAuth-style posts.
func decodeRequest(r *http.Request, req any, fromForm func()) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return errors.Wrap(brokererrors.ErrBadRequest, "invalid JSON body")
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return errors.Wrap(brokererrors.ErrBadRequest, "invalid form body")
	}
	fromForm()
	return nil
}
