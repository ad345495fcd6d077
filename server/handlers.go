package server

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
)

// errorResponse is the JSON error envelope all endpoints share.
type errorResponse struct {
	Error string `json:"error"`
}

// statusForError maps the sentinel taxonomy onto HTTP. Anything unmatched is
// an internal error; details stay in the server log.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, brokererrors.ErrDeviceCodePending):
		return http.StatusBadRequest, "authorization_pending"
	case errors.Is(err, brokererrors.ErrDeviceCodeExpired):
		return http.StatusBadRequest, "expired_token"
	case errors.Is(err, brokererrors.ErrBadRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, brokererrors.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, brokererrors.ErrForbidden), errors.Is(err, brokererrors.ErrOrganizationNotActive):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, brokererrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, brokererrors.ErrRefreshUnsupported):
		return http.StatusConflict, "refresh_unsupported"
	case errors.Is(err, brokererrors.ErrProvider):
		return http.StatusBadGateway, "provider_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := statusForError(err)

	// A polling device client hitting authorization_pending is normal traffic
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	} else if !errors.Is(err, brokererrors.ErrDeviceCodePending) {
		log.Debug().Err(err).Msg("request rejected")
	}

	writeJSON(w, status, errorResponse{Error: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("failed to encode response body")
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
