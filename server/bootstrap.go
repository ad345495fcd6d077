package server

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
)

// BootstrapPlatformOwner promotes the configured platform owner account at
// startup. The account may not exist yet on a fresh deployment; promotion
// then happens on the next startup after their first login.
func (s *Server) BootstrapPlatformOwner() error {
	email := s.config.GetPlatformOwnerEmail()
	if email == "" {
		log.Info().Msg("no platform owner configured")
		return nil
	}

	user, err := s.repos.Users.GetByEmail(email)
	if errors.Is(err, brokererrors.ErrNotFound) {
		log.Info().Str("email", email).Msg("platform owner has not logged in yet")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "[Server.BootstrapPlatformOwner] Users.GetByEmail")
	}

	if user.IsPlatformOwner {
		return nil
	}

	if err := s.repos.Users.SetPlatformOwner(email, true); err != nil {
		return errors.Wrap(err, "[Server.BootstrapPlatformOwner] SetPlatformOwner")
	}

	log.Info().Str("email", email).Str("user_id", user.ID).Msg("platform owner promoted")
	return nil
}
