package tokenvault

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultSweepLookahead is how far ahead of expiry the sweep refreshes,
	// so interactive requests rarely pay the refresh latency themselves.
	DefaultSweepLookahead = time.Hour
)

// RunSweeper refreshes soon-to-expire tokens on a fixed ticker until the
// context is cancelled. Run it in its own goroutine.
func (v *Vault) RunSweeper(ctx context.Context, interval, lookahead time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if lookahead <= 0 {
		lookahead = DefaultSweepLookahead
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Dur("lookahead", lookahead).Msg("token refresh sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("token refresh sweeper stopped")
			return
		case <-ticker.C:
			refreshed, err := v.SweepOnce(ctx, lookahead)
			if err != nil {
				log.Error().Err(err).Msg("token refresh sweep failed")
				continue
			}
			if refreshed > 0 {
				log.Info().Int("refreshed", refreshed).Msg("token refresh sweep completed")
			}
		}
	}
}

// SweepOnce refreshes every identity whose token expires inside the
// lookahead window, through the same lock protocol as interactive requests.
// Individual failures are logged and skipped so one broken identity cannot
// stall the rest.
func (v *Vault) SweepOnce(ctx context.Context, lookahead time.Duration) (int, error) {
	cutoff := v.nowFunc().Add(lookahead)

	rows, err := v.identityRepo.ListExpiringBefore(cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "[Vault.SweepOnce] ListExpiringBefore")
	}

	refreshed := 0
	for _, identity := range rows {
		if _, err := v.refreshWithLock(ctx, identity); err != nil {
			log.Warn().
				Err(err).
				Str("user_id", identity.UserID).
				Str("provider", identity.Provider).
				Msg("sweep refresh failed")
			continue
		}
		refreshed++
	}
	return refreshed, nil
}
