package sqlite

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-identity-broker/tokenvault"
)

var _ tokenvault.LockRepo = (*lockRepo)(nil)

// lockRepo is the lease lock behind refresh serialization. Acquisition is a
// single INSERT OR IGNORE, so exactly one contender wins regardless of how
// many broker processes share the file.
type lockRepo struct {
	db *sql.DB
}

func (r *lockRepo) Acquire(key string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	// Purge expired leases first so a crashed holder cannot block forever
	if _, err := r.db.Exec(`DELETE FROM token_refresh_locks WHERE expires_at < ?`, toMillis(now)); err != nil {
		return false, errors.Wrap(err, "[lockRepo.Acquire] purge")
	}

	result, err := r.db.Exec(`
		INSERT OR IGNORE INTO token_refresh_locks (lock_key, acquired_at, expires_at)
		VALUES (?, ?, ?)`,
		key, toMillis(now), toMillis(now.Add(ttl)))
	if err != nil {
		return false, errors.Wrap(err, "[lockRepo.Acquire] insert")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "[lockRepo.Acquire] rows affected")
	}
	return affected > 0, nil
}

func (r *lockRepo) Release(key string) error {
	if _, err := r.db.Exec(`DELETE FROM token_refresh_locks WHERE lock_key = ?`, key); err != nil {
		return errors.Wrap(err, "[lockRepo.Release]")
	}
	return nil
}
