// Package sqlite is the broker's relational store. One SQLite file backs all
// aggregates so device-code batches, session writes and lock acquisition
// share the same transaction and visibility boundaries.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/jrsteele09/go-identity-broker/auth"
	"github.com/jrsteele09/go-identity-broker/deviceauth"
	"github.com/jrsteele09/go-identity-broker/identities"
	"github.com/jrsteele09/go-identity-broker/sessions"
	"github.com/jrsteele09/go-identity-broker/tenants"
	"github.com/jrsteele09/go-identity-broker/tokenvault"
	"github.com/jrsteele09/go-identity-broker/users"
)

// CheckpointInterval is how often the manual WAL checkpoint runs. Automatic
// checkpointing is disabled so the write path never stalls on one.
const CheckpointInterval = 10 * time.Second

// startupPragmas tune the connection for a write-heavy single-file
// deployment. page_size is applied separately, only on first create.
var startupPragmas = []string{
	"PRAGMA journal_mode = WAL;",
	"PRAGMA synchronous = NORMAL;",
	"PRAGMA busy_timeout = 10000;",
	"PRAGMA cache_size = -128000;",
	"PRAGMA wal_autocheckpoint = 0;",
	"PRAGMA temp_store = MEMORY;",
	"PRAGMA mmap_size = 536870912;",
	"PRAGMA foreign_keys = ON;",
}

// Store owns the database handle and hands out per-aggregate repositories.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path, applies the tuning
// pragmas and the embedded schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("[sqlite.Open] path is required")
	}

	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "[sqlite.Open] MkdirAll")
		}
	}

	_, statErr := os.Stat(cleanPath)
	isNew := os.IsNotExist(statErr)

	db, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "[sqlite.Open] sql.Open")
	}

	// page_size must be set before the first table is created
	if isNew {
		if _, err := db.Exec("PRAGMA page_size = 8192;"); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "[sqlite.Open] page_size")
		}
	}

	for _, pragma := range startupPragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "[sqlite.Open] %s", pragma)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[sqlite.Open] apply schema")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[sqlite.Open] ping")
	}

	return &Store{db: db}, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunCheckpointer truncates the WAL on a fixed ticker until the context is
// cancelled. Run it in its own goroutine.
func (s *Store) RunCheckpointer(ctx context.Context) {
	ticker := time.NewTicker(CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
				log.Warn().Err(err).Msg("wal checkpoint failed")
			}
		}
	}
}

func (s *Store) Users() users.UserRepo                         { return &userRepo{db: s.db} }
func (s *Store) Identities() identities.IdentityRepo           { return &identityRepo{db: s.db} }
func (s *Store) DeviceCodes() deviceauth.DeviceCodeRepo        { return &deviceCodeRepo{db: s.db} }
func (s *Store) Sessions() sessions.Repo                       { return &sessionRepo{db: s.db} }
func (s *Store) OAuthStates() auth.StateRepo                   { return &stateRepo{db: s.db} }
func (s *Store) RefreshLocks() tokenvault.LockRepo             { return &lockRepo{db: s.db} }
func (s *Store) Organizations() tenants.OrganizationRepo       { return &organizationRepo{db: s.db} }
func (s *Store) Services() tenants.ServiceRepo                 { return &serviceRepo{db: s.db} }
func (s *Store) OAuthCredentials() tenants.OAuthCredentialRepo { return &oauthCredentialRepo{db: s.db} }
func (s *Store) TokenGrants() tenants.TokenGrantRepo           { return &tokenGrantRepo{db: s.db} }

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}
