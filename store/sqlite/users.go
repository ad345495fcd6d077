package sqlite

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/users"
)

var _ users.UserRepo = (*userRepo)(nil)

type userRepo struct {
	db *sql.DB
}

func (r *userRepo) Upsert(user *users.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	var lastLogin sql.NullInt64
	if !user.LastLoginAt.IsZero() {
		lastLogin = sql.NullInt64{Int64: toMillis(user.LastLoginAt), Valid: true}
	}

	_, err := r.db.Exec(`
		INSERT INTO users (id, email, name, avatar_url, is_platform_owner, created_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			avatar_url = excluded.avatar_url,
			is_platform_owner = excluded.is_platform_owner,
			last_login_at = excluded.last_login_at`,
		user.ID, user.Email, user.Name, user.AvatarURL, user.IsPlatformOwner, toMillis(user.CreatedAt), lastLogin)
	if err != nil {
		return errors.Wrap(err, "[userRepo.Upsert]")
	}
	return nil
}

func (r *userRepo) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "[userRepo.Delete]")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return brokererrors.ErrNotFound
	}
	return nil
}

func (r *userRepo) GetByEmail(email string) (*users.User, error) {
	return r.scanOne(`SELECT id, email, name, avatar_url, is_platform_owner, created_at, last_login_at FROM users WHERE email = ?`, email)
}

func (r *userRepo) GetByID(id string) (*users.User, error) {
	return r.scanOne(`SELECT id, email, name, avatar_url, is_platform_owner, created_at, last_login_at FROM users WHERE id = ?`, id)
}

func (r *userRepo) scanOne(query string, arg any) (*users.User, error) {
	var (
		user      users.User
		createdAt int64
		lastLogin sql.NullInt64
	)
	err := r.db.QueryRow(query, arg).Scan(
		&user.ID, &user.Email, &user.Name, &user.AvatarURL, &user.IsPlatformOwner, &createdAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, brokererrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[userRepo] scan")
	}

	user.CreatedAt = fromMillis(createdAt)
	if lastLogin.Valid {
		user.LastLoginAt = fromMillis(lastLogin.Int64)
	}
	return &user, nil
}

func (r *userRepo) SetPlatformOwner(email string, owner bool) error {
	result, err := r.db.Exec(`UPDATE users SET is_platform_owner = ? WHERE email = ?`, owner, email)
	if err != nil {
		return errors.Wrap(err, "[userRepo.SetPlatformOwner]")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return brokererrors.ErrNotFound
	}
	return nil
}

func (r *userRepo) TouchLastLogin(id string) error {
	result, err := r.db.Exec(`UPDATE users SET last_login_at = ? WHERE id = ?`, toMillis(time.Now()), id)
	if err != nil {
		return errors.Wrap(err, "[userRepo.TouchLastLogin]")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return brokererrors.ErrNotFound
	}
	return nil
}
