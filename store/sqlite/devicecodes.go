package sqlite

import (
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-identity-broker/deviceauth"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
)

var _ deviceauth.DeviceCodeRepo = (*deviceCodeRepo)(nil)

type deviceCodeRepo struct {
	db *sql.DB
}

// InsertBatch writes all rows in a single multi-row statement inside one
// transaction, matching the batch writer's one-commit-per-flush contract.
func (r *deviceCodeRepo) InsertBatch(codes []*deviceauth.DeviceCode) error {
	if len(codes) == 0 {
		return nil
	}

	placeholders := make([]string, len(codes))
	args := make([]any, 0, len(codes)*9)
	for i, code := range codes {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			code.ID, code.DeviceCode, code.UserCode, code.ClientID,
			code.OrgSlug, code.ServiceSlug, code.UserID, string(code.Status), toMillis(code.ExpiresAt))
	}

	tx, err := r.db.Begin()
	if err != nil {
		return errors.Wrap(err, "[deviceCodeRepo.InsertBatch] begin")
	}

	query := `INSERT INTO device_codes (id, device_code, user_code, client_id, org_slug, service_slug, user_id, status, expires_at) VALUES ` +
		strings.Join(placeholders, ", ")
	if _, err := tx.Exec(query, args...); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "[deviceCodeRepo.InsertBatch] exec")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "[deviceCodeRepo.InsertBatch] commit")
	}
	return nil
}

const deviceCodeColumns = `id, device_code, user_code, client_id, org_slug, service_slug, user_id, status, expires_at`

func (r *deviceCodeRepo) GetByDeviceCode(deviceCode string) (*deviceauth.DeviceCode, error) {
	row := r.db.QueryRow(`SELECT `+deviceCodeColumns+` FROM device_codes WHERE device_code = ?`, deviceCode)
	return scanDeviceCode(row)
}

func (r *deviceCodeRepo) GetByUserCode(userCode string) (*deviceauth.DeviceCode, error) {
	row := r.db.QueryRow(`SELECT `+deviceCodeColumns+` FROM device_codes WHERE user_code = ?`, userCode)
	return scanDeviceCode(row)
}

func (r *deviceCodeRepo) Authorize(userCode, userID string) (*deviceauth.DeviceCode, error) {
	result, err := r.db.Exec(`UPDATE device_codes SET user_id = ?, status = ? WHERE user_code = ?`,
		userID, string(deviceauth.StatusAuthorized), userCode)
	if err != nil {
		return nil, errors.Wrap(err, "[deviceCodeRepo.Authorize]")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, brokererrors.ErrNotFound
	}
	return r.GetByUserCode(userCode)
}

func (r *deviceCodeRepo) DeleteExpired(before time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM device_codes WHERE expires_at < ?`, toMillis(before))
	if err != nil {
		return 0, errors.Wrap(err, "[deviceCodeRepo.DeleteExpired]")
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}

func scanDeviceCode(row rowScanner) (*deviceauth.DeviceCode, error) {
	var (
		code      deviceauth.DeviceCode
		status    string
		expiresAt int64
	)
	err := row.Scan(&code.ID, &code.DeviceCode, &code.UserCode, &code.ClientID,
		&code.OrgSlug, &code.ServiceSlug, &code.UserID, &status, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, brokererrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[deviceCodeRepo] scan")
	}

	code.Status = deviceauth.Status(status)
	code.ExpiresAt = fromMillis(expiresAt)
	return &code, nil
}
