package deviceauth

import "time"

type DeviceCodeRepo interface {
	// InsertBatch persists a batch of new device codes in one transaction.
	InsertBatch(codes []*DeviceCode) error

	GetByDeviceCode(deviceCode string) (*DeviceCode, error)
	GetByUserCode(userCode string) (*DeviceCode, error)

	// Authorize binds a user to a code and flips it to authorized.
	Authorize(userCode, userID string) (*DeviceCode, error)

	// DeleteExpired removes codes whose TTL passed before the given time.
	DeleteExpired(before time.Time) (int64, error)
}
