package fakedevicecoderepo

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-identity-broker/deviceauth"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
)

var _ deviceauth.DeviceCodeRepo = (*FakeDeviceCodeRepo)(nil)

type FakeDeviceCodeRepo struct {
	byDeviceCode map[string]*deviceauth.DeviceCode
	byUserCode   map[string]*deviceauth.DeviceCode
	lock         sync.RWMutex
}

func NewFakeDeviceCodeRepo() *FakeDeviceCodeRepo {
	return &FakeDeviceCodeRepo{
		byDeviceCode: make(map[string]*deviceauth.DeviceCode),
		byUserCode:   make(map[string]*deviceauth.DeviceCode),
	}
}

func (dr *FakeDeviceCodeRepo) InsertBatch(codes []*deviceauth.DeviceCode) error {
	dr.lock.Lock()
	defer dr.lock.Unlock()

	for _, code := range codes {
		dr.byDeviceCode[code.DeviceCode] = code
		dr.byUserCode[code.UserCode] = code
	}
	return nil
}

func (dr *FakeDeviceCodeRepo) GetByDeviceCode(deviceCode string) (*deviceauth.DeviceCode, error) {
	dr.lock.RLock()
	defer dr.lock.RUnlock()

	code, ok := dr.byDeviceCode[deviceCode]
	if !ok {
		return nil, brokererrors.ErrNotFound
	}
	return code, nil
}

func (dr *FakeDeviceCodeRepo) GetByUserCode(userCode string) (*deviceauth.DeviceCode, error) {
	dr.lock.RLock()
	defer dr.lock.RUnlock()

	code, ok := dr.byUserCode[userCode]
	if !ok {
		return nil, brokererrors.ErrNotFound
	}
	return code, nil
}

func (dr *FakeDeviceCodeRepo) Authorize(userCode, userID string) (*deviceauth.DeviceCode, error) {
	dr.lock.Lock()
	defer dr.lock.Unlock()

	code, ok := dr.byUserCode[userCode]
	if !ok {
		return nil, brokererrors.ErrNotFound
	}
	code.UserID = userID
	code.Status = deviceauth.StatusAuthorized
	return code, nil
}

func (dr *FakeDeviceCodeRepo) DeleteExpired(before time.Time) (int64, error) {
	dr.lock.Lock()
	defer dr.lock.Unlock()

	var deleted int64
	for key, code := range dr.byDeviceCode {
		if code.ExpiresAt.Before(before) {
			delete(dr.byDeviceCode, key)
			delete(dr.byUserCode, code.UserCode)
			deleted++
		}
	}
	return deleted, nil
}
