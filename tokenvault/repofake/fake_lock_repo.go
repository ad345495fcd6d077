package fakelockrepo

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-identity-broker/tokenvault"
)

var _ tokenvault.LockRepo = (*FakeLockRepo)(nil)

// FakeLockRepo mimics the datastore lease lock: insert-if-absent with expired
// rows purged on each acquire.
type FakeLockRepo struct {
	locks   map[string]time.Time // key to lease expiry
	lock    sync.Mutex
	NowFunc func() time.Time
}

func NewFakeLockRepo() *FakeLockRepo {
	return &FakeLockRepo{
		locks:   make(map[string]time.Time),
		NowFunc: time.Now,
	}
}

func (lr *FakeLockRepo) Acquire(key string, ttl time.Duration) (bool, error) {
	lr.lock.Lock()
	defer lr.lock.Unlock()

	now := lr.NowFunc()
	for k, expiry := range lr.locks {
		if expiry.Before(now) {
			delete(lr.locks, k)
		}
	}

	if _, held := lr.locks[key]; held {
		return false, nil
	}
	lr.locks[key] = now.Add(ttl)
	return true, nil
}

func (lr *FakeLockRepo) Release(key string) error {
	lr.lock.Lock()
	defer lr.lock.Unlock()

	delete(lr.locks, key)
	return nil
}
