package fakeidentityrepo

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-identity-broker/identities"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
)

var _ identities.IdentityRepo = (*FakeIdentityRepo)(nil)

type FakeIdentityRepo struct {
	rows map[string]*identities.Identity // keyed by id
	lock sync.RWMutex
}

func NewFakeIdentityRepo() *FakeIdentityRepo {
	return &FakeIdentityRepo{
		rows: make(map[string]*identities.Identity),
	}
}

func (ir *FakeIdentityRepo) Upsert(identity *identities.Identity) error {
	ir.lock.Lock()
	defer ir.lock.Unlock()

	for _, row := range ir.rows {
		if row.UserID == identity.UserID &&
			row.Provider == identity.Provider &&
			row.Scope() == identity.Scope() {
			identity.ID = row.ID
			identity.CreatedAt = row.CreatedAt
			break
		}
	}
	if identity.ID == "" {
		identity.ID = uuid.New().String()
		identity.CreatedAt = time.Now().UTC()
	}
	identity.UpdatedAt = time.Now().UTC()
	ir.rows[identity.ID] = identity
	return nil
}

func (ir *FakeIdentityRepo) GetByUserProvider(userID, provider string, scope identities.TenantScope) (*identities.Identity, error) {
	ir.lock.RLock()
	defer ir.lock.RUnlock()

	for _, row := range ir.rows {
		if row.UserID == userID && row.Provider == provider && row.Scope() == scope {
			return row, nil
		}
	}
	return nil, brokererrors.ErrNotFound
}

func (ir *FakeIdentityRepo) GetByProviderSubject(provider, providerUserID string, scope identities.TenantScope) (*identities.Identity, error) {
	ir.lock.RLock()
	defer ir.lock.RUnlock()

	for _, row := range ir.rows {
		if row.Provider == provider && row.ProviderUserID == providerUserID && row.Scope() == scope {
			return row, nil
		}
	}
	return nil, brokererrors.ErrNotFound
}

func (ir *FakeIdentityRepo) ListByUser(userID string) ([]*identities.Identity, error) {
	ir.lock.RLock()
	defer ir.lock.RUnlock()

	list := make([]*identities.Identity, 0)
	for _, row := range ir.rows {
		if row.UserID == userID {
			list = append(list, row)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Provider < list[j].Provider })
	return list, nil
}

func (ir *FakeIdentityRepo) CountByUser(userID string) (int, error) {
	ir.lock.RLock()
	defer ir.lock.RUnlock()

	count := 0
	for _, row := range ir.rows {
		if row.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (ir *FakeIdentityRepo) CountByUserInScope(userID string, scope identities.TenantScope) (int, error) {
	ir.lock.RLock()
	defer ir.lock.RUnlock()

	count := 0
	for _, row := range ir.rows {
		if row.UserID == userID && row.Scope() == scope {
			count++
		}
	}
	return count, nil
}

func (ir *FakeIdentityRepo) Delete(userID, provider string, scope identities.TenantScope) error {
	ir.lock.Lock()
	defer ir.lock.Unlock()

	for id, row := range ir.rows {
		if row.UserID == userID && row.Provider == provider && row.Scope() == scope {
			delete(ir.rows, id)
			return nil
		}
	}
	return brokererrors.ErrNotFound
}

func (ir *FakeIdentityRepo) ListExpiringBefore(cutoff time.Time) ([]*identities.Identity, error) {
	ir.lock.RLock()
	defer ir.lock.RUnlock()

	list := make([]*identities.Identity, 0)
	for _, row := range ir.rows {
		if row.TokenExpiresAt == nil || !row.TokenExpiresAt.Before(cutoff) {
			continue
		}
		if row.RefreshToken == "" && len(row.RefreshTokenEnc) == 0 {
			continue
		}
		list = append(list, row)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}
