package fakesessionrepo

import (
	"sync"
	"time"

	"github.com/google/uuid"

	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/sessions"
)

var _ sessions.Repo = (*FakeSessionRepo)(nil)

type FakeSessionRepo struct {
	byHash map[string]*sessions.Session
	lock   sync.RWMutex
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		byHash: make(map[string]*sessions.Session),
	}
}

func (sr *FakeSessionRepo) Create(session *sessions.Session) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	sr.byHash[session.TokenHash] = session
	return nil
}

func (sr *FakeSessionRepo) GetByTokenHash(tokenHash string) (*sessions.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	session, ok := sr.byHash[tokenHash]
	if !ok {
		return nil, brokererrors.ErrNotFound
	}
	return session, nil
}

func (sr *FakeSessionRepo) DeleteByTokenHash(tokenHash string) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	delete(sr.byHash, tokenHash)
	return nil
}

func (sr *FakeSessionRepo) DeleteByUser(userID string) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	for hash, session := range sr.byHash {
		if session.UserID == userID {
			delete(sr.byHash, hash)
		}
	}
	return nil
}

func (sr *FakeSessionRepo) DeleteExpired(before time.Time) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	for hash, session := range sr.byHash {
		if session.ExpiresAt.Before(before) {
			delete(sr.byHash, hash)
		}
	}
	return nil
}
