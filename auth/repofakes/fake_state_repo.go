package fakestaterepo

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-identity-broker/auth"
	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
)

var _ auth.StateRepo = (*FakeStateRepo)(nil)

type FakeStateRepo struct {
	states map[string]*auth.OAuthState
	lock   sync.Mutex
}

func NewFakeStateRepo() *FakeStateRepo {
	return &FakeStateRepo{
		states: make(map[string]*auth.OAuthState),
	}
}

func (sr *FakeStateRepo) Create(state *auth.OAuthState) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	sr.states[state.State] = state
	return nil
}

func (sr *FakeStateRepo) Consume(state string) (*auth.OAuthState, error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	row, ok := sr.states[state]
	if !ok {
		return nil, brokererrors.ErrNotFound
	}
	delete(sr.states, state)
	return row, nil
}

func (sr *FakeStateRepo) DeleteExpired(before time.Time) (int64, error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	var deleted int64
	for key, row := range sr.states {
		if row.ExpiresAt.Before(before) {
			delete(sr.states, key)
			deleted++
		}
	}
	return deleted, nil
}
