package tenantrepofakes

import (
	"sync"
	"time"

	"github.com/google/uuid"

	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
	"github.com/jrsteele09/go-identity-broker/tenants"
)

var (
	_ tenants.OrganizationRepo    = (*FakeOrganizationRepo)(nil)
	_ tenants.ServiceRepo         = (*FakeServiceRepo)(nil)
	_ tenants.OAuthCredentialRepo = (*FakeOAuthCredentialRepo)(nil)
	_ tenants.TokenGrantRepo      = (*FakeTokenGrantRepo)(nil)
)

type FakeOrganizationRepo struct {
	orgs map[string]*tenants.Organization
	lock sync.RWMutex
}

func NewFakeOrganizationRepo() *FakeOrganizationRepo {
	return &FakeOrganizationRepo{orgs: make(map[string]*tenants.Organization)}
}

func (or *FakeOrganizationRepo) Upsert(org *tenants.Organization) error {
	or.lock.Lock()
	defer or.lock.Unlock()
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	or.orgs[org.ID] = org
	return nil
}

func (or *FakeOrganizationRepo) GetBySlug(slug string) (*tenants.Organization, error) {
	or.lock.RLock()
	defer or.lock.RUnlock()
	for _, org := range or.orgs {
		if org.Slug == slug {
			return org, nil
		}
	}
	return nil, brokererrors.ErrNotFound
}

func (or *FakeOrganizationRepo) GetByID(id string) (*tenants.Organization, error) {
	or.lock.RLock()
	defer or.lock.RUnlock()
	org, ok := or.orgs[id]
	if !ok {
		return nil, brokererrors.ErrNotFound
	}
	return org, nil
}

type FakeServiceRepo struct {
	services map[string]*tenants.Service
	lock     sync.RWMutex
}

func NewFakeServiceRepo() *FakeServiceRepo {
	return &FakeServiceRepo{services: make(map[string]*tenants.Service)}
}

func (sr *FakeServiceRepo) Upsert(service *tenants.Service) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	if service.ID == "" {
		service.ID = uuid.New().String()
	}
	if service.CreatedAt.IsZero() {
		service.CreatedAt = time.Now().UTC()
	}
	sr.services[service.ID] = service
	return nil
}

func (sr *FakeServiceRepo) GetBySlug(orgID, slug string) (*tenants.Service, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()
	for _, service := range sr.services {
		if service.OrgID == orgID && service.Slug == slug {
			return service, nil
		}
	}
	return nil, brokererrors.ErrNotFound
}

func (sr *FakeServiceRepo) GetByID(id string) (*tenants.Service, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()
	service, ok := sr.services[id]
	if !ok {
		return nil, brokererrors.ErrNotFound
	}
	return service, nil
}

type FakeOAuthCredentialRepo struct {
	creds map[string]*tenants.OAuthCredential // keyed by orgID|provider
	lock  sync.RWMutex
}

func NewFakeOAuthCredentialRepo() *FakeOAuthCredentialRepo {
	return &FakeOAuthCredentialRepo{creds: make(map[string]*tenants.OAuthCredential)}
}

func credKey(orgID, provider string) string { return orgID + "|" + provider }

func (cr *FakeOAuthCredentialRepo) Upsert(cred *tenants.OAuthCredential) error {
	cr.lock.Lock()
	defer cr.lock.Unlock()
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}
	cr.creds[credKey(cred.OrgID, cred.Provider)] = cred
	return nil
}

func (cr *FakeOAuthCredentialRepo) Get(orgID, provider string) (*tenants.OAuthCredential, error) {
	cr.lock.RLock()
	defer cr.lock.RUnlock()
	cred, ok := cr.creds[credKey(orgID, provider)]
	if !ok {
		return nil, brokererrors.ErrNotFound
	}
	return cred, nil
}

func (cr *FakeOAuthCredentialRepo) Delete(orgID, provider string) error {
	cr.lock.Lock()
	defer cr.lock.Unlock()
	delete(cr.creds, credKey(orgID, provider))
	return nil
}

type FakeTokenGrantRepo struct {
	grants map[string]*tenants.TokenGrant
	lock   sync.RWMutex
}

func NewFakeTokenGrantRepo() *FakeTokenGrantRepo {
	return &FakeTokenGrantRepo{grants: make(map[string]*tenants.TokenGrant)}
}

func grantKey(serviceID, provider string) string {
	return serviceID + "|" + provider
}

func (gr *FakeTokenGrantRepo) Upsert(grant *tenants.TokenGrant) error {
	gr.lock.Lock()
	defer gr.lock.Unlock()
	if grant.ID == "" {
		grant.ID = uuid.New().String()
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}
	gr.grants[grantKey(grant.ServiceID, grant.Provider)] = grant
	return nil
}

func (gr *FakeTokenGrantRepo) Get(serviceID, provider string) (*tenants.TokenGrant, error) {
	gr.lock.RLock()
	defer gr.lock.RUnlock()
	grant, ok := gr.grants[grantKey(serviceID, provider)]
	if !ok {
		return nil, brokererrors.ErrNotFound
	}
	return grant, nil
}
