package tenants

type OrganizationRepo interface {
	Upsert(org *Organization) error
	GetBySlug(slug string) (*Organization, error)
	GetByID(id string) (*Organization, error)
}

type ServiceRepo interface {
	Upsert(service *Service) error
	GetBySlug(orgID, slug string) (*Service, error)
	GetByID(id string) (*Service, error)
}

type OAuthCredentialRepo interface {
	Upsert(cred *OAuthCredential) error
	Get(orgID, provider string) (*OAuthCredential, error)
	Delete(orgID, provider string) error
}

type TokenGrantRepo interface {
	Upsert(grant *TokenGrant) error
	Get(serviceID, provider string) (*TokenGrant, error)
}
