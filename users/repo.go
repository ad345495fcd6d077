package users

type UserRepo interface {
	Upsert(user *User) error
	Delete(id string) error
	GetByEmail(email string) (*User, error)
	GetByID(id string) (*User, error)
	SetPlatformOwner(email string, owner bool) error
	TouchLastLogin(id string) error
}
