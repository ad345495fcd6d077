// Package users holds the broker's account model. Accounts are created on
// first federated login and accumulate linked provider identities.
package users

import (
	"time"
)

type User struct {
	ID              string    `json:"id,omitempty"`    // Unique identifier for the user
	Email           string    `json:"email,omitempty"` // Primary email, taken from the first provider login
	Name            string    `json:"name,omitempty"`
	AvatarURL       string    `json:"avatar_url,omitempty"`
	IsPlatformOwner bool      `json:"is_platform_owner,omitempty"` // Grants access to elevated platform credentials
	CreatedAt       time.Time `json:"created_at,omitempty"`
	LastLoginAt     time.Time `json:"last_login_at,omitempty"`
}
