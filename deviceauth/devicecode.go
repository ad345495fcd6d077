// Package deviceauth implements the device authorization grant: input
// constrained devices poll with an opaque device code while the user
// approves a short human-readable code in a browser.
package deviceauth

import "time"

// DeviceCodeTTL is how long a device code stays exchangeable.
const DeviceCodeTTL = 15 * time.Minute

// Status is the device code lifecycle state. Expiry is lazy: rows past their
// TTL keep their stored status and are rejected on read.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
)

// DeviceCode is one pending or approved device authorization.
type DeviceCode struct {
	ID          string    `json:"id"`
	DeviceCode  string    `json:"device_code"`
	UserCode    string    `json:"user_code"`
	ClientID    string    `json:"client_id"`
	OrgSlug     string    `json:"org_slug"`
	ServiceSlug string    `json:"service_slug"`
	UserID      string    `json:"user_id,omitempty"` // set on authorization
	Status      Status    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the code is past its TTL.
func (d *DeviceCode) Expired(now time.Time) bool {
	return d.ExpiresAt.Before(now)
}

// Authorized reports whether a user has approved the code.
func (d *DeviceCode) Authorized() bool {
	return d.Status == StatusAuthorized && d.UserID != ""
}
