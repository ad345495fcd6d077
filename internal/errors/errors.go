package errors

import "errors"

// Common error types for the identity broker
var (
	// Credential errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Request errors
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")

	// Device flow errors. ErrDeviceCodePending is an expected polling
	// signal, not an operational failure.
	ErrDeviceCodeExpired = errors.New("device code expired")
	ErrDeviceCodePending = errors.New("authorization pending")

	// Tenant errors
	ErrOrganizationNotActive = errors.New("organization is not active")

	// Provider integration errors
	ErrProvider           = errors.New("provider error")
	ErrRefreshUnsupported = errors.New("provider does not support token refresh")

	// Cryptographic errors
	ErrCrypto = errors.New("cryptographic error")

	// General errors
	ErrInternal = errors.New("internal error")
)
