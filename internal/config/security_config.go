package config

import "time"

type SecurityConfig interface {
	// GetJWTSecret is the HMAC signing secret for session tokens. Ignored
	// when an RSA key pair is configured.
	GetJWTSecret() string

	// GetJWTPrivateKey returns a base64-encoded PEM RSA private key. When
	// set, sessions are signed RS256 instead of HS256.
	GetJWTPrivateKey() string
	GetJWTKeyID() string

	// GetEncryptionKey is the master secret sealing provider tokens and
	// tenant client secrets at rest.
	GetEncryptionKey() string
	GetEncryptionKeyID() string

	// GetPlatformOwnerEmail names the account promoted to platform owner at
	// startup.
	GetPlatformOwnerEmail() string

	GetSessionExpiry() time.Duration
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetJWTSecret() string {
	return GetEnv("JWT_SECRET", "")
}

func (Security) GetJWTPrivateKey() string {
	return GetEnv("JWT_PRIVATE_KEY", "")
}

func (Security) GetJWTKeyID() string {
	return GetEnv("JWT_KEY_ID", "primary")
}

func (Security) GetEncryptionKey() string {
	return GetEnv("ENCRYPTION_KEY", "")
}

func (Security) GetEncryptionKeyID() string {
	return GetEnv("ENCRYPTION_KEY_ID", "default")
}

func (Security) GetPlatformOwnerEmail() string {
	return GetEnv("PLATFORM_OWNER_EMAIL", "")
}

func (Security) GetSessionExpiry() time.Duration {
	return getDurationEnv("SESSION_TTL", 24*time.Hour)
}
