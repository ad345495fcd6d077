// Package config exposes the broker's runtime configuration as a set of
// small interfaces backed by environment variables. Components depend on the
// slice of configuration they use, never on the environment directly.
package config

type Config interface {
	EnvConfig
	CorsConfig
	ProviderConfig
	SecurityConfig
	StorageConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseURL() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Providers
	Security
	Storage
}

func New() Config {
	return mainConfig{}
}
