package config

import (
	"fmt"
	"strings"

	"github.com/jrsteele09/go-identity-broker/providers"
)

type ProviderConfig interface {
	// GetProviderCredentials returns the platform default OAuth app for each
	// configured provider. Providers without a client ID are omitted.
	GetProviderCredentials() map[providers.Provider]providers.Credentials

	// GetElevatedCredentials returns the broader-scope apps reserved for
	// platform owners and admin flows. May be empty.
	GetElevatedCredentials() map[providers.Provider]providers.Credentials
}

type Providers struct{}

var _ ProviderConfig = Providers{}

func (Providers) GetProviderCredentials() map[providers.Provider]providers.Credentials {
	return credentialsFromEnv("")
}

func (Providers) GetElevatedCredentials() map[providers.Provider]providers.Credentials {
	return credentialsFromEnv("ELEVATED_")
}

// Variables follow the pattern GITHUB_CLIENT_ID / ELEVATED_GITHUB_CLIENT_ID.
// The redirect URI defaults to BASE_URL/auth/<provider>/callback but can be
// overridden per provider.
func credentialsFromEnv(prefix string) map[providers.Provider]providers.Credentials {
	base := EnvVars{}.GetBaseURL()

	creds := map[providers.Provider]providers.Credentials{}
	for _, provider := range providers.All() {
		envName := prefix + strings.ToUpper(string(provider))
		clientID := GetEnv(envName+"_CLIENT_ID", "")
		if clientID == "" {
			continue
		}
		creds[provider] = providers.Credentials{
			ClientID:     clientID,
			ClientSecret: GetEnv(envName+"_CLIENT_SECRET", ""),
			RedirectURI:  GetEnv(envName+"_REDIRECT_URI", fmt.Sprintf("%s/auth/%s/callback", base, provider)),
		}
	}
	return creds
}
