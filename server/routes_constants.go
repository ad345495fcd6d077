package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// SSO flow
	RouteAuthBegin    = "/auth/{provider}"
	RouteAuthCallback = "/auth/{provider}/callback"
	RouteAuthLogout   = "/api/auth/logout"

	// Device authorization flow
	RouteDeviceCode   = "/auth/device/code"
	RouteDeviceVerify = "/auth/device/verify"
	RouteDeviceToken  = "/auth/token"
	RouteActivate     = "/activate"

	// Authenticated API
	RouteProviderToken  = "/api/provider-token/{provider}"
	RouteUserIdentities = "/api/user/identities"
	RouteIdentityLink   = "/api/user/identities/{provider}/link"
	RouteIdentityUnlink = "/api/user/identities/{provider}"

	RouteHealth = "/healthz"
)
