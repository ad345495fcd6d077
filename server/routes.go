package server

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	// SSO flows: begin redirect and provider callback
	s.RegisterRouteFunc("GET "+RouteAuthBegin, s.AuthBeginHandler())
	s.RegisterRouteFunc("GET "+RouteAuthCallback, s.AuthCallbackHandler())

	// Device authorization flow
	s.RegisterRouteFunc("POST "+RouteDeviceCode, s.DeviceCodeHandler())
	s.RegisterRouteFunc("POST "+RouteDeviceToken, s.DeviceTokenHandler())
	s.RegisterRouteFunc("GET "+RouteActivate, s.ActivateHandler())
	s.RegisterRouteHandler("POST "+RouteDeviceVerify, ChainMiddleware(s.DeviceVerifyHandler(), s.APIMiddleware(s.RequireSession())...))

	// Authenticated API routes
	s.RegisterRouteHandler("GET "+RouteProviderToken, ChainMiddleware(s.ProviderTokenHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET "+RouteUserIdentities, ChainMiddleware(s.IdentitiesListHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteIdentityLink, ChainMiddleware(s.IdentityLinkHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("DELETE "+RouteIdentityUnlink, ChainMiddleware(s.IdentityUnlinkHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware(s.RequireSession())...))
}
