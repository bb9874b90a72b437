package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/gitshone/ht-cal-01-sub000/internal/handler"    // handlers implementing the business logic
	"github.com/gitshone/ht-cal-01-sub000/internal/middleware" // middleware for JWT authentication
	"github.com/gitshone/ht-cal-01-sub000/internal/ws"         // WebSocket hub for push notifications
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Load balancers and monitoring systems use this endpoint to verify
	// that the service is up.
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers all authentication-related routes.
// Unauthenticated operations live under /api/auth, while protected
// endpoints live under /api.  The rate limiter sits on both groups: the
// auth endpoints are keyed by IP (login brute force), the protected ones
// run after JWTAuth so the limiter keys by user.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	// Operations that do not require an existing session: register, login
	// and the two refresh variants.
	g := e.Group("/api/auth", limiter)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Rotates the refresh token.
	g.POST("/refresh", a.Refresh)
	// Issues a new access token without rotating the refresh token.
	g.POST("/refresh-access", a.RefreshAccess)
	// Logout accepts a refresh token in the body, or a Bearer token to end
	// every session; it works without the JWT middleware.
	g.POST("/logout", a.Logout)

	auth := e.Group("/api")
	auth.Use(middleware.JWTAuth(jwtSecret), limiter)
	auth.GET("/me", a.Me)
}

// RegisterCalendar registers the calendar API: events, provider
// integrations, job status, settings and the WebSocket endpoint.  All
// routes except the WebSocket handshake require a valid access token;
// the WebSocket authenticates with its own first-message handshake.
func RegisterCalendar(e *echo.Echo, ev *handler.EventHandler, in *handler.IntegrationHandler, st *handler.SettingsHandler, hub *ws.Hub, jwtSecret string, limiter, respCache echo.MiddlewareFunc) {
	api := e.Group("/api")
	// JWTAuth must run first: the rate limiter and the response cache key
	// by the authenticated user, and nothing may be served from cache to a
	// request that has not passed authentication.
	api.Use(middleware.JWTAuth(jwtSecret), limiter, respCache)

	// Unified calendar across all connected providers.
	api.GET("/events", ev.List)
	api.POST("/events", ev.Create)
	api.PUT("/events/:id", ev.Update)
	api.PATCH("/events/:id", ev.Update)
	api.DELETE("/events/:id", ev.Delete)
	// Job status polling; completion is also pushed over the WebSocket.
	api.GET("/events/sync/:jobId", ev.SyncStatus)

	// Provider connections and manual sync.
	api.POST("/integrations/providers/:type/connect", in.Connect)
	api.DELETE("/integrations/providers/:type/disconnect", in.Disconnect)
	api.GET("/integrations/providers", in.List)
	api.POST("/integrations/sync", in.Sync)

	// Timezone and availability preferences.
	api.GET("/settings", st.Get)
	api.PUT("/settings", st.Put)

	// The upgrade request carries no Authorization header from browsers,
	// so this route is unauthenticated; the hub requires an authenticate
	// message before delivering anything.  Handshakes share the anonymous
	// IP rate bucket.
	e.GET("/api/ws", hub.Handle, limiter)
}
