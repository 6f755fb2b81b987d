package router // package router defines how HTTP routes are registered for the API

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/custom-gpt-portal/internal/handler"
	"github.com/iliyamo/custom-gpt-portal/internal/middleware"
	"github.com/iliyamo/custom-gpt-portal/internal/model"
)

// New returns an Echo instance with the global middleware chain: panic
// recovery, request ids, request logging, security headers and CORS with
// credentials so the browser sends the refresh cookie cross-origin.
func New(log *slog.Logger, corsOrigins []string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.Secure())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))
	return e
}

// RegisterRoutes registers routes that do not require authentication:
// liveness and readiness probes.
func RegisterRoutes(e *echo.Echo, deps map[string]handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(deps))
}

// RegisterAuth registers the /api/auth routes. Credential endpoints sit
// behind the rate limiter, profile endpoints behind the guard. Google routes
// exist only when a Google strategy is configured.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, guard *middleware.Guard, limiter echo.MiddlewareFunc) {
	if limiter == nil {
		limiter = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	g := e.Group("/api/auth")

	g.POST("/signup", a.Signup, limiter)
	g.POST("/login", a.Login, limiter)
	g.POST("/logout", a.Logout)
	g.POST("/refresh", a.Refresh)

	g.GET("/me", a.Me, guard.RequireAuth)
	g.PUT("/profile", a.UpdateProfile, guard.RequireAuth)
	g.PUT("/password", a.ChangePassword, guard.RequireAuth)

	if a.Google != nil {
		g.GET("/google", a.GoogleStart)
		g.GET("/google/callback", a.GoogleCallback)
	}
}

// RegisterAdmin registers admin-only routes under /api/admin.
func RegisterAdmin(e *echo.Echo, ad *handler.AdminHandler, guard *middleware.Guard) {
	g := e.Group("/api/admin", guard.RequireAuth, middleware.RequireRole(model.RoleAdmin))
	g.GET("/users", ad.ListUsers)
}
