package middleware

import "github.com/labstack/echo/v4"

// userID returns the authenticated user's id, or "guest" when the request
// has not passed RequireAuth.
func userID(c echo.Context) string {
	if u, ok := CurrentUser(c); ok && u.ID != "" {
		return u.ID
	}
	return "guest"
}
