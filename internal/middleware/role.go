package middleware // middleware provides shared request processing for handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/custom-gpt-portal/internal/model"
)

// MsgForbidden is returned when a valid identity lacks the required role.
const MsgForbidden = "You do not have permission to perform this action"

// RequireRole enforces that the user attached by RequireAuth has one of the
// given roles. It must run after RequireAuth; without a user it answers 401.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, ok := CurrentUser(c)
			if !ok {
				return deny(c, http.StatusUnauthorized, MsgLoginRequired)
			}
			if !allowed[u.Role] {
				return deny(c, http.StatusForbidden, MsgForbidden)
			}
			return next(c)
		}
	}
}
