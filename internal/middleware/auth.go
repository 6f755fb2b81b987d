package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/custom-gpt-portal/internal/logging"
	"github.com/iliyamo/custom-gpt-portal/internal/model"
	"github.com/iliyamo/custom-gpt-portal/internal/repository"
	"github.com/iliyamo/custom-gpt-portal/internal/utils"
)

// Messages returned by the guard; safe to show to the user.
const (
	MsgLoginRequired = "Please log in to access this resource"
	MsgInvalidToken  = "Invalid or expired token"
	MsgUserGone      = "User belonging to this token no longer exists"
)

const userKey = "user"

// Guard resolves the caller of protected routes from an access token.
type Guard struct {
	Issuer       *utils.TokenIssuer
	Users        repository.UserStore
	AccessCookie string // fallback cookie holding the access token
}

func NewGuard(issuer *utils.TokenIssuer, users repository.UserStore, accessCookie string) *Guard {
	return &Guard{Issuer: issuer, Users: users, AccessCookie: accessCookie}
}

// RequireAuth rejects requests without a valid access token for a live user
// and stores the user, password hash removed, in the context.
func (g *Guard) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := g.tokenFrom(c.Request())
		if raw == "" {
			return deny(c, http.StatusUnauthorized, MsgLoginRequired)
		}

		ctx := c.Request().Context()
		log := logging.FromContext(ctx)

		claims, err := g.Issuer.ParseAccessToken(raw)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				log.Debug("access token expired")
			} else {
				log.Debug("access token rejected", "error", err)
			}
			return deny(c, http.StatusUnauthorized, MsgInvalidToken)
		}

		u, err := g.Users.GetByID(ctx, claims.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return deny(c, http.StatusUnauthorized, MsgUserGone)
		}
		if err != nil {
			log.Error("load user for token failed", "error", err)
			return deny(c, http.StatusInternalServerError, "Internal server error")
		}
		u.PasswordHash = ""

		c.Set(userKey, u)
		c.SetRequest(c.Request().WithContext(logging.IntoContext(ctx, log.With("user_id", u.ID))))
		return next(c)
	}
}

// tokenFrom prefers the Authorization header over the cookie.
func (g *Guard) tokenFrom(r *http.Request) string {
	if auth := r.Header.Get(echo.HeaderAuthorization); auth != "" {
		if scheme, tok, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	if g.AccessCookie != "" {
		if ck, err := r.Cookie(g.AccessCookie); err == nil {
			return ck.Value
		}
	}
	return ""
}

// CurrentUser returns the user attached by RequireAuth.
func CurrentUser(c echo.Context) (model.User, bool) {
	u, ok := c.Get(userKey).(model.User)
	return u, ok
}

func deny(c echo.Context, status int, msg string) error {
	return c.JSON(status, echo.Map{"success": false, "message": msg})
}
