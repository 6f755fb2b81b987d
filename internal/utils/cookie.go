package utils

import (
	"net/http"
	"time"
)

// CookieManager writes and clears the HTTP-only refresh cookie. Production
// deployments serve the frontend from another origin, so the cookie must be
// Secure with SameSite=None there; local HTTP development uses Lax.
type CookieManager struct {
	Name       string
	Production bool
	MaxAge     time.Duration
	Path       string
}

// NewCookieManager returns a manager for the refresh cookie called name.
func NewCookieManager(name string, production bool, maxAge time.Duration) CookieManager {
	if name == "" {
		name = "refreshToken"
	}
	return CookieManager{Name: name, Production: production, MaxAge: maxAge, Path: "/"}
}

func (m CookieManager) sameSite() http.SameSite {
	if m.Production {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

// RefreshCookie builds the cookie carrying token.
func (m CookieManager) RefreshCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     m.Name,
		Value:    token,
		Path:     m.Path,
		MaxAge:   int(m.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   m.Production,
		SameSite: m.sameSite(),
	}
}

// ExpiredRefreshCookie overwrites the refresh cookie with an empty value and
// an expiry in the past so browsers drop it whatever they currently hold.
func (m CookieManager) ExpiredRefreshCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.Name,
		Value:    "",
		Path:     m.Path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.Production,
		SameSite: m.sameSite(),
	}
}

// SetRefreshCookie attaches the refresh cookie to w.
func (m CookieManager) SetRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, m.RefreshCookie(token))
}

// ClearRefreshCookie attaches the expired refresh cookie to w.
func (m CookieManager) ClearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, m.ExpiredRefreshCookie())
}

const stateCookieName = "oauth_state"

// SetStateCookie stores the OAuth state nonce for the duration of the
// provider round trip. It is always Lax because the callback is a top-level
// navigation back to this origin.
func (m CookieManager) SetStateCookie(w http.ResponseWriter, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     m.Path,
		MaxAge:   int((10 * time.Minute) / time.Second),
		HttpOnly: true,
		Secure:   m.Production,
		SameSite: http.SameSiteLaxMode,
	})
}

// StateFromRequest returns the OAuth state nonce stored by SetStateCookie.
func (m CookieManager) StateFromRequest(r *http.Request) string {
	c, err := r.Cookie(stateCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// ClearStateCookie removes the OAuth state nonce.
func (m CookieManager) ClearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     m.Path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.Production,
		SameSite: http.SameSiteLaxMode,
	})
}
