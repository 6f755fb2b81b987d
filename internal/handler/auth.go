package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/custom-gpt-portal/internal/logging"
	"github.com/iliyamo/custom-gpt-portal/internal/middleware"
	"github.com/iliyamo/custom-gpt-portal/internal/model"
	"github.com/iliyamo/custom-gpt-portal/internal/queue"
	"github.com/iliyamo/custom-gpt-portal/internal/repository"
	"github.com/iliyamo/custom-gpt-portal/internal/service"
	"github.com/iliyamo/custom-gpt-portal/internal/strategy"
	"github.com/iliyamo/custom-gpt-portal/internal/utils"
)

// Client-facing messages.
const (
	msgMissingSignup    = "Please provide name, email and password"
	msgInvalidEmail     = "Please provide a valid email address"
	msgShortPassword    = "Password must be at least 6 characters"
	msgLongPassword     = "Password must be at most 72 characters"
	msgUserExists       = "User already exists"
	msgRegistered       = "User registered successfully"
	msgLoginFailed      = "Server error during login"
	msgLoggedOut        = "Logged out successfully"
	msgNoRefreshToken   = "Refresh token not found"
	msgBadRefreshToken  = "Invalid or expired refresh token"
	msgUserNotFound     = "User not found"
	msgMissingProfile   = "Please provide a name or picture"
	msgMissingPasswords = "Please provide current and new password"
	msgWrongPassword    = "Current password is incorrect"
	msgPasswordUpdated  = "Password updated successfully"
)

const dbTimeout = 5 * time.Second

// RefreshAllowlist makes refresh tokens revocable. A nil allow-list keeps
// refresh tokens purely stateless.
type RefreshAllowlist interface {
	Allow(ctx context.Context, userID, jti string, ttl time.Duration) error
	Check(ctx context.Context, userID, jti string) error
	Revoke(ctx context.Context, userID, jti string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Users       repository.UserStore
	Issuer      *utils.TokenIssuer
	Cookies     utils.CookieManager
	Local       strategy.Strategy
	Google      strategy.Redirector // nil when Google sign-in is not configured
	Allowlist   RefreshAllowlist
	Events      service.Publisher
	FrontendURL string
	BcryptCost  int
	Now         func() time.Time
}

func (h *AuthHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

// ----- DTOs -----

type signupReq struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,maxbytes=72"`
}

var signupRules = rules{
	"required":          msgMissingSignup,
	"email":             msgInvalidEmail,
	"password.min":      msgShortPassword,
	"password.maxbytes": msgLongPassword,
	"name.max":          "Name must be at most 120 characters",
	"email.max":         msgInvalidEmail,
}

type loginResp struct {
	AccessToken string           `json:"accessToken"`
	User        model.PublicUser `json:"user"`
}

// Signup creates a local employee account. It does not log the user in.
func (h *AuthHandler) Signup(c echo.Context) error {
	var req signupReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, msgMissingSignup)
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if err := c.Validate(&req); err != nil {
		return fail(c, http.StatusBadRequest, signupRules.message(err, msgMissingSignup))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	log := logging.FromContext(ctx).With("handler", "signup")

	if _, err := h.Users.GetByEmail(ctx, req.Email); err == nil {
		return fail(c, http.StatusConflict, msgUserExists)
	} else if !errors.Is(err, repository.ErrNotFound) {
		log.Error("lookup email failed", "error", err)
		return fail(c, http.StatusInternalServerError, msgInternal)
	}

	hash, err := utils.HashPassword(req.Password, h.BcryptCost)
	if err != nil {
		log.Error("hash password failed", "error", err)
		return fail(c, http.StatusInternalServerError, msgInternal)
	}
	u := model.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.RoleEmployee,
		Provider:     model.ProviderLocal,
	}
	if err := h.Users.Create(ctx, &u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return fail(c, http.StatusConflict, msgUserExists)
		}
		log.Error("create user failed", "error", err)
		return fail(c, http.StatusInternalServerError, msgInternal)
	}

	h.publish(ctx, queue.EventSignedUp, u)
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "message": msgRegistered})
}

// Login authenticates with the local strategy and starts a session.
func (h *AuthHandler) Login(c echo.Context) error {
	res := h.Local.CompleteCallback(c)
	log := logging.FromContext(c.Request().Context()).With("handler", "login")
	if !res.OK() {
		switch res.Reason {
		case strategy.ReasonInvalidRequest, strategy.ReasonInvalidCredentials:
			return fail(c, http.StatusBadRequest, res.Message)
		default:
			log.Error("local authentication failed", "reason", res.Reason, "error", res.Err)
			return fail(c, http.StatusInternalServerError, msgLoginFailed)
		}
	}

	access, err := h.startSession(c, res.User)
	if err != nil {
		log.Error("start session failed", "error", err)
		return fail(c, http.StatusInternalServerError, msgLoginFailed)
	}
	h.publish(c.Request().Context(), queue.EventLoggedIn, *res.User)
	return c.JSON(http.StatusOK, loginResp{AccessToken: access, User: res.User.Public()})
}

// startSession stamps lastActive, issues both tokens, records the refresh
// token when the allow-list is enabled and sets the refresh cookie.
func (h *AuthHandler) startSession(c echo.Context, u *model.User) (string, error) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	now := h.now()
	if err := h.Users.TouchLastActive(ctx, u.ID, now); err != nil {
		return "", err
	}
	u.LastActive = &now

	access, err := h.Issuer.IssueAccessToken(u.ID)
	if err != nil {
		return "", err
	}
	refresh, err := h.Issuer.IssueRefreshToken(u.ID)
	if err != nil {
		return "", err
	}
	if h.Allowlist != nil {
		if err := h.Allowlist.Allow(ctx, u.ID, refresh.ID, h.Issuer.RefreshTTL()); err != nil {
			return "", err
		}
	}
	h.Cookies.SetRefreshCookie(c.Response(), refresh.Token)
	return access.Token, nil
}

// Logout always clears the refresh cookie. With the allow-list enabled the
// presented refresh token is revoked as well.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	if ck, err := c.Cookie(h.Cookies.Name); err == nil && ck.Value != "" {
		if claims, err := h.Issuer.ParseRefreshToken(ck.Value); err == nil {
			if h.Allowlist != nil {
				if err := h.Allowlist.Revoke(ctx, claims.UserID, claims.ID); err != nil {
					logging.FromContext(ctx).Warn("revoke refresh token failed", "handler", "logout", "error", err)
				}
			}
			h.publish(ctx, queue.EventLoggedOut, model.User{ID: claims.UserID})
		}
	}
	h.Cookies.ClearRefreshCookie(c.Response())
	return c.JSON(http.StatusOK, echo.Map{"message": msgLoggedOut})
}

// Refresh mints a new access token from the refresh cookie. The refresh
// token itself is not rotated.
func (h *AuthHandler) Refresh(c echo.Context) error {
	ck, err := c.Cookie(h.Cookies.Name)
	if err != nil || ck.Value == "" {
		return fail(c, http.StatusUnauthorized, msgNoRefreshToken)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	log := logging.FromContext(ctx).With("handler", "refresh")

	claims, err := h.Issuer.ParseRefreshToken(ck.Value)
	if err != nil {
		log.Debug("refresh token rejected", "error", err)
		h.Cookies.ClearRefreshCookie(c.Response())
		return fail(c, http.StatusForbidden, msgBadRefreshToken)
	}
	if h.Allowlist != nil {
		err := h.Allowlist.Check(ctx, claims.UserID, claims.ID)
		if errors.Is(err, repository.ErrTokenRevoked) {
			h.Cookies.ClearRefreshCookie(c.Response())
			return fail(c, http.StatusForbidden, msgBadRefreshToken)
		}
		if err != nil {
			log.Error("allow-list check failed", "error", err)
			return fail(c, http.StatusInternalServerError, msgInternal)
		}
	}

	u, err := h.Users.GetByID(ctx, claims.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return fail(c, http.StatusUnauthorized, msgUserNotFound)
	}
	if err != nil {
		log.Error("load user failed", "error", err)
		return fail(c, http.StatusInternalServerError, msgInternal)
	}
	if err := h.Users.TouchLastActive(ctx, u.ID, h.now()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Warn("touch last active failed", "error", err)
	}

	access, err := h.Issuer.IssueAccessToken(u.ID)
	if err != nil {
		log.Error("issue access token failed", "error", err)
		return fail(c, http.StatusInternalServerError, msgInternal)
	}
	h.publish(ctx, queue.EventTokenRefreshed, u)
	return c.JSON(http.StatusOK, echo.Map{"accessToken": access.Token})
}

// Me returns the caller's sanitized record and stamps lastActive.
func (h *AuthHandler) Me(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return fail(c, http.StatusUnauthorized, middleware.MsgLoginRequired)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	now := h.now()
	err := h.Users.TouchLastActive(ctx, u.ID, now)
	if errors.Is(err, repository.ErrNotFound) {
		return fail(c, http.StatusNotFound, msgUserNotFound)
	}
	if err != nil {
		logging.FromContext(ctx).Error("touch last active failed", "handler", "me", "error", err)
		return fail(c, http.StatusInternalServerError, msgInternal)
	}
	u.LastActive = &now
	return c.JSON(http.StatusOK, u.Public())
}

// GoogleStart redirects the browser to Google's consent screen.
func (h *AuthHandler) GoogleStart(c echo.Context) error {
	return h.Google.Initiate(c)
}

// GoogleCallback finishes the OAuth round trip. Every outcome is a redirect
// to the frontend; failures carry only an error code.
func (h *AuthHandler) GoogleCallback(c echo.Context) error {
	log := logging.FromContext(c.Request().Context()).With("handler", "google_callback")

	res := h.Google.CompleteCallback(c)
	if !res.OK() {
		log.Warn("google sign-in failed", "reason", res.Reason, "error", res.Err)
		return h.redirectLoginError(c, res.Reason)
	}
	access, err := h.startSession(c, res.User)
	if err != nil {
		log.Error("start session failed", "error", err)
		return h.redirectLoginError(c, strategy.ReasonOAuthFailed)
	}
	summary, err := json.Marshal(res.User.Summary())
	if err != nil {
		return h.redirectLoginError(c, strategy.ReasonOAuthFailed)
	}
	h.publish(c.Request().Context(), queue.EventLoggedIn, *res.User)

	q := url.Values{}
	q.Set("accessToken", access)
	q.Set("user", string(summary))
	return c.Redirect(http.StatusFound, h.FrontendURL+"/auth/callback?"+q.Encode())
}

func (h *AuthHandler) redirectLoginError(c echo.Context, reason strategy.Reason) error {
	q := url.Values{}
	q.Set("error", string(reason))
	return c.Redirect(http.StatusFound, h.FrontendURL+"/login?"+q.Encode())
}

type profileReq struct {
	Name    string `json:"name" validate:"omitempty,max=120"`
	Picture string `json:"picture" validate:"omitempty,url,max=1024"`
}

var profileRules = rules{
	"name.max":    "Name must be at most 120 characters",
	"picture.url": "Picture must be a valid URL",
	"picture.max": "Picture must be a valid URL",
}

// UpdateProfile changes the caller's name and/or picture.
func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return fail(c, http.StatusUnauthorized, middleware.MsgLoginRequired)
	}
	var req profileReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, msgMissingProfile)
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Picture = strings.TrimSpace(req.Picture)
	if req.Name == "" && req.Picture == "" {
		return fail(c, http.StatusBadRequest, msgMissingProfile)
	}
	if err := c.Validate(&req); err != nil {
		return fail(c, http.StatusBadRequest, profileRules.message(err, msgMissingProfile))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	updated, err := h.Users.UpdateProfile(ctx, u.ID, req.Name, req.Picture)
	if errors.Is(err, repository.ErrNotFound) {
		return fail(c, http.StatusNotFound, msgUserNotFound)
	}
	if err != nil {
		logging.FromContext(ctx).Error("update profile failed", "handler", "update_profile", "error", err)
		return fail(c, http.StatusInternalServerError, msgInternal)
	}
	return c.JSON(http.StatusOK, updated.Public())
}

type passwordReq struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,maxbytes=72"`
}

var passwordRules = rules{
	"required":             msgMissingPasswords,
	"newPassword.min":      msgShortPassword,
	"newPassword.maxbytes": msgLongPassword,
}

// ChangePassword replaces the caller's password after checking the current
// one. Every allow-listed refresh token of the user is revoked.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	cur, ok := middleware.CurrentUser(c)
	if !ok {
		return fail(c, http.StatusUnauthorized, middleware.MsgLoginRequired)
	}
	var req passwordReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, msgMissingPasswords)
	}
	if err := c.Validate(&req); err != nil {
		return fail(c, http.StatusBadRequest, passwordRules.message(err, msgMissingPasswords))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	log := logging.FromContext(ctx).With("handler", "change_password")

	u, err := h.Users.GetByID(ctx, cur.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return fail(c, http.StatusNotFound, msgUserNotFound)
	}
	if err != nil {
		log.Error("load user failed", "error", err)
		return fail(c, http.StatusInternalServerError, msgInternal)
	}
	if !utils.VerifyPassword(u.PasswordHash, req.CurrentPassword) {
		return fail(c, http.StatusBadRequest, msgWrongPassword)
	}
	hash, err := utils.HashPassword(req.NewPassword, h.BcryptCost)
	if err != nil {
		log.Error("hash password failed", "error", err)
		return fail(c, http.StatusInternalServerError, msgInternal)
	}
	if err := h.Users.UpdatePassword(ctx, u.ID, hash); err != nil {
		log.Error("update password failed", "error", err)
		return fail(c, http.StatusInternalServerError, msgInternal)
	}
	if h.Allowlist != nil {
		if err := h.Allowlist.RevokeAllForUser(ctx, u.ID); err != nil {
			log.Error("revoke refresh tokens failed", "error", err)
		}
	}

	h.publish(ctx, queue.EventPasswordChanged, u)
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": msgPasswordUpdated})
}

// publish is best effort; a broker outage never fails the request.
func (h *AuthHandler) publish(ctx context.Context, typ string, u model.User) {
	if h.Events == nil {
		return
	}
	ev := queue.AuthEvent{
		Type:       typ,
		UserID:     u.ID,
		Email:      u.Email,
		Provider:   string(u.Provider),
		OccurredAt: h.now(),
	}
	// detached so a cancelled request does not drop the event
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := h.Events.Publish(pctx, ev); err != nil {
		logging.FromContext(ctx).Warn("publish auth event failed", "type", typ, "error", err)
	}
}
