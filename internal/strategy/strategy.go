// Package strategy authenticates a caller by one of the supported identity
// sources and reports the outcome as a Result value instead of callbacks.
// Routes pick their strategy when they are registered.
package strategy

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/custom-gpt-portal/internal/model"
)

// Kind tags a strategy implementation.
type Kind int

const (
	LocalCredentials Kind = iota + 1
	GoogleOAuth
)

func (k Kind) String() string {
	switch k {
	case LocalCredentials:
		return "local"
	case GoogleOAuth:
		return "google"
	}
	return "unknown"
}

// Reason classifies a failed authentication. For OAuth it is also the error
// code placed in the login redirect, so values must stay URL-safe.
type Reason string

const (
	ReasonInvalidRequest     Reason = "invalid_request"
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonOAuthFailed        Reason = "oauth_failed"
	ReasonInvalidState       Reason = "invalid_state"
	ReasonMissingProfile     Reason = "missing_profile"
	ReasonNoUser             Reason = "no_user"
	ReasonInternal           Reason = "internal"
)

// Identity is what the provider asserted about the caller.
type Identity struct {
	Provider model.Provider
	Subject  string
	Email    string
	Name     string
	Picture  string
}

// Result is either a resolved user (Reason empty) or a failure reason with a
// client-safe Message. Err keeps the underlying cause for logs only.
type Result struct {
	Kind     Kind
	User     *model.User
	Identity *Identity
	Reason   Reason
	Message  string
	Err      error
}

// OK reports whether the caller was authenticated.
func (r Result) OK() bool { return r.Reason == "" && r.User != nil }

func success(k Kind, u model.User, id *Identity) Result {
	return Result{Kind: k, User: &u, Identity: id}
}

func failure(k Kind, reason Reason, msg string, err error) Result {
	return Result{Kind: k, Reason: reason, Message: msg, Err: err}
}

// Strategy completes an authentication attempt from the incoming request.
type Strategy interface {
	Kind() Kind
	CompleteCallback(c echo.Context) Result
}

// Redirector is a Strategy whose flow starts by sending the browser to an
// external provider.
type Redirector interface {
	Strategy
	Initiate(c echo.Context) error
}
