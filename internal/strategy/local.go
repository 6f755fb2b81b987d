package strategy

import (
	"context"
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/custom-gpt-portal/internal/repository"
	"github.com/iliyamo/custom-gpt-portal/internal/utils"
)

// Messages shown verbatim to clients.
const (
	MsgMissingCredentials = "Please provide email and password"
	MsgInvalidCredentials = "Invalid email or password"
)

// Local checks an email and password against the credential store.
type Local struct {
	users repository.UserStore
	// dummyHash is compared when the email is unknown so both failure paths
	// spend the same bcrypt time.
	dummyHash string
}

func NewLocal(users repository.UserStore, bcryptCost int) (*Local, error) {
	dummy, err := utils.HashPassword("portal-dummy-password", bcryptCost)
	if err != nil {
		return nil, err
	}
	return &Local{users: users, dummyHash: dummy}, nil
}

func (l *Local) Kind() Kind { return LocalCredentials }

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CompleteCallback reads {email, password} from the request body.
func (l *Local) CompleteCallback(c echo.Context) Result {
	var req credentials
	if err := c.Bind(&req); err != nil {
		return failure(LocalCredentials, ReasonInvalidRequest, MsgMissingCredentials, err)
	}
	return l.Authenticate(c.Request().Context(), req.Email, req.Password)
}

// Authenticate never tells apart an unknown email from a wrong password.
func (l *Local) Authenticate(ctx context.Context, email, password string) Result {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return failure(LocalCredentials, ReasonInvalidRequest, MsgMissingCredentials, nil)
	}

	u, err := l.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		utils.VerifyPassword(l.dummyHash, password)
		return failure(LocalCredentials, ReasonInvalidCredentials, MsgInvalidCredentials, nil)
	}
	if err != nil {
		return failure(LocalCredentials, ReasonInternal, "Server error during login", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return failure(LocalCredentials, ReasonInvalidCredentials, MsgInvalidCredentials, nil)
	}
	return success(LocalCredentials, u, nil)
}
