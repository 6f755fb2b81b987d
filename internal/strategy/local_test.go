package strategy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/custom-gpt-portal/internal/model"
	"github.com/iliyamo/custom-gpt-portal/internal/repository"
	"github.com/iliyamo/custom-gpt-portal/internal/utils"
)

const testCost = 4

func seedUser(t *testing.T, repo *repository.MemoryUserRepo, email, password string) model.User {
	t.Helper()
	hash, err := utils.HashPassword(password, testCost)
	require.NoError(t, err)
	u := model.User{Name: "Alice", Email: email, PasswordHash: hash, Role: model.RoleEmployee, Provider: model.ProviderLocal}
	require.NoError(t, repo.Create(context.Background(), &u))
	return u
}

func TestLocal_Authenticate(t *testing.T) {
	t.Parallel()
	repo := repository.NewMemoryUserRepo()
	alice := seedUser(t, repo, "alice@x.com", "secret1")
	local, err := NewLocal(repo, testCost)
	require.NoError(t, err)
	assert.Equal(t, LocalCredentials, local.Kind())

	ok := local.Authenticate(context.Background(), " alice@x.com ", "secret1")
	require.True(t, ok.OK())
	assert.Equal(t, alice.ID, ok.User.ID)

	wrongPw := local.Authenticate(context.Background(), "alice@x.com", "nope")
	unknown := local.Authenticate(context.Background(), "bob@x.com", "secret1")
	assert.False(t, wrongPw.OK())
	assert.Equal(t, ReasonInvalidCredentials, wrongPw.Reason)
	assert.Equal(t, wrongPw.Reason, unknown.Reason)
	assert.Equal(t, wrongPw.Message, unknown.Message)

	missing := local.Authenticate(context.Background(), "", "x")
	assert.Equal(t, ReasonInvalidRequest, missing.Reason)
	assert.Equal(t, MsgMissingCredentials, missing.Message)
}

func TestLocal_CompleteCallbackBindsBody(t *testing.T) {
	t.Parallel()
	repo := repository.NewMemoryUserRepo()
	seedUser(t, repo, "alice@x.com", "secret1")
	local, err := NewLocal(repo, testCost)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"alice@x.com","password":"secret1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res := local.CompleteCallback(e.NewContext(req, httptest.NewRecorder()))
	assert.True(t, res.OK())

	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res = local.CompleteCallback(e.NewContext(req, httptest.NewRecorder()))
	assert.Equal(t, ReasonInvalidRequest, res.Reason)
}
