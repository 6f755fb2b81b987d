package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/custom-gpt-portal/internal/middleware"
	"github.com/iliyamo/custom-gpt-portal/internal/model"
	"github.com/iliyamo/custom-gpt-portal/internal/queue"
	"github.com/iliyamo/custom-gpt-portal/internal/repository"
	"github.com/iliyamo/custom-gpt-portal/internal/strategy"
	"github.com/iliyamo/custom-gpt-portal/internal/utils"
)

const testCost = 4

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.AuthEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// fakeGoogle returns a canned callback result.
type fakeGoogle struct{ result strategy.Result }

func (f *fakeGoogle) Kind() strategy.Kind { return strategy.GoogleOAuth }
func (f *fakeGoogle) Initiate(c echo.Context) error {
	return c.Redirect(http.StatusFound, "https://accounts.example/consent")
}
func (f *fakeGoogle) CompleteCallback(echo.Context) strategy.Result { return f.result }

type fixture struct {
	e      *echo.Echo
	h      *AuthHandler
	users  *repository.MemoryUserRepo
	issuer *utils.TokenIssuer
	clock  *testClock
	events *recordingPublisher
	google *fakeGoogle
}

func newFixture(t *testing.T, allow RefreshAllowlist) *fixture {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	issuer, err := utils.NewTokenIssuer("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)
	issuer.WithClock(clk.now)

	users := repository.NewMemoryUserRepo()
	local, err := strategy.NewLocal(users, testCost)
	require.NoError(t, err)
	events := &recordingPublisher{}
	google := &fakeGoogle{}

	h := &AuthHandler{
		Users:       users,
		Issuer:      issuer,
		Cookies:     utils.NewCookieManager("refreshToken", false, 7*24*time.Hour),
		Local:       local,
		Google:      google,
		Allowlist:   allow,
		Events:      events,
		FrontendURL: "http://app.local",
		BcryptCost:  testCost,
		Now:         clk.now,
	}
	guard := middleware.NewGuard(issuer, users, "accessToken")

	e := echo.New()
	e.Validator = NewValidator()
	g := e.Group("/api/auth")
	g.POST("/signup", h.Signup)
	g.POST("/login", h.Login)
	g.POST("/logout", h.Logout)
	g.POST("/refresh", h.Refresh)
	g.GET("/me", h.Me, guard.RequireAuth)
	g.PUT("/profile", h.UpdateProfile, guard.RequireAuth)
	g.PUT("/password", h.ChangePassword, guard.RequireAuth)
	g.GET("/google", h.GoogleStart)
	g.GET("/google/callback", h.GoogleCallback)

	return &fixture{e: e, h: h, users: users, issuer: issuer, clock: clk, events: events, google: google}
}

type response struct {
	*httptest.ResponseRecorder
	body map[string]any
}

func (r response) cookie(name string) *http.Cookie {
	for _, c := range r.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (f *fixture) do(method, path, body string, mods ...func(*http.Request)) response {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, m := range mods {
		m(req)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	out := response{ResponseRecorder: rec}
	_ = json.Unmarshal(rec.Body.Bytes(), &out.body)
	return out
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func withBearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func (f *fixture) signup(t *testing.T, name, email, password string) {
	t.Helper()
	res := f.do(http.MethodPost, "/api/auth/signup",
		`{"name":"`+name+`","email":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
}

func (f *fixture) login(t *testing.T, email, password string) (string, *http.Cookie) {
	t.Helper()
	res := f.do(http.MethodPost, "/api/auth/login", `{"email":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	ck := res.cookie("refreshToken")
	require.NotNil(t, ck)
	return res.body["accessToken"].(string), ck
}

func TestSignupThenLogin(t *testing.T) {
	f := newFixture(t, nil)

	res := f.do(http.MethodPost, "/api/auth/signup", `{"name":"Alice","email":"alice@x.com","password":"secret1"}`)
	require.Equal(t, http.StatusCreated, res.Code)
	assert.Equal(t, true, res.body["success"])
	assert.Equal(t, msgRegistered, res.body["message"])
	assert.Nil(t, res.cookie("refreshToken"), "signup does not log in")

	stored, err := f.users.GetByEmail(context.Background(), "alice@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", stored.PasswordHash)
	assert.True(t, utils.VerifyPassword(stored.PasswordHash, "secret1"))
	assert.Equal(t, model.RoleEmployee, stored.Role)

	res = f.do(http.MethodPost, "/api/auth/login", `{"email":"alice@x.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.NotEmpty(t, res.body["accessToken"])
	user := res.body["user"].(map[string]any)
	assert.Equal(t, "employee", user["role"])
	assert.Equal(t, "alice@x.com", user["email"])
	assert.NotContains(t, res.Body.String(), "password")
	assert.NotNil(t, user["lastActive"])

	ck := res.cookie("refreshToken")
	require.NotNil(t, ck)
	assert.True(t, ck.HttpOnly)
	assert.Equal(t, "/", ck.Path)

	assert.Equal(t, []string{queue.EventSignedUp, queue.EventLoggedIn}, f.events.types())
}

func TestSignupValidation(t *testing.T) {
	f := newFixture(t, nil)
	f.signup(t, "Alice", "alice@x.com", "secret1")

	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{name: "missing name", body: `{"email":"b@x.com","password":"secret1"}`, status: 400, msg: msgMissingSignup},
		{name: "blank name", body: `{"name":"  ","email":"b@x.com","password":"secret1"}`, status: 400, msg: msgMissingSignup},
		{name: "missing password", body: `{"name":"B","email":"b@x.com"}`, status: 400, msg: msgMissingSignup},
		{name: "short password", body: `{"name":"B","email":"b@x.com","password":"12345"}`, status: 400, msg: msgShortPassword},
		{name: "bad email", body: `{"name":"B","email":"nope","password":"secret1"}`, status: 400, msg: msgInvalidEmail},
		{name: "malformed json", body: `{"name":`, status: 400, msg: msgMissingSignup},
		{name: "duplicate", body: `{"name":"A2","email":"alice@x.com","password":"secret2"}`, status: 409, msg: msgUserExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.do(http.MethodPost, "/api/auth/signup", tt.body)
			assert.Equal(t, tt.status, res.Code)
			assert.Equal(t, tt.msg, res.body["message"])
			assert.Equal(t, false, res.body["success"])
		})
	}

	res := f.do(http.MethodPost, "/api/auth/signup", `{"name":"Six","email":"six@x.com","password":"123456"}`)
	assert.Equal(t, http.StatusCreated, res.Code, "six characters is enough")
}

func TestLogin_NoEnumerationOracle(t *testing.T) {
	f := newFixture(t, nil)
	f.signup(t, "Alice", "alice@x.com", "secret1")

	wrongPw := f.do(http.MethodPost, "/api/auth/login", `{"email":"alice@x.com","password":"wrong!"}`)
	unknown := f.do(http.MethodPost, "/api/auth/login", `{"email":"nobody@x.com","password":"secret1"}`)

	assert.Equal(t, http.StatusBadRequest, wrongPw.Code)
	assert.Equal(t, wrongPw.Code, unknown.Code)
	assert.Equal(t, wrongPw.Body.String(), unknown.Body.String())
	assert.Equal(t, strategy.MsgInvalidCredentials, wrongPw.body["message"])
	assert.Nil(t, wrongPw.cookie("refreshToken"))
}

func TestLogin_MissingFields(t *testing.T) {
	f := newFixture(t, nil)
	res := f.do(http.MethodPost, "/api/auth/login", `{"email":"alice@x.com"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, strategy.MsgMissingCredentials, res.body["message"])
}

func TestMe(t *testing.T) {
	f := newFixture(t, nil)
	f.signup(t, "Alice", "alice@x.com", "secret1")
	access, _ := f.login(t, "alice@x.com", "secret1")

	res := f.do(http.MethodGet, "/api/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, middleware.MsgLoginRequired, res.body["message"])

	f.clock.advance(time.Minute)
	res = f.do(http.MethodGet, "/api/auth/me", "", withBearer(access))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "Alice", res.body["name"])
	assert.NotContains(t, res.Body.String(), "password")

	stored, err := f.users.GetByEmail(context.Background(), "alice@x.com")
	require.NoError(t, err)
	require.NotNil(t, stored.LastActive)
	assert.Equal(t, f.clock.now(), *stored.LastActive)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, nil)
	f.signup(t, "Alice", "alice@x.com", "secret1")
	_, ck := f.login(t, "alice@x.com", "secret1")
	alice, err := f.users.GetByEmail(context.Background(), "alice@x.com")
	require.NoError(t, err)

	f.clock.advance(20 * time.Minute)
	res := f.do(http.MethodPost, "/api/auth/refresh", "", withCookie(ck))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Nil(t, res.cookie("refreshToken"), "refresh token is not rotated")

	claims, err := f.issuer.ParseAccessToken(res.body["accessToken"].(string))
	require.NoError(t, err)
	assert.Equal(t, alice.ID, claims.UserID)

	stored, _ := f.users.GetByID(context.Background(), alice.ID)
	assert.Equal(t, f.clock.now(), *stored.LastActive)
}

func TestRefresh_Failures(t *testing.T) {
	f := newFixture(t, nil)
	f.signup(t, "Alice", "alice@x.com", "secret1")
	_, ck := f.login(t, "alice@x.com", "secret1")

	t.Run("missing cookie", func(t *testing.T) {
		res := f.do(http.MethodPost, "/api/auth/refresh", "")
		assert.Equal(t, http.StatusUnauthorized, res.Code)
		assert.Equal(t, msgNoRefreshToken, res.body["message"])
	})

	t.Run("tampered", func(t *testing.T) {
		bad := &http.Cookie{Name: ck.Name, Value: ck.Value[:len(ck.Value)-4] + "AAAA"}
		res := f.do(http.MethodPost, "/api/auth/refresh", "", withCookie(bad))
		assert.Equal(t, http.StatusForbidden, res.Code)
		assert.Equal(t, msgBadRefreshToken, res.body["message"])
		cleared := res.cookie("refreshToken")
		require.NotNil(t, cleared)
		assert.Empty(t, cleared.Value)
		assert.True(t, cleared.Expires.Before(f.clock.now()))
	})

	t.Run("access token in refresh cookie", func(t *testing.T) {
		access, err := f.issuer.IssueAccessToken("someone")
		require.NoError(t, err)
		res := f.do(http.MethodPost, "/api/auth/refresh", "", withCookie(&http.Cookie{Name: ck.Name, Value: access.Token}))
		assert.Equal(t, http.StatusForbidden, res.Code)
	})

	t.Run("user gone", func(t *testing.T) {
		ghost, err := f.issuer.IssueRefreshToken("ghost-id")
		require.NoError(t, err)
		res := f.do(http.MethodPost, "/api/auth/refresh", "", withCookie(&http.Cookie{Name: ck.Name, Value: ghost.Token}))
		assert.Equal(t, http.StatusUnauthorized, res.Code)
		assert.Equal(t, msgUserNotFound, res.body["message"])
	})

	t.Run("expired", func(t *testing.T) {
		f.clock.advance(7*24*time.Hour + time.Second)
		res := f.do(http.MethodPost, "/api/auth/refresh", "", withCookie(ck))
		assert.Equal(t, http.StatusForbidden, res.Code)
		cleared := res.cookie("refreshToken")
		require.NotNil(t, cleared)
		assert.Less(t, cleared.MaxAge, 0)
	})
}

func TestLogout_AlwaysClearsCookie(t *testing.T) {
	f := newFixture(t, nil)

	res := f.do(http.MethodPost, "/api/auth/logout", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, msgLoggedOut, res.body["message"])
	cleared := res.cookie("refreshToken")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.True(t, cleared.Expires.Before(time.Now()))
}

func newAllowlist(t *testing.T) *repository.TokenRepo {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return repository.NewTokenRepo(rdb)
}

func TestAllowlist_LogoutRevokesRefreshToken(t *testing.T) {
	f := newFixture(t, newAllowlist(t))
	f.signup(t, "Alice", "alice@x.com", "secret1")
	_, ck := f.login(t, "alice@x.com", "secret1")

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/auth/refresh", "", withCookie(ck)).Code)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/auth/logout", "", withCookie(ck)).Code)

	// a stolen copy of the cookie no longer works
	res := f.do(http.MethodPost, "/api/auth/refresh", "", withCookie(ck))
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Contains(t, f.events.types(), queue.EventLoggedOut)
}

func TestAllowlist_PasswordChangeRevokesEverySession(t *testing.T) {
	f := newFixture(t, newAllowlist(t))
	f.signup(t, "Alice", "alice@x.com", "secret1")
	_, laptop := f.login(t, "alice@x.com", "secret1")
	access, phone := f.login(t, "alice@x.com", "secret1")

	res := f.do(http.MethodPut, "/api/auth/password", `{"currentPassword":"secret1","newPassword":"secret2"}`, withBearer(access))
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	for _, ck := range []*http.Cookie{laptop, phone} {
		assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/auth/refresh", "", withCookie(ck)).Code)
	}
	f.login(t, "alice@x.com", "secret2")
}

func TestChangePassword_Validation(t *testing.T) {
	f := newFixture(t, nil)
	f.signup(t, "Alice", "alice@x.com", "secret1")
	access, _ := f.login(t, "alice@x.com", "secret1")

	tests := []struct {
		body string
		msg  string
	}{
		{body: `{"newPassword":"secret2"}`, msg: msgMissingPasswords},
		{body: `{"currentPassword":"secret1","newPassword":"123"}`, msg: msgShortPassword},
		{body: `{"currentPassword":"wrong","newPassword":"secret2"}`, msg: msgWrongPassword},
	}
	for _, tt := range tests {
		res := f.do(http.MethodPut, "/api/auth/password", tt.body, withBearer(access))
		assert.Equal(t, http.StatusBadRequest, res.Code, tt.body)
		assert.Equal(t, tt.msg, res.body["message"], tt.body)
	}
}

// bcrypt rejects more than 72 bytes, so the limit is counted in bytes.
func TestPasswordByteLimit(t *testing.T) {
	f := newFixture(t, nil)
	accented := strings.Repeat("é", 40) // 40 runes, 80 bytes
	body := func(v map[string]string) string {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return string(b)
	}

	res := f.do(http.MethodPost, "/api/auth/signup", body(map[string]string{"name": "Eve", "email": "eve@x.com", "password": accented}))
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, msgLongPassword, res.body["message"])
	_, err := f.users.GetByEmail(context.Background(), "eve@x.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	res = f.do(http.MethodPost, "/api/auth/signup", body(map[string]string{"name": "Eve", "email": "eve@x.com", "password": strings.Repeat("a", 72)}))
	assert.Equal(t, http.StatusCreated, res.Code, "72 bytes fits")

	f.signup(t, "Alice", "alice@x.com", "secret1")
	access, _ := f.login(t, "alice@x.com", "secret1")
	res = f.do(http.MethodPut, "/api/auth/password", body(map[string]string{"currentPassword": "secret1", "newPassword": accented}), withBearer(access))
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, msgLongPassword, res.body["message"])
	f.login(t, "alice@x.com", "secret1") // unchanged
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t, nil)
	f.signup(t, "Alice", "alice@x.com", "secret1")
	access, _ := f.login(t, "alice@x.com", "secret1")

	res := f.do(http.MethodPut, "/api/auth/profile", `{"name":"Alice Liddell"}`, withBearer(access))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "Alice Liddell", res.body["name"])

	res = f.do(http.MethodPut, "/api/auth/profile", `{}`, withBearer(access))
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, msgMissingProfile, res.body["message"])

	res = f.do(http.MethodPut, "/api/auth/profile", `{"picture":"not a url"}`, withBearer(access))
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestGoogleCallback_RedirectsWithToken(t *testing.T) {
	f := newFixture(t, nil)
	u := model.User{Name: "Carol", Email: "carol@x.com", Role: model.RoleEmployee, Provider: model.ProviderGoogle, Picture: "https://pic"}
	require.NoError(t, f.users.Create(context.Background(), &u))
	f.google.result = strategy.Result{Kind: strategy.GoogleOAuth, User: &u}

	res := f.do(http.MethodGet, "/api/auth/google/callback?code=x&state=y", "")
	require.Equal(t, http.StatusFound, res.Code)
	loc, err := url.Parse(res.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.local", loc.Host)
	assert.Equal(t, "/auth/callback", loc.Path)

	claims, err := f.issuer.ParseAccessToken(loc.Query().Get("accessToken"))
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)

	var summary model.Summary
	require.NoError(t, json.Unmarshal([]byte(loc.Query().Get("user")), &summary))
	assert.Equal(t, "carol@x.com", summary.Email)
	assert.Equal(t, model.RoleEmployee, summary.Role)

	require.NotNil(t, res.cookie("refreshToken"))
	stored, _ := f.users.GetByID(context.Background(), u.ID)
	assert.NotNil(t, stored.LastActive)
}

func TestGoogleCallback_FailureRedirectsToLogin(t *testing.T) {
	f := newFixture(t, nil)
	f.google.result = strategy.Result{Kind: strategy.GoogleOAuth, Reason: strategy.ReasonInvalidState}

	res := f.do(http.MethodGet, "/api/auth/google/callback?error=access_denied", "")
	require.Equal(t, http.StatusFound, res.Code)
	assert.Equal(t, "http://app.local/login?error=invalid_state", res.Header().Get("Location"))
	assert.Nil(t, res.cookie("refreshToken"))
}

func TestGoogleStart(t *testing.T) {
	f := newFixture(t, nil)
	res := f.do(http.MethodGet, "/api/auth/google", "")
	assert.Equal(t, http.StatusFound, res.Code)
	assert.Equal(t, "https://accounts.example/consent", res.Header().Get("Location"))
}
