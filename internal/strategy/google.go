package strategy

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/iliyamo/custom-gpt-portal/internal/model"
	"github.com/iliyamo/custom-gpt-portal/internal/repository"
	"github.com/iliyamo/custom-gpt-portal/internal/utils"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// GoogleOptions configures the Google strategy. Endpoint, UserInfoURL and
// HTTPClient default to Google's production values.
type GoogleOptions struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	BcryptCost   int

	Endpoint    oauth2.Endpoint
	UserInfoURL string
	HTTPClient  *http.Client
}

// Google signs users in with Google OAuth 2.0 and finds or creates the
// matching account by verified email.
type Google struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	cookies     utils.CookieManager
	users       repository.UserStore
	bcryptCost  int
}

func NewGoogle(opts GoogleOptions, users repository.UserStore, cookies utils.CookieManager) *Google {
	endpoint := opts.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = google.Endpoint
	}
	info := opts.UserInfoURL
	if info == "" {
		info = googleUserInfoURL
	}
	return &Google{
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.CallbackURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "profile", "email"},
		},
		userInfoURL: info,
		httpClient:  opts.HTTPClient,
		cookies:     cookies,
		users:       users,
		bcryptCost:  opts.BcryptCost,
	}
}

func (g *Google) Kind() Kind { return GoogleOAuth }

// Initiate stores a fresh state nonce and redirects to the consent screen.
func (g *Google) Initiate(c echo.Context) error {
	state := uuid.NewString()
	g.cookies.SetStateCookie(c.Response(), state)
	url := g.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("prompt", "select_account"))
	return c.Redirect(http.StatusFound, url)
}

type googleProfile struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// CompleteCallback validates the state, exchanges the code, reads the
// profile and resolves the portal account.
func (g *Google) CompleteCallback(c echo.Context) Result {
	req := c.Request()
	stored := g.cookies.StateFromRequest(req)
	g.cookies.ClearStateCookie(c.Response())

	if e := c.QueryParam("error"); e != "" {
		return failure(GoogleOAuth, ReasonOAuthFailed, "", fmt.Errorf("provider error: %s", e))
	}
	state := c.QueryParam("state")
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(state)) != 1 {
		return failure(GoogleOAuth, ReasonInvalidState, "", nil)
	}
	code := c.QueryParam("code")
	if code == "" {
		return failure(GoogleOAuth, ReasonOAuthFailed, "", errors.New("missing authorization code"))
	}

	ctx := req.Context()
	if g.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	}
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return failure(GoogleOAuth, ReasonOAuthFailed, "", fmt.Errorf("exchange code: %w", err))
	}
	profile, err := g.fetchProfile(ctx, tok)
	if err != nil {
		return failure(GoogleOAuth, ReasonOAuthFailed, "", err)
	}

	id := &Identity{
		Provider: model.ProviderGoogle,
		Subject:  profile.Sub,
		Email:    strings.TrimSpace(profile.Email),
		Name:     strings.TrimSpace(profile.Name),
		Picture:  profile.Picture,
	}
	if id.Email == "" || id.Name == "" || !profile.EmailVerified {
		return failure(GoogleOAuth, ReasonMissingProfile, "", nil)
	}

	u, err := g.findOrCreate(ctx, id)
	if err != nil {
		return failure(GoogleOAuth, ReasonNoUser, "", err)
	}
	return success(GoogleOAuth, u, id)
}

func (g *Google) fetchProfile(ctx context.Context, tok *oauth2.Token) (googleProfile, error) {
	var p googleProfile
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return p, err
	}
	resp, err := g.oauth.Client(ctx, tok).Do(hreq)
	if err != nil {
		return p, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return p, fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return p, fmt.Errorf("decode userinfo: %w", err)
	}
	return p, nil
}

func (g *Google) findOrCreate(ctx context.Context, id *Identity) (model.User, error) {
	u, err := g.users.GetByEmail(ctx, id.Email)
	switch {
	case err == nil:
		if u.Picture == "" && id.Picture != "" {
			return g.users.UpdateProfile(ctx, u.ID, "", id.Picture)
		}
		return u, nil
	case !errors.Is(err, repository.ErrNotFound):
		return model.User{}, err
	}

	placeholder, err := utils.RandomPassword(24)
	if err != nil {
		return model.User{}, err
	}
	hash, err := utils.HashPassword(placeholder, g.bcryptCost)
	if err != nil {
		return model.User{}, err
	}
	u = model.User{
		Name:         id.Name,
		Email:        id.Email,
		PasswordHash: hash,
		Role:         model.RoleEmployee,
		Picture:      id.Picture,
		Provider:     model.ProviderGoogle,
	}
	err = g.users.Create(ctx, &u)
	if errors.Is(err, repository.ErrEmailExists) {
		// lost a race with a concurrent first login
		return g.users.GetByEmail(ctx, id.Email)
	}
	return u, err
}
