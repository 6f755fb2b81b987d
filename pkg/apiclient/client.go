// Package apiclient is a Go client for the portal's auth API. It keeps the
// access token in a TokenStore, sends the refresh cookie through a cookie
// jar and transparently refreshes an expired access token once per request.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds every request made by a Client.
const DefaultTimeout = 15 * time.Second

// User is the sanitized account returned by login and me.
type User struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	Picture    string     `json:"picture,omitempty"`
	Provider   string     `json:"provider"`
	LastActive *time.Time `json:"lastActive"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// APIError is a non-2xx answer carrying the server's message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apiclient: %d %s", e.Status, e.Message)
}

// Client talks to one portal backend.
type Client struct {
	base    *url.URL
	store   TokenStore
	http    *http.Client
	raw     *http.Client // no interceptor; used for the refresh call
	session *session
	kept    *keptJar // nil unless the store keeps cookies
}

type Option func(*options)

type options struct {
	store     TokenStore
	timeout   time.Duration
	transport http.RoundTripper
}

func WithStore(s TokenStore) Option { return func(o *options) { o.store = s } }

func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

func WithTransport(rt http.RoundTripper) Option { return func(o *options) { o.transport = rt } }

// New returns a client for baseURL. A token already held by the store, and
// a refresh cookie when the store keeps one, are picked up.
func New(baseURL string, opts ...Option) (*Client, error) {
	o := options{timeout: DefaultTimeout, transport: http.DefaultTransport}
	for _, fn := range opts {
		fn(&o)
	}
	if o.store == nil {
		o.store = NewMemoryStore()
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	var (
		jar  http.CookieJar = inner
		kept *keptJar
	)
	if k, ok := o.store.(cookieKeeper); ok {
		cookies, err := k.LoadCookies()
		if err != nil {
			return nil, err
		}
		root := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}
		inner.SetCookies(root, cookies)
		kept = &keptJar{Jar: inner, keeper: k, root: root}
		jar = kept
	}

	tok, err := o.store.Get()
	if err != nil {
		return nil, err
	}

	c := &Client{base: base, store: o.store, kept: kept}
	c.session = &session{token: tok, refresh: c.refresh}
	c.raw = &http.Client{Jar: jar, Timeout: o.timeout, Transport: o.transport}
	c.http = &http.Client{
		Jar:       jar,
		Timeout:   o.timeout,
		Transport: &authTransport{base: o.transport, session: c.session},
	}
	return c, nil
}

// keptJar writes the cookies for the API origin back to the store whenever
// the server changes them. http.CookieJar cannot return an error, so a failed
// write is held until the request that caused it completes.
type keptJar struct {
	*cookiejar.Jar
	keeper cookieKeeper
	root   *url.URL

	mu  sync.Mutex
	err error
}

func (j *keptJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.Jar.SetCookies(u, cookies)
	if err := j.keeper.SaveCookies(j.Jar.Cookies(j.root)); err != nil {
		j.mu.Lock()
		j.err = errors.Join(j.err, err)
		j.mu.Unlock()
	}
}

// takeErr returns and forgets the pending save error.
func (j *keptJar) takeErr() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	err := j.err
	j.err = nil
	return err
}

func (c *Client) cookieErr() error {
	if c.kept == nil {
		return nil
	}
	if err := c.kept.takeErr(); err != nil {
		return fmt.Errorf("save session cookies: %w", err)
	}
	return nil
}

// SetAccessToken stores token and sends it on every following request.
func (c *Client) SetAccessToken(token string) error {
	c.session.set(token)
	return c.store.Set(token)
}

// AccessToken returns the token currently sent with requests.
func (c *Client) AccessToken() string {
	tok, _ := c.session.snapshot()
	return tok
}

// ClearAccessToken forgets the token in memory and in the store.
func (c *Client) ClearAccessToken() error {
	c.session.set("")
	return c.store.Remove()
}

// Do sends req through the interceptor. A relative URL is resolved against
// the base URL.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if !req.URL.IsAbs() {
		u := *c.base
		u.Path = path.Join("/", c.base.Path, req.URL.Path)
		u.RawQuery = req.URL.RawQuery
		req.URL = &u
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := c.cookieErr(); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func (c *Client) Signup(ctx context.Context, name, email, password string) error {
	body := map[string]string{"name": name, "email": email, "password": password}
	return c.call(ctx, c.http, http.MethodPost, "/api/auth/signup", body, nil)
}

// Login authenticates with email and password and keeps the returned token.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var out struct {
		AccessToken string `json:"accessToken"`
		User        User   `json:"user"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.call(ctx, c.raw, http.MethodPost, "/api/auth/login", body, &out); err != nil {
		return nil, err
	}
	if err := c.SetAccessToken(out.AccessToken); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Logout ends the server session and always forgets the local token.
func (c *Client) Logout(ctx context.Context) error {
	err := c.call(ctx, c.raw, http.MethodPost, "/api/auth/logout", nil, nil)
	return errors.Join(err, c.ClearAccessToken())
}

// Refresh forces a token refresh. Concurrent refreshes share one call.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	_, gen := c.session.snapshot()
	tok, err := c.session.renew(ctx, gen)
	if err != nil {
		return "", err
	}
	if err := c.cookieErr(); err != nil {
		return "", err
	}
	return tok, nil
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, c.http, http.MethodGet, "/api/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// refresh is the only caller of the refresh endpoint. It bypasses the
// interceptor so a failing refresh is never itself refreshed.
func (c *Client) refresh(ctx context.Context) (string, error) {
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	// A failed cookie write stays pending and surfaces on the caller's request.
	err := c.send(ctx, c.raw, http.MethodPost, "/api/auth/refresh", nil, &out)
	if err == nil && out.AccessToken == "" {
		err = errors.New("empty access token")
	}
	if err != nil {
		_ = c.store.Remove()
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	if err := c.store.Set(out.AccessToken); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func (c *Client) call(ctx context.Context, hc *http.Client, method, endpoint string, in, out any) error {
	if err := c.send(ctx, hc, method, endpoint, in, out); err != nil {
		return err
	}
	return c.cookieErr()
}

func (c *Client) send(ctx context.Context, hc *http.Client, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Message}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
