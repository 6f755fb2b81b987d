package apiclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
)

// ErrSessionExpired is returned when a 401 could not be recovered by
// refreshing the access token. The stored token has been cleared; the
// caller should send the user to the login screen.
var ErrSessionExpired = errors.New("apiclient: session expired")

type refreshResult struct {
	token string
	err   error
}

// session owns the access token and the refresh state of one Client. At
// most one refresh runs at a time; requests that see a 401 meanwhile wait
// for its outcome. gen counts token changes so a request that was sent
// with an older token reuses the latest outcome instead of refreshing again.
type session struct {
	mu       sync.Mutex
	token    string
	gen      uint64
	last     refreshResult
	inFlight bool
	waiters  []chan refreshResult

	refresh func(context.Context) (string, error)
}

func (s *session) snapshot() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.gen
}

// set replaces the token outside of a refresh, e.g. after login or logout.
func (s *session) set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.gen++
	if token == "" {
		s.last = refreshResult{err: ErrSessionExpired}
	} else {
		s.last = refreshResult{token: token}
	}
}

// renew returns a token newer than the one seen at generation seen,
// refreshing if nobody else has.
func (s *session) renew(ctx context.Context, seen uint64) (string, error) {
	s.mu.Lock()
	switch {
	case s.inFlight:
		ch := make(chan refreshResult, 1)
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()
		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	case s.gen != seen:
		res := s.last
		s.mu.Unlock()
		return res.token, res.err
	}
	s.inFlight = true
	s.mu.Unlock()

	res := s.run(ctx)
	return res.token, res.err
}

func (s *session) run(ctx context.Context) (res refreshResult) {
	res = refreshResult{err: ErrSessionExpired}
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.token = res.token
		s.gen++
		s.last = res
		waiters := s.waiters
		s.waiters = nil
		s.mu.Unlock()
		for _, ch := range waiters {
			ch <- res
		}
	}()

	// one caller giving up must not fail everybody queued behind it
	tok, err := s.refresh(context.WithoutCancel(ctx))
	res = refreshResult{token: tok, err: err}
	return res
}

// authTransport stamps the bearer token on every request and recovers from
// a 401 with one refresh and one retry.
type authTransport struct {
	base    http.RoundTripper
	session *session
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, gen := t.session.snapshot()
	resp, err := t.base.RoundTrip(withBearer(req, tok))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		// body already consumed and cannot be replayed
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	fresh, err := t.session.renew(req.Context(), gen)
	if err != nil {
		return nil, err
	}
	retry := withBearer(req, fresh)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return t.base.RoundTrip(retry)
}

func withBearer(req *http.Request, token string) *http.Request {
	r := req.Clone(req.Context())
	if token == "" {
		r.Header.Del("Authorization")
	} else {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}
