package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// TokenStore holds the current access token between requests. An empty
// token with a nil error means nothing is stored.
type TokenStore interface {
	Get() (string, error)
	Set(token string) error
	Remove() error
}

// cookieKeeper is implemented by stores that can also keep the refresh
// cookie, so a CLI session survives process restarts.
type cookieKeeper interface {
	SaveCookies([]*http.Cookie) error
	LoadCookies() ([]*http.Cookie, error)
}

// MemoryStore keeps the token for the lifetime of the process.
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemoryStore) Set(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove() error { return s.Set("") }

// sessionFile is the on-disk layout of a FileStore.
type sessionFile struct {
	AccessToken string            `json:"accessToken,omitempty"`
	Cookies     map[string]string `json:"cookies,omitempty"`
}

// FileStore persists the token, and the refresh cookie, as a JSON document
// readable only by the owner.
type FileStore struct {
	Path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

func (s *FileStore) load() (sessionFile, error) {
	var sess sessionFile
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return sess, nil
	}
	if err != nil {
		return sess, fmt.Errorf("read session: %w", err)
	}
	if len(b) == 0 {
		return sess, nil
	}
	if err := json.Unmarshal(b, &sess); err != nil {
		return sess, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

func (s *FileStore) save(sess sessionFile) error {
	if sess.AccessToken == "" && len(sess.Cookies) == 0 {
		if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove session: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (s *FileStore) update(fn func(*sessionFile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.load()
	if err != nil {
		return err
	}
	fn(&sess)
	return s.save(sess)
}

func (s *FileStore) Get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.load()
	return sess.AccessToken, err
}

func (s *FileStore) Set(token string) error {
	return s.update(func(sess *sessionFile) { sess.AccessToken = token })
}

func (s *FileStore) Remove() error {
	return s.update(func(sess *sessionFile) { sess.AccessToken = "" })
}

func (s *FileStore) SaveCookies(cookies []*http.Cookie) error {
	return s.update(func(sess *sessionFile) {
		sess.Cookies = make(map[string]string, len(cookies))
		for _, c := range cookies {
			sess.Cookies[c.Name] = c.Value
		}
	})
}

func (s *FileStore) LoadCookies() ([]*http.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*http.Cookie, 0, len(sess.Cookies))
	for name, value := range sess.Cookies {
		out = append(out, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	return out, nil
}

// FallbackStore writes to Primary and falls back to Fallback when the
// primary is unavailable. Remove clears both.
type FallbackStore struct {
	Primary  TokenStore
	Fallback TokenStore
}

func NewFallbackStore(primary, fallback TokenStore) *FallbackStore {
	return &FallbackStore{Primary: primary, Fallback: fallback}
}

func (s *FallbackStore) Get() (string, error) {
	if tok, err := s.Primary.Get(); err == nil && tok != "" {
		return tok, nil
	}
	return s.Fallback.Get()
}

func (s *FallbackStore) Set(token string) error {
	if err := s.Primary.Set(token); err != nil {
		return s.Fallback.Set(token)
	}
	// a stale fallback value must not shadow a later primary failure
	_ = s.Fallback.Remove()
	return nil
}

func (s *FallbackStore) Remove() error {
	return errors.Join(s.Primary.Remove(), s.Fallback.Remove())
}

func (s *FallbackStore) SaveCookies(cookies []*http.Cookie) error {
	if k, ok := s.Primary.(cookieKeeper); ok {
		return k.SaveCookies(cookies)
	}
	return nil
}

func (s *FallbackStore) LoadCookies() ([]*http.Cookie, error) {
	if k, ok := s.Primary.(cookieKeeper); ok {
		return k.LoadCookies()
	}
	return nil, nil
}

var (
	_ cookieKeeper = (*FileStore)(nil)
	_ cookieKeeper = (*FallbackStore)(nil)
)
