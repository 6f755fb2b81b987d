package utils // package utils provides token, cookie and password helpers shared by handlers and middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	// ErrMissingSecret means the issuer was built without one of its signing keys.
	ErrMissingSecret = errors.New("jwt signing secret is not configured")
	// ErrSharedSecret means access and refresh tokens would be signed with the same key.
	ErrSharedSecret = errors.New("access and refresh secrets must differ")
	// ErrWrongTokenType is returned when a refresh token is presented as an access token or vice versa.
	ErrWrongTokenType = errors.New("unexpected token type")
)

// Claims is the payload of both token kinds. UserID duplicates the subject so
// clients decoding the token do not need to know the registered claim names.
type Claims struct {
	UserID string `json:"userId"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// IssuedToken is a signed JWT together with the metadata callers need for
// transport (cookie max-age) and revocation bookkeeping (jti).
type IssuedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// TokenIssuer signs access tokens with one secret and refresh tokens with
// another. Both token kinds are HS256 and carry only the user id.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenIssuer validates the secrets and returns an issuer. A missing or
// shared secret is a configuration error and is meant to stop the process.
func NewTokenIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, ErrMissingSecret
	}
	if accessSecret == refreshSecret {
		return nil, ErrSharedSecret
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock replaces the time source used for issuing and verifying tokens.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	i.now = now
	return i
}

// AccessTTL returns the lifetime of access tokens.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL returns the lifetime of refresh tokens.
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssueAccessToken signs {userId} with the access secret.
func (i *TokenIssuer) IssueAccessToken(userID string) (IssuedToken, error) {
	return i.issue(userID, tokenTypeAccess, i.accessTTL, i.accessSecret)
}

// IssueRefreshToken signs {userId} with the refresh secret. The returned ID is
// the token's jti, used by the optional allow-list.
func (i *TokenIssuer) IssueRefreshToken(userID string) (IssuedToken, error) {
	return i.issue(userID, tokenTypeRefresh, i.refreshTTL, i.refreshSecret)
}

func (i *TokenIssuer) issue(userID, typ string, ttl time.Duration, secret []byte) (IssuedToken, error) {
	if len(secret) == 0 {
		return IssuedToken{}, ErrMissingSecret
	}
	now := i.now()
	exp := now.Add(ttl)
	jti := uuid.NewString()
	claims := Claims{
		UserID: userID,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return IssuedToken{Token: signed, ID: jti, ExpiresAt: exp}, nil
}

// ParseAccessToken verifies signature and expiry against the access secret.
// Expired tokens yield an error matching jwt.ErrTokenExpired.
func (i *TokenIssuer) ParseAccessToken(raw string) (*Claims, error) {
	return i.parse(raw, tokenTypeAccess, i.accessSecret)
}

// ParseRefreshToken verifies signature and expiry against the refresh secret.
func (i *TokenIssuer) ParseRefreshToken(raw string) (*Claims, error) {
	return i.parse(raw, tokenTypeRefresh, i.refreshSecret)
}

func (i *TokenIssuer) parse(raw, typ string, secret []byte) (*Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if claims.Type != typ || claims.UserID == "" {
		return nil, ErrWrongTokenType
	}
	return &claims, nil
}
