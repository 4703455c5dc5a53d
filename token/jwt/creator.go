// Package jwt issues and verifies HS256 session tokens. It backs the in-process auth service
// used by tests and the sessionctl demo mode.
package jwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/jrsteele09/go-session-client/token"
	"github.com/pkg/errors"
)

const (
	DefaultAccessTokenExpiry  = 15 * time.Minute
	DefaultRefreshTokenExpiry = 7 * 24 * time.Hour
)

// Creator handles token creation and verification with one shared secret.
type Creator struct {
	secret             []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	nowFunc            func() time.Time
}

type CreatorOption func(*Creator)

func WithTokenExpiry(accessTokenExpiry, refreshTokenExpiry time.Duration) CreatorOption {
	return func(c *Creator) {
		c.accessTokenExpiry = accessTokenExpiry
		c.refreshTokenExpiry = refreshTokenExpiry
	}
}

func WithNowFunc(now func() time.Time) CreatorOption {
	return func(c *Creator) {
		c.nowFunc = now
	}
}

// NewCreator creates a Creator signing with secret.
func NewCreator(secret []byte, options ...CreatorOption) (*Creator, error) {
	if len(secret) == 0 {
		return nil, errors.New("[NewCreator] secret is required")
	}
	c := &Creator{
		secret:             secret,
		accessTokenExpiry:  DefaultAccessTokenExpiry,
		refreshTokenExpiry: DefaultRefreshTokenExpiry,
		nowFunc:            time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// CreateAccessToken issues a short-lived access token for user.
func (c *Creator) CreateAccessToken(user sessionmodel.SessionUser) (string, error) {
	signed, _, err := c.create(user, c.accessTokenExpiry)
	return signed, err
}

// CreateRefreshToken issues a refresh token for user and returns it with its unique ID, which
// the issuer stores so the token can be revoked.
func (c *Creator) CreateRefreshToken(user sessionmodel.SessionUser) (signed string, id string, err error) {
	return c.create(user, c.refreshTokenExpiry)
}

func (c *Creator) create(user sessionmodel.SessionUser, expiry time.Duration) (string, string, error) {
	now := c.nowFunc()
	id := uuid.New().String()
	claims := &token.Claims{
		UserID:   user.UserID,
		Username: user.Username,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        id,
			Subject:   user.UserID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(expiry)),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return signed, id, nil
}
