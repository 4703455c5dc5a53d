// Package token inspects the access tokens handed out by the auth service. The client never
// holds the signing key, so claims are read without verification and only ever used as hints
// (expiry for oauth2 interop, user identity for display).
package token

import (
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"golang.org/x/oauth2"
)

// Claims are the claims the auth service puts in both access and refresh tokens.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwtlib.RegisteredClaims
}

// User returns the identity carried by the claims.
func (c *Claims) User() sessionmodel.SessionUser {
	return sessionmodel.SessionUser{UserID: c.UserID, Username: c.Username}
}

// Expiry returns the exp claim, or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Expired reports whether the token carries an exp claim that is not after now.
func (c *Claims) Expired(now time.Time) bool {
	exp := c.Expiry()
	return !exp.IsZero() && !exp.After(now)
}

// Inspect parses raw without verifying its signature.
func Inspect(raw string) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("[token Inspect] empty token")
	}
	claims := &Claims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("[token Inspect] %w", err)
	}
	return claims, nil
}

// OAuth2Token wraps an access token for golang.org/x/oauth2 consumers. Opaque tokens are
// returned without an expiry, which oauth2 treats as never expiring.
func OAuth2Token(access string) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if claims, err := Inspect(access); err == nil {
		tok.Expiry = claims.Expiry()
	}
	return tok
}
