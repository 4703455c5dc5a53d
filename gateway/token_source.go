package gateway

import (
	"fmt"

	"github.com/jrsteele09/go-session-client/credentials"
	sessionerrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/token"
	"golang.org/x/oauth2"
)

// TokenSource exposes the stored access token to golang.org/x/oauth2 clients. It never
// refreshes; a rejected token should be retried through the gateway.
func (g *Gateway) TokenSource() oauth2.TokenSource {
	return storeTokenSource{store: g.store}
}

type storeTokenSource struct {
	store *credentials.Store
}

func (s storeTokenSource) Token() (*oauth2.Token, error) {
	access, err := s.store.AccessToken()
	if err != nil {
		return nil, fmt.Errorf("[TokenSource] %w", err)
	}
	if access == "" {
		return nil, sessionerrors.ErrNotAuthenticated
	}
	return token.OAuth2Token(access), nil
}
