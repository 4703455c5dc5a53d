package auth

import (
	"context"
	"net/http"

	sessionerrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/pkg/errors"
)

// Client is the typed API of the auth service. Bound to the gateway it carries the session's
// bearer token; bound to an HTTPTransport it is suitable for the refresh call.
type Client struct {
	transport Transport
}

// NewClient creates a Client over transport.
func NewClient(transport Transport) (*Client, error) {
	if transport == nil {
		return nil, errors.New("[NewClient] transport is required")
	}
	return &Client{transport: transport}, nil
}

// Login exchanges username and password for credentials.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.transport.Send(ctx, http.MethodPost, PathLogin, LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, sessionerrors.Wrapf(sessionerrors.ErrMissingAccessToken, "[Client Login]")
	}
	return &resp, nil
}

// Logout ends the server-side session.
func (c *Client) Logout(ctx context.Context) error {
	return c.transport.Send(ctx, http.MethodPost, PathLogout, nil, nil)
}

// RefreshToken exchanges refreshToken for a new access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	var resp RefreshResponse
	if err := c.transport.Send(ctx, http.MethodPost, PathRefreshToken, RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", sessionerrors.Wrapf(sessionerrors.ErrMissingAccessToken, "[Client RefreshToken]")
	}
	return resp.AccessToken, nil
}

// Profile returns the signed-in user.
func (c *Client) Profile(ctx context.Context) (sessionmodel.SessionUser, error) {
	var resp ProfileResponse
	if err := c.transport.Send(ctx, http.MethodGet, PathProfile, nil, &resp); err != nil {
		return sessionmodel.SessionUser{}, err
	}
	return resp.User.SessionUser(), nil
}

// CheckSession returns the server's view of the lock.
func (c *Client) CheckSession(ctx context.Context) (CheckSessionResponse, error) {
	var resp CheckSessionResponse
	err := c.transport.Send(ctx, http.MethodGet, PathCheckSession, nil, &resp)
	return resp, err
}

// Lock locks the session and returns the server lock instant in epoch seconds.
func (c *Client) Lock(ctx context.Context) (int64, error) {
	var resp LockResponse
	if err := c.transport.Send(ctx, http.MethodPost, PathLock, nil, &resp); err != nil {
		return 0, err
	}
	return resp.LockedAt, nil
}

// Unlock re-authenticates a locked session with password.
func (c *Client) Unlock(ctx context.Context, password string) error {
	return c.transport.Send(ctx, http.MethodPost, PathUnlock, UnlockRequest{Password: password}, nil)
}
