package authtest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jrsteele09/go-session-client/auth"
	"github.com/jrsteele09/go-session-client/authtest"
	"github.com/jrsteele09/go-session-client/internal/clock"
	sessionerrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testFixture struct {
	server *authtest.Server
	clock  *clock.Fake
	public *auth.Client
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{clock: clock.NewFake(testStart)}
	var err error
	f.server, err = authtest.New(authtest.WithClock(f.clock))
	require.NoError(t, err)
	t.Cleanup(f.server.Close)

	transport, err := auth.NewHTTPTransport(f.server.BaseURL())
	require.NoError(t, err)
	f.public, err = auth.NewClient(transport)
	require.NoError(t, err)
	return f
}

// bearerClient calls the service with a fixed access token.
func (f *testFixture) bearerClient(t *testing.T, access string) *auth.Client {
	t.Helper()
	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: access}))
	transport, err := auth.NewHTTPTransport(f.server.BaseURL(), auth.WithHTTPClient(httpClient))
	require.NoError(t, err)
	client, err := auth.NewClient(transport)
	require.NoError(t, err)
	return client
}

func (f *testFixture) login(t *testing.T) (*auth.LoginResponse, *auth.Client) {
	t.Helper()
	resp, err := f.public.Login(context.Background(), "user1", authtest.DefaultPassword)
	require.NoError(t, err)
	return resp, f.bearerClient(t, resp.AccessToken)
}

func requireAPIError(t *testing.T, err error, status int, code sessionmodel.ErrorCode) {
	t.Helper()
	apiErr, ok := auth.AsAPIError(err)
	require.True(t, ok, "expected APIError, got %v", err)
	require.Equal(t, status, apiErr.Status)
	require.Equal(t, code, apiErr.Code)
}

func TestLogin(t *testing.T) {
	f := setupTestFixture(t)
	resp, client := f.login(t)
	require.Equal(t, sessionmodel.SessionUser{UserID: "1", Username: "user1"}, resp.User.SessionUser())
	require.NotEmpty(t, resp.RefreshToken)

	user, err := client.Profile(context.Background())
	require.NoError(t, err)
	require.Equal(t, "user1", user.Username)
	require.True(t, f.server.HasSession("user1"))
}

func TestLoginRejections(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.public.Login(context.Background(), "user1", "wrong")
	requireAPIError(t, err, http.StatusUnauthorized, sessionmodel.CodeInvalidCredentials)
	require.ErrorIs(t, err, sessionerrors.ErrInvalidCredentials)

	_, err = f.public.Login(context.Background(), "nobody", "password")
	requireAPIError(t, err, http.StatusUnauthorized, sessionmodel.CodeInvalidCredentials)

	_, err = f.public.Login(context.Background(), "", "")
	requireAPIError(t, err, http.StatusBadRequest, sessionmodel.CodeMissingCredentials)
}

func TestMissingBearer(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.public.Profile(context.Background())
	requireAPIError(t, err, http.StatusUnauthorized, "MISSING_TOKEN")
}

func TestLockedSessionGate(t *testing.T) {
	f := setupTestFixture(t)
	_, client := f.login(t)
	ctx := context.Background()

	lockedAt, err := client.Lock(ctx)
	require.NoError(t, err)
	require.Equal(t, testStart.Unix(), lockedAt)

	_, err = client.Profile(ctx)
	requireAPIError(t, err, http.StatusForbidden, sessionmodel.CodeSessionLocked)
	_, err = client.Lock(ctx)
	require.ErrorIs(t, err, sessionerrors.ErrSessionLocked)

	check, err := client.CheckSession(ctx)
	require.NoError(t, err)
	require.True(t, check.Locked)
	require.Equal(t, testStart.UnixMilli(), *check.LockState().LockedAt)

	err = client.Unlock(ctx, "wrong")
	requireAPIError(t, err, http.StatusUnauthorized, sessionmodel.CodeInvalidPassword)
	require.ErrorIs(t, err, sessionerrors.ErrWrongPassword)
	require.True(t, f.server.SessionLocked("user1"))

	require.NoError(t, client.Unlock(ctx, authtest.DefaultPassword))
	_, err = client.Profile(ctx)
	require.NoError(t, err)
}

func TestLockTimeoutEndsSession(t *testing.T) {
	f := setupTestFixture(t)
	_, client := f.login(t)
	ctx := context.Background()
	_, err := client.Lock(ctx)
	require.NoError(t, err)

	f.clock.Advance(authtest.DefaultLockTimeout)
	_, err = client.Profile(ctx)
	requireAPIError(t, err, http.StatusForbidden, sessionmodel.CodeSessionLocked)

	f.clock.Advance(time.Second)
	_, err = client.Profile(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, sessionmodel.CodeLockTimeout)
	require.ErrorIs(t, err, sessionerrors.ErrSessionTerminated)
	require.False(t, f.server.HasSession("user1"))

	_, err = client.CheckSession(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, sessionmodel.CodeSessionNotFound)
}

func TestExpiredAccessTokenRefreshes(t *testing.T) {
	f := setupTestFixture(t)
	resp, client := f.login(t)
	ctx := context.Background()

	f.server.ExpireAccessTokens()
	_, err := client.Profile(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, sessionmodel.CodeInvalidOrExpiredToken)

	access, err := f.public.RefreshToken(ctx, resp.RefreshToken)
	require.NoError(t, err)
	_, err = f.bearerClient(t, access).Profile(ctx)
	require.NoError(t, err)

	_, err = f.public.RefreshToken(ctx, "not-a-token")
	requireAPIError(t, err, http.StatusUnauthorized, sessionmodel.CodeInvalidOrExpiredToken)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	f := setupTestFixture(t)
	resp, client := f.login(t)
	ctx := context.Background()

	require.NoError(t, client.Logout(ctx))
	require.False(t, f.server.HasSession("user1"))

	_, err := f.public.RefreshToken(ctx, resp.RefreshToken)
	requireAPIError(t, err, http.StatusUnauthorized, sessionmodel.CodeInvalidOrExpiredToken)
}

func TestFailIsOneShot(t *testing.T) {
	f := setupTestFixture(t)
	_, client := f.login(t)
	ctx := context.Background()

	f.server.Fail(auth.PathProfile, http.StatusUnauthorized, sessionmodel.CodeSessionExpired, "expired")
	_, err := client.Profile(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, sessionmodel.CodeSessionExpired)

	_, err = client.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, f.server.Calls(auth.PathProfile))
}

func TestEventStream(t *testing.T) {
	f := setupTestFixture(t)
	resp, _ := f.login(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+resp.AccessToken)
	conn, _, err := websocket.Dial(ctx, f.server.EventsURL(), &websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	require.Eventually(t, func() bool { return f.server.Subscribers("user1") == 1 }, time.Second, 5*time.Millisecond)

	readEvent := func() auth.Event {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var ev auth.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	}

	require.True(t, f.server.LockUser("user1"))
	require.Equal(t, auth.Event{Type: auth.EventSessionLocked, LockedAt: testStart.Unix()}, readEvent())

	require.True(t, f.server.EndSession("user1"))
	require.Equal(t, auth.Event{Type: auth.EventSessionTerminated, ErrorCode: sessionmodel.CodeSessionNotFound}, readEvent())
}
