package sessions_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-client/auth"
	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/credentials/memstore"
	"github.com/jrsteele09/go-session-client/events"
	"github.com/jrsteele09/go-session-client/internal/clock"
	sessionerrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/jrsteele09/go-session-client/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testUser  = sessionmodel.SessionUser{UserID: "1", Username: "user1"}
	testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

// fakeAPI answers every call successfully unless a hook overrides it.
type fakeAPI struct {
	lock  sync.Mutex
	calls map[string]int

	login        func(username, password string) (*auth.LoginResponse, error)
	logout       func() error
	profile      func() (sessionmodel.SessionUser, error)
	checkSession func() (auth.CheckSessionResponse, error)
	lockFn       func() (int64, error)
	unlock       func(password string) error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: make(map[string]int)}
}

func (f *fakeAPI) record(name string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.calls[name]++
}

func (f *fakeAPI) count(name string) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) total() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeAPI) Login(ctx context.Context, username, password string) (*auth.LoginResponse, error) {
	f.record("login")
	if f.login != nil {
		return f.login(username, password)
	}
	return &auth.LoginResponse{AccessToken: "a1", RefreshToken: "r1", User: auth.WireUser(testUser)}, nil
}

func (f *fakeAPI) Logout(ctx context.Context) error {
	f.record("logout")
	if f.logout != nil {
		return f.logout()
	}
	return nil
}

func (f *fakeAPI) Profile(ctx context.Context) (sessionmodel.SessionUser, error) {
	f.record("profile")
	if f.profile != nil {
		return f.profile()
	}
	return testUser, nil
}

func (f *fakeAPI) CheckSession(ctx context.Context) (auth.CheckSessionResponse, error) {
	f.record("check-session")
	if f.checkSession != nil {
		return f.checkSession()
	}
	return auth.CheckSessionResponse{}, nil
}

func (f *fakeAPI) Lock(ctx context.Context) (int64, error) {
	f.record("lock")
	if f.lockFn != nil {
		return f.lockFn()
	}
	return testStart.Unix(), nil
}

func (f *fakeAPI) Unlock(ctx context.Context, password string) error {
	f.record("unlock")
	if f.unlock != nil {
		return f.unlock(password)
	}
	return nil
}

type testFixture struct {
	tab       *memstore.Tab
	store     *credentials.Store
	api       *fakeAPI
	clock     *clock.Fake
	manager   *sessions.Manager
	redirects []error
	lock      sync.Mutex
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		tab:   memstore.New(),
		api:   newFakeAPI(),
		clock: clock.NewFake(testStart),
	}
	var err error
	f.store, err = credentials.NewStore(f.tab, credentials.WithNowTime(f.clock.Now))
	require.NoError(t, err)
	f.manager, err = sessions.NewManager(f.store, f.api,
		sessions.WithClock(f.clock),
		sessions.WithRedirector(func(_ context.Context, cause error) {
			f.lock.Lock()
			defer f.lock.Unlock()
			f.redirects = append(f.redirects, cause)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(f.manager.Close)
	return f
}

// login signs the fixture in through the manager.
func (f *testFixture) login(t *testing.T) {
	t.Helper()
	require.NoError(t, f.manager.Login(context.Background(), "user1", "password"))
}

func (f *testFixture) requireEmptyStore(t *testing.T) {
	t.Helper()
	require.Empty(t, f.tab.Origin().Snapshot())
}

func unauthorized(code sessionmodel.ErrorCode, message string) error {
	return &auth.APIError{Status: http.StatusUnauthorized, Code: code, Message: message}
}

func TestNewManagerValidates(t *testing.T) {
	_, err := sessions.NewManager(nil, newFakeAPI())
	require.Error(t, err)
	store, err := credentials.NewStore(memstore.New())
	require.NoError(t, err)
	_, err = sessions.NewManager(store, nil)
	require.Error(t, err)
}

func TestInitWithoutTokenMakesNoCalls(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.manager.Init(context.Background()))
	require.Equal(t, sessions.Unauthenticated, f.manager.Snapshot().State)
	require.Zero(t, f.api.total())
}

func TestInitAdoptsServerLock(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.store.SetCredentials(sessionmodel.Credentials{AccessToken: "a", RefreshToken: "r"}))
	lockedAt := testStart.Add(-time.Minute).Unix()
	f.api.checkSession = func() (auth.CheckSessionResponse, error) {
		return auth.CheckSessionResponse{Locked: true, LockedAt: lockedAt}, nil
	}

	require.NoError(t, f.manager.Init(context.Background()))
	snap := f.manager.Snapshot()
	require.Equal(t, sessions.Locked, snap.State)
	require.Equal(t, "user1", snap.Username())
	require.Equal(t, lockedAt*1000, *snap.Lock.LockedAt)

	stored, err := f.store.LockState()
	require.NoError(t, err)
	require.True(t, stored.Equal(snap.Lock))
	require.Equal(t, 1, f.api.count("profile"))
	require.Equal(t, 1, f.api.count("check-session"))
}

func TestInitRejectedSessionIsCleared(t *testing.T) {
	for name, rejection := range map[string]error{
		"unauthorized": unauthorized(sessionmodel.CodeInvalidOrExpiredToken, "expired"),
		"forbidden":    &auth.APIError{Status: http.StatusForbidden, Message: "forbidden"},
		"terminated":   sessionerrors.ErrSessionTerminated,
	} {
		t.Run(name, func(t *testing.T) {
			f := setupTestFixture(t)
			require.NoError(t, f.store.SetCredentials(sessionmodel.Credentials{AccessToken: "a", RefreshToken: "r"}))
			require.NoError(t, f.store.SetLock(testStart.UnixMilli()))
			f.api.profile = func() (sessionmodel.SessionUser, error) { return sessionmodel.SessionUser{}, rejection }

			require.NoError(t, f.manager.Init(context.Background()))
			require.Equal(t, sessions.Unauthenticated, f.manager.Snapshot().State)
			f.requireEmptyStore(t)
		})
	}
}

func TestInitTransportErrorKeepsCredentials(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.store.SetCredentials(sessionmodel.Credentials{AccessToken: "a", RefreshToken: "r"}))
	boom := errors.New("connection refused")
	f.api.profile = func() (sessionmodel.SessionUser, error) { return sessionmodel.SessionUser{}, boom }

	err := f.manager.Init(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, sessions.Unauthenticated, f.manager.Snapshot().State)

	access, err := f.store.AccessToken()
	require.NoError(t, err)
	require.Equal(t, "a", access)
}

func TestInitLockedProfileKeepsStoredUser(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.store.SetCredentials(sessionmodel.Credentials{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, f.store.SetUser(testUser))
	f.api.profile = func() (sessionmodel.SessionUser, error) {
		return sessionmodel.SessionUser{}, &auth.APIError{Status: http.StatusForbidden, Code: sessionmodel.CodeSessionLocked}
	}
	f.api.checkSession = func() (auth.CheckSessionResponse, error) {
		return auth.CheckSessionResponse{Locked: true, LockedAt: testStart.Unix()}, nil
	}

	require.NoError(t, f.manager.Init(context.Background()))
	snap := f.manager.Snapshot()
	require.Equal(t, sessions.Locked, snap.State)
	require.Equal(t, testUser, *snap.User)
}

func TestLoginStoresSessionAndClearsLock(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.store.SetLock(testStart.UnixMilli()))

	f.login(t)
	snap := f.manager.Snapshot()
	require.Equal(t, sessions.Authenticated, snap.State)
	require.Equal(t, testUser, *snap.User)
	require.False(t, snap.Lock.Locked)

	creds, err := f.store.Credentials()
	require.NoError(t, err)
	require.Equal(t, sessionmodel.Credentials{AccessToken: "a1", RefreshToken: "r1"}, creds)
	lock, err := f.store.LockState()
	require.NoError(t, err)
	require.False(t, lock.Locked)
	user, err := f.store.User()
	require.NoError(t, err)
	require.Equal(t, testUser, *user)
}

func TestLoginFailureIsReturnedUnchanged(t *testing.T) {
	f := setupTestFixture(t)
	rejection := unauthorized(sessionmodel.CodeInvalidCredentials, "Invalid username or password")
	f.api.login = func(string, string) (*auth.LoginResponse, error) { return nil, rejection }

	err := f.manager.Login(context.Background(), "user1", "nope")
	require.Same(t, rejection, err)
	require.Equal(t, sessions.Unauthenticated, f.manager.Snapshot().State)
	f.requireEmptyStore(t)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.manager.Logout(context.Background()))
	require.Zero(t, f.api.count("logout"))

	f.login(t)
	release := make(chan struct{})
	f.api.logout = func() error {
		<-release
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.manager.Logout(context.Background()))
		}()
	}
	require.Eventually(t, func() bool { return f.api.count("logout") == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, 1, f.api.count("logout"))
	require.Equal(t, sessions.Unauthenticated, f.manager.Snapshot().State)
	f.requireEmptyStore(t)

	require.NoError(t, f.manager.Logout(context.Background()))
	require.Equal(t, 1, f.api.count("logout"))
}

func TestLogoutEndpointFailureStillClears(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.api.logout = func() error { return errors.New("network down") }

	require.NoError(t, f.manager.Logout(context.Background()))
	require.Equal(t, sessions.Unauthenticated, f.manager.Snapshot().State)
	f.requireEmptyStore(t)
	require.Len(t, f.redirects, 1)
	require.NoError(t, f.redirects[0])
}

func TestLockSessionAnchorsAtServerTime(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	serverLockedAt := testStart.Add(-3 * time.Second).Unix()
	f.api.lockFn = func() (int64, error) { return serverLockedAt, nil }

	require.NoError(t, f.manager.LockSession(context.Background()))
	snap := f.manager.Snapshot()
	require.Equal(t, sessions.Locked, snap.State)
	require.Equal(t, serverLockedAt*1000, *snap.Lock.LockedAt)
	require.Equal(t, sessions.DefaultLockWindow-3*time.Second, f.manager.LockRemaining())

	stored, err := f.store.LockState()
	require.NoError(t, err)
	require.True(t, stored.Equal(snap.Lock))
}

func TestLockSessionFailureLogsOut(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.api.lockFn = func() (int64, error) { return 0, errors.New("boom") }

	require.Error(t, f.manager.LockSession(context.Background()))
	require.Equal(t, sessions.Unauthenticated, f.manager.Snapshot().State)
	f.requireEmptyStore(t)
}

func TestLockSessionAlreadyLockedResyncs(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.api.lockFn = func() (int64, error) {
		return 0, &auth.APIError{Status: http.StatusForbidden, Code: sessionmodel.CodeSessionLocked}
	}
	f.api.checkSession = func() (auth.CheckSessionResponse, error) {
		return auth.CheckSessionResponse{Locked: true, LockedAt: testStart.Unix()}, nil
	}

	require.NoError(t, f.manager.LockSession(context.Background()))
	require.Equal(t, sessions.Locked, f.manager.Snapshot().State)
	require.Zero(t, f.api.count("logout"))
}

func TestLockDeadlineIsAnchoredAtLockedAt(t *testing.T) {
	// The tab learns about a lock taken seven minutes and a half second earlier.
	f := setupTestFixture(t)
	f.login(t)
	lockedAt := testStart.Add(-7*time.Minute - 500*time.Millisecond)
	f.manager.HandleLockSignal(context.Background(), events.SessionLocked{At: lockedAt, ServerTime: true})
	require.Equal(t, sessions.Locked, f.manager.Snapshot().State)

	deadline := lockedAt.Add(600000 * time.Millisecond)
	f.clock.Advance(deadline.Sub(f.clock.Now()) - time.Millisecond)
	require.Equal(t, sessions.Locked, f.manager.Snapshot().State)
	require.Equal(t, time.Millisecond, f.manager.LockRemaining())

	f.clock.Advance(time.Millisecond)
	require.Equal(t, sessions.Unauthenticated, f.manager.Snapshot().State)
	f.requireEmptyStore(t)
	require.Len(t, f.redirects, 1)
	require.ErrorIs(t, f.redirects[0], sessionerrors.ErrLockTimeout)
}

func TestWrongUnlockPasswordHasNoSideEffects(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	require.NoError(t, f.manager.LockSession(context.Background()))
	before := f.tab.Origin().Snapshot()
	snapBefore := f.manager.Snapshot()
	f.api.unlock = func(string) error { return unauthorized(sessionmodel.CodeInvalidPassword, "Invalid password") }

	err := f.manager.UnlockSession(context.Background(), "wrong")
	require.ErrorIs(t, err, sessionerrors.ErrWrongPassword)
	require.Equal(t, before, f.tab.Origin().Snapshot())
	require.Equal(t, snapBefore, f.manager.Snapshot())
	require.Zero(t, f.api.count("logout"))
}

func TestOtherUnlockRejectionLogsOut(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	require.NoError(t, f.manager.LockSession(context.Background()))
	rejection := &auth.APIError{Status: http.StatusForbidden, Message: "not allowed"}
	f.api.unlock = func(string) error { return rejection }

	err := f.manager.UnlockSession(context.Background(), "password")
	require.Same(t, rejection, err)
	require.Equal(t, sessions.Unauthenticated, f.manager.Snapshot().State)
	f.requireEmptyStore(t)
}

func TestUnlockClearsLock(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	require.NoError(t, f.manager.LockSession(context.Background()))

	require.NoError(t, f.manager.UnlockSession(context.Background(), "password"))
	snap := f.manager.Snapshot()
	require.Equal(t, sessions.Authenticated, snap.State)
	require.False(t, snap.Lock.Locked)
	require.Zero(t, f.manager.LockRemaining())

	lock, err := f.store.LockState()
	require.NoError(t, err)
	require.False(t, lock.Locked)

	f.clock.Advance(time.Hour)
	require.Equal(t, sessions.Authenticated, f.manager.Snapshot().State)
}

func TestUnlockCompletingAfterForcedLogoutIsDiscarded(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	require.NoError(t, f.manager.LockSession(context.Background()))

	started := make(chan struct{})
	release := make(chan struct{})
	f.api.unlock = func(string) error {
		close(started)
		<-release
		return nil
	}
	result := make(chan error, 1)
	go func() { result <- f.manager.UnlockSession(context.Background(), "password") }()
	<-started

	f.clock.Advance(sessions.DefaultLockWindow)
	require.Equal(t, sessions.Unauthenticated, f.manager.Snapshot().State)

	close(release)
	require.ErrorIs(t, <-result, sessionerrors.ErrNotAuthenticated)
	require.Equal(t, sessions.Unauthenticated, f.manager.Snapshot().State)
	f.requireEmptyStore(t)
}

func TestCheckSessionReconcilesBothWays(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.manager.CheckSession(context.Background()))
	require.Zero(t, f.api.count("check-session"))

	f.login(t)
	locked := true
	f.api.checkSession = func() (auth.CheckSessionResponse, error) {
		return auth.CheckSessionResponse{Locked: locked, LockedAt: testStart.Unix()}, nil
	}
	require.NoError(t, f.manager.CheckSession(context.Background()))
	require.Equal(t, sessions.Locked, f.manager.Snapshot().State)

	locked = false
	require.NoError(t, f.manager.CheckSession(context.Background()))
	require.Equal(t, sessions.Authenticated, f.manager.Snapshot().State)
	lock, err := f.store.LockState()
	require.NoError(t, err)
	require.False(t, lock.Locked)
}

func TestOnIdleLocksAuthenticatedSession(t *testing.T) {
	f := setupTestFixture(t)
	f.manager.OnIdle()
	require.Zero(t, f.api.count("lock"))

	f.login(t)
	f.manager.OnIdle()
	require.Equal(t, sessions.Locked, f.manager.Snapshot().State)

	f.manager.OnIdle()
	require.Equal(t, 1, f.api.count("lock"))
}

func TestLockSignalFallsBackToSignalTime(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.api.checkSession = func() (auth.CheckSessionResponse, error) {
		return auth.CheckSessionResponse{}, errors.New("offline")
	}

	f.manager.HandleLockSignal(context.Background(), events.SessionLocked{At: f.clock.Now()})
	snap := f.manager.Snapshot()
	require.Equal(t, sessions.Locked, snap.State)
	require.Equal(t, testStart.UnixMilli(), *snap.Lock.LockedAt)
}

func TestSinkMethods(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	other := sessionmodel.SessionUser{UserID: "2", Username: "user2"}
	f.manager.AdoptUser(other)
	require.Equal(t, other, *f.manager.Snapshot().User)

	require.NoError(t, f.store.SetLock(testStart.UnixMilli()))
	f.manager.ReloadLock()
	require.Equal(t, sessions.Locked, f.manager.Snapshot().State)

	f.manager.HandleUnlockSignal()
	require.Equal(t, sessions.Authenticated, f.manager.Snapshot().State)

	require.NoError(t, f.store.SetLock(testStart.UnixMilli()))
	f.manager.ClearLocal()
	require.Equal(t, sessions.Unauthenticated, f.manager.Snapshot().State)
	lock, err := f.store.LockState()
	require.NoError(t, err)
	require.False(t, lock.Locked)

	f.manager.AdoptUser(testUser)
	f.manager.HandleTerminated(sessionerrors.ErrSessionExpired)
	require.Equal(t, sessions.Unauthenticated, f.manager.Snapshot().State)
	require.Nil(t, f.manager.Snapshot().User)
}

func TestSubscribersSeeTransitions(t *testing.T) {
	f := setupTestFixture(t)
	var states []sessions.State
	unsubscribe := f.manager.Subscribe(func(s sessions.Snapshot) { states = append(states, s.State) })

	f.login(t)
	require.NoError(t, f.manager.LockSession(context.Background()))
	require.NoError(t, f.manager.UnlockSession(context.Background(), "password"))
	unsubscribe()
	require.NoError(t, f.manager.Logout(context.Background()))

	require.Equal(t, []sessions.State{sessions.Authenticated, sessions.Locked, sessions.Authenticated}, states)
}
