package tabsync_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/credentials/memstore"
	"github.com/jrsteele09/go-session-client/events"
	sessionerrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/jrsteele09/go-session-client/tabsync"
	"github.com/stretchr/testify/require"
)

const eventually = 2 * time.Second

// recordingSink records every call by name.
type recordingSink struct {
	lock    sync.Mutex
	calls   []string
	users   []sessionmodel.SessionUser
	signals []events.SessionLocked
	causes  []error
}

func (r *recordingSink) record(name string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recordingSink) Calls() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingSink) ReloadLock() { r.record("ReloadLock") }
func (r *recordingSink) ClearLocal() { r.record("ClearLocal") }

func (r *recordingSink) AdoptUser(user sessionmodel.SessionUser) {
	r.lock.Lock()
	r.users = append(r.users, user)
	r.lock.Unlock()
	r.record("AdoptUser")
}

func (r *recordingSink) HandleLockSignal(_ context.Context, signal events.SessionLocked) {
	r.lock.Lock()
	r.signals = append(r.signals, signal)
	r.lock.Unlock()
	r.record("HandleLockSignal")
}

func (r *recordingSink) HandleUnlockSignal() { r.record("HandleUnlockSignal") }

func (r *recordingSink) HandleTerminated(cause error) {
	r.lock.Lock()
	r.causes = append(r.causes, cause)
	r.lock.Unlock()
	r.record("HandleTerminated")
}

type syncFixture struct {
	other *credentials.Store
	own   *credentials.Store
	bus   *events.Bus
	sink  *recordingSink
	sync  *tabsync.Synchronizer
}

func setupSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	origin := memstore.NewOrigin()
	ownTab := origin.NewTab()
	f := &syncFixture{bus: events.NewBus(), sink: &recordingSink{}}

	var err error
	f.other, err = credentials.NewStore(origin.NewTab())
	require.NoError(t, err)
	f.own, err = credentials.NewStore(ownTab)
	require.NoError(t, err)

	f.sync, err = tabsync.New(ownTab, f.bus, f.sink)
	require.NoError(t, err)
	require.NoError(t, f.sync.Start(context.Background()))
	t.Cleanup(f.sync.Close)
	return f
}

func (f *syncFixture) requireCalls(t *testing.T, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(f.sink.Calls()) >= len(want)
	}, eventually, time.Millisecond)
	require.Equal(t, want, f.sink.Calls())
}

func TestNewValidates(t *testing.T) {
	tab := memstore.New()
	_, err := tabsync.New(nil, events.NewBus(), &recordingSink{})
	require.Error(t, err)
	_, err = tabsync.New(tab, nil, &recordingSink{})
	require.Error(t, err)
	_, err = tabsync.New(tab, events.NewBus(), nil)
	require.Error(t, err)
}

func TestStartTwiceFails(t *testing.T) {
	f := setupSyncFixture(t)
	require.Error(t, f.sync.Start(context.Background()))
}

func TestLockChangeReloadsLock(t *testing.T) {
	f := setupSyncFixture(t)
	require.NoError(t, f.other.SetLock(1000))
	f.requireCalls(t, "ReloadLock")

	require.NoError(t, f.other.ClearLock())
	f.requireCalls(t, "ReloadLock", "ReloadLock")
}

func TestAccessTokenRemovalClearsLocal(t *testing.T) {
	f := setupSyncFixture(t)
	require.NoError(t, f.other.SetAccessToken("a"))
	require.NoError(t, f.other.ClearAccessToken())
	f.requireCalls(t, "ClearLocal")
}

func TestUserWriteIsAdopted(t *testing.T) {
	f := setupSyncFixture(t)
	user := sessionmodel.SessionUser{UserID: "2", Username: "user2"}
	require.NoError(t, f.other.SetUser(user))
	f.requireCalls(t, "AdoptUser")
	require.Equal(t, []sessionmodel.SessionUser{user}, f.sink.users)

	require.NoError(t, f.other.ClearUser())
	require.NoError(t, f.other.SetRefreshToken("r"))
	require.Never(t, func() bool { return len(f.sink.Calls()) > 1 }, 50*time.Millisecond, time.Millisecond)
}

func TestOwnWritesAreNotDelivered(t *testing.T) {
	f := setupSyncFixture(t)
	require.NoError(t, f.own.SetLock(1000))
	require.NoError(t, f.own.ClearAll())
	require.Never(t, func() bool { return len(f.sink.Calls()) > 0 }, 50*time.Millisecond, time.Millisecond)
}

func TestLogoutInAnotherTab(t *testing.T) {
	f := setupSyncFixture(t)
	require.NoError(t, f.other.SetCredentials(sessionmodel.Credentials{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, f.other.SetLock(1000))
	f.requireCalls(t, "ReloadLock")

	require.NoError(t, f.other.ClearAll())
	f.requireCalls(t, "ReloadLock", "ClearLocal", "ReloadLock")
}

func TestBusEventsReachSink(t *testing.T) {
	f := setupSyncFixture(t)
	at := time.UnixMilli(1700000000000)
	f.bus.Publish(events.SessionLocked{At: at, ServerTime: true})
	f.bus.Publish(events.SessionUnlocked{})
	f.bus.Publish(events.SessionTerminated{Cause: sessionerrors.ErrSessionExpired})

	f.requireCalls(t, "HandleLockSignal", "HandleUnlockSignal", "HandleTerminated")
	require.Equal(t, []events.SessionLocked{{At: at, ServerTime: true}}, f.sink.signals)
	require.ErrorIs(t, f.sink.causes[0], sessionerrors.ErrSessionExpired)
}

func TestCloseStopsDelivery(t *testing.T) {
	f := setupSyncFixture(t)
	f.sync.Close()
	f.sync.Close()

	f.bus.Publish(events.SessionUnlocked{})
	require.NoError(t, f.other.SetLock(1000))
	require.Never(t, func() bool { return len(f.sink.Calls()) > 0 }, 50*time.Millisecond, time.Millisecond)
}
