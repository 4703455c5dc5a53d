// Package sessions is the per-tab session state machine: unauthenticated, authenticated and
// locked, with a countdown that forces logout when a lock outlives its window.
package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-client/auth"
	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/events"
	"github.com/jrsteele09/go-session-client/internal/clock"
	sessionerrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/metrics"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultLockWindow is how long a lock may be held before the session is logged out.
const DefaultLockWindow = 600000 * time.Millisecond

const countdownInterval = time.Second

// API is the part of the auth service the manager drives.
type API interface {
	Login(ctx context.Context, username, password string) (*auth.LoginResponse, error)
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (sessionmodel.SessionUser, error)
	CheckSession(ctx context.Context) (auth.CheckSessionResponse, error)
	Lock(ctx context.Context) (int64, error)
	Unlock(ctx context.Context, password string) error
}

var _ API = (*auth.Client)(nil)

// Redirector is called after the session ended. cause is nil for a user logout.
type Redirector func(ctx context.Context, cause error)

// Manager owns one tab's session state. Persistent state lives in the credential store;
// the manager keeps the in-memory view and the lock countdown.
type Manager struct {
	store    *credentials.Store
	api      API
	clock    clock.Clock
	window   time.Duration
	redirect Redirector
	metrics  *metrics.Collectors
	logger   zerolog.Logger

	logoutGroup singleflight.Group

	lock         sync.Mutex
	state        State
	user         *sessionmodel.SessionUser
	lockState    sessionmodel.LockState
	generation   uint64
	countdown    clock.Timer
	countdownGen uint64
	closed       bool
	subscribers  map[int]func(Snapshot)
	order        []int
	nextSubID    int
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLockWindow overrides the 600000 ms lock window.
func WithLockWindow(window time.Duration) Option {
	return func(m *Manager) {
		m.window = window
	}
}

func WithRedirector(redirect Redirector) Option {
	return func(m *Manager) {
		m.redirect = redirect
	}
}

func WithMetrics(c *metrics.Collectors) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an unauthenticated manager. Call Init to load the stored session.
func NewManager(store *credentials.Store, api API, options ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[NewManager] store is required")
	}
	if api == nil {
		return nil, errors.New("[NewManager] api is required")
	}
	m := &Manager{
		store:       store,
		api:         api,
		clock:       clock.Real(),
		window:      DefaultLockWindow,
		logger:      log.Logger.With().Str("component", "sessions").Logger(),
		subscribers: make(map[int]func(Snapshot)),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.window <= 0 {
		m.window = DefaultLockWindow
	}
	if m.redirect == nil {
		logger := m.logger
		m.redirect = func(_ context.Context, cause error) {
			logger.Info().AnErr("cause", cause).Msg("redirect to login")
		}
	}
	return m, nil
}

// Init determines the initial state. Without a stored access token the manager stays
// unauthenticated and no request is made. Otherwise the stored lock is applied, the profile
// is fetched and the lock is reconciled with the server.
func (m *Manager) Init(ctx context.Context) error {
	access, err := m.store.AccessToken()
	if err != nil {
		return fmt.Errorf("[Manager Init] %w", err)
	}
	if access == "" {
		m.logger.Debug().Msg("no stored session")
		m.clearLocal()
		return nil
	}

	storedUser, err := m.store.User()
	if err != nil {
		m.logger.Warn().Err(err).Msg("ignoring unreadable stored user")
	}
	lock, err := m.store.LockState()
	if err != nil {
		return fmt.Errorf("[Manager Init] %w", err)
	}
	m.adopt(storedUser, lock)

	user, err := m.api.Profile(ctx)
	switch {
	case err == nil:
		m.setUser(&user)
	case isLockSignal(err):
		m.logger.Info().Msg("session locked on the server, keeping stored user")
	default:
		return m.initFailed(err)
	}

	resp, err := m.api.CheckSession(ctx)
	if err != nil {
		return m.initFailed(err)
	}
	return m.reconcile(resp)
}

func (m *Manager) initFailed(err error) error {
	if isAuthFailure(err) {
		m.logger.Info().Err(err).Msg("stored session rejected, clearing")
		if clearErr := m.store.ClearAll(); clearErr != nil {
			m.logger.Error().Err(clearErr).Msg("failed to clear rejected session")
		}
		m.clearLocal()
		return nil
	}
	m.clearLocal()
	return fmt.Errorf("[Manager Init] %w", err)
}

// Login authenticates and stores the new session. Endpoint errors are returned unchanged.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	resp, err := m.api.Login(ctx, username, password)
	if err != nil {
		return err
	}
	user := resp.User.SessionUser()

	if err := m.store.SetCredentials(resp.Credentials()); err != nil {
		return fmt.Errorf("[Manager Login] %w", err)
	}
	if err := m.store.ClearLock(); err != nil {
		return fmt.Errorf("[Manager Login] %w", err)
	}
	// The user is written last: sibling tabs adopt the session when it changes.
	if err := m.store.SetUser(user); err != nil {
		return fmt.Errorf("[Manager Login] %w", err)
	}

	m.update(func() bool {
		m.generation++
		m.state = Authenticated
		m.user = &user
		m.lockState = sessionmodel.Unlocked
		m.stopCountdownLocked()
		return true
	})
	m.logger.Info().Str("user", user.Username).Msg("logged in")
	return nil
}

// Logout ends the session. The logout endpoint is best effort; local state and every stored
// key are cleared regardless. Concurrent calls share one request, and a call with nothing to
// log out of does nothing.
func (m *Manager) Logout(ctx context.Context) error {
	return m.logout(ctx, nil)
}

func (m *Manager) logout(ctx context.Context, cause error) error {
	_, err, _ := m.logoutGroup.Do("logout", func() (any, error) {
		stored, err := m.store.HasSession()
		if err != nil {
			m.logger.Warn().Err(err).Msg("failed to read stored session")
			stored = true
		}
		if m.Snapshot().State == Unauthenticated && !stored {
			return nil, nil
		}

		if access, _ := m.store.AccessToken(); access != "" {
			if err := m.api.Logout(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("logout endpoint failed, clearing locally")
			}
		}

		var clearErr error
		if err := m.store.ClearAll(); err != nil {
			clearErr = fmt.Errorf("[Manager Logout] %w", err)
			m.logger.Error().Err(err).Msg("failed to clear credentials")
		}
		m.clearLocal()
		m.logger.Info().AnErr("cause", cause).Msg("logged out")
		m.redirect(ctx, cause)
		return nil, clearErr
	})
	return err
}

// LockSession locks an authenticated session on the server and anchors the countdown at the
// server's lock instant. Any failure other than "already locked" ends the session.
func (m *Manager) LockSession(ctx context.Context) error {
	m.lock.Lock()
	if m.state != Authenticated {
		m.lock.Unlock()
		return nil
	}
	gen := m.generation
	m.lock.Unlock()

	lockedAt, err := m.api.Lock(ctx)
	if err != nil {
		if isLockSignal(err) {
			return m.CheckSession(ctx)
		}
		m.logger.Warn().Err(err).Msg("lock request failed, logging out")
		if logoutErr := m.Logout(ctx); logoutErr != nil {
			m.logger.Error().Err(logoutErr).Msg("logout after failed lock")
		}
		return err
	}
	if m.generationChanged(gen) {
		return sessionerrors.Wrapf(sessionerrors.ErrNotAuthenticated, "[Manager LockSession] session changed while locking")
	}

	return m.persistLock(sessionmodel.SecondsToMillis(lockedAt))
}

// UnlockSession re-authenticates a locked session. A 401 blaming the password is returned
// without side effects; any other 401 or 403 logs out before returning.
func (m *Manager) UnlockSession(ctx context.Context, password string) error {
	m.lock.Lock()
	gen := m.generation
	m.lock.Unlock()

	if err := m.api.Unlock(ctx, password); err != nil {
		apiErr, ok := auth.AsAPIError(err)
		if !ok {
			return err
		}
		if apiErr.IsUnauthorized() && apiErr.MentionsPassword() {
			return err
		}
		if apiErr.IsUnauthorized() || apiErr.IsForbidden() {
			m.logger.Warn().Err(err).Msg("unlock rejected, logging out")
			if logoutErr := m.Logout(ctx); logoutErr != nil {
				m.logger.Error().Err(logoutErr).Msg("logout after rejected unlock")
			}
		}
		return err
	}

	if m.generationChanged(gen) {
		return sessionerrors.Wrapf(sessionerrors.ErrNotAuthenticated, "[Manager UnlockSession] session ended while unlocking")
	}
	if err := m.store.ClearLock(); err != nil {
		return fmt.Errorf("[Manager UnlockSession] %w", err)
	}
	m.applyLock(sessionmodel.Unlocked)
	m.logger.Info().Msg("session unlocked")
	return nil
}

// CheckSession reconciles the local lock with the server's. It does nothing while
// unauthenticated.
func (m *Manager) CheckSession(ctx context.Context) error {
	m.lock.Lock()
	gen := m.generation
	state := m.state
	m.lock.Unlock()
	if state == Unauthenticated {
		return nil
	}

	resp, err := m.api.CheckSession(ctx)
	if err != nil {
		return err
	}
	if m.generationChanged(gen) {
		return nil
	}
	return m.reconcile(resp)
}

func (m *Manager) reconcile(resp auth.CheckSessionResponse) error {
	server := resp.LockState()
	if server.Locked {
		return m.persistLock(*server.LockedAt)
	}
	if m.Snapshot().Lock.Locked {
		if err := m.store.ClearLock(); err != nil {
			return fmt.Errorf("[Manager CheckSession] %w", err)
		}
	}
	m.applyLock(sessionmodel.Unlocked)
	return nil
}

// persistLock stores the lock, unless the same lock is already stored, and applies it.
func (m *Manager) persistLock(lockedAtMillis int64) error {
	lock := sessionmodel.LockState{Locked: true, LockedAt: &lockedAtMillis}
	stored, err := m.store.LockState()
	if err != nil || !stored.Equal(lock) {
		if err := m.store.SetLock(lockedAtMillis); err != nil {
			return fmt.Errorf("[Manager persistLock] %w", err)
		}
	}
	if m.applyLock(lock) {
		m.metrics.Locked()
		m.logger.Info().Time("locked_at", lock.LockedAtTime()).Msg("session locked")
	}
	return nil
}

// OnIdle locks an authenticated session. It is the idle monitor's onIdle callback.
func (m *Manager) OnIdle() {
	if m.Snapshot().State != Authenticated {
		return
	}
	if err := m.LockSession(context.Background()); err != nil {
		m.logger.Warn().Err(err).Msg("idle lock failed")
	}
}

// LockRemaining returns the time left before a held lock forces logout, or 0 when unlocked.
func (m *Manager) LockRemaining() time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.state != Locked {
		return 0
	}
	return m.lockState.Remaining(m.clock.Now(), m.window)
}

// Snapshot returns the current in-memory state.
func (m *Manager) Snapshot() Snapshot {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{State: m.state, Lock: m.lockState}
	if m.user != nil {
		user := *m.user
		s.User = &user
	}
	return s
}

// Subscribe calls fn with the new snapshot after every state change.
func (m *Manager) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.lock.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.order = append(m.order, id)
	m.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.lock.Lock()
			defer m.lock.Unlock()
			delete(m.subscribers, id)
			for i, candidate := range m.order {
				if candidate == id {
					m.order = append(m.order[:i], m.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Close stops the countdown. In-flight calls complete but no new countdown is started.
func (m *Manager) Close() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.closed = true
	m.stopCountdownLocked()
}

// update runs mutate under the lock and, when it reports a change, notifies subscribers.
func (m *Manager) update(mutate func() bool) {
	m.lock.Lock()
	if !mutate() {
		m.lock.Unlock()
		return
	}
	snapshot := m.snapshotLocked()
	subscribers := make([]func(Snapshot), 0, len(m.order))
	for _, id := range m.order {
		subscribers = append(subscribers, m.subscribers[id])
	}
	m.lock.Unlock()

	m.metrics.SetState(int(snapshot.State))
	for _, fn := range subscribers {
		fn(snapshot)
	}
}

// adopt replaces the in-memory view with user and lock.
func (m *Manager) adopt(user *sessionmodel.SessionUser, lock sessionmodel.LockState) {
	m.update(func() bool {
		m.user = user
		m.lockState = lock
		if lock.Locked {
			m.state = Locked
			m.scheduleTickLocked()
		} else {
			m.state = Authenticated
			m.stopCountdownLocked()
		}
		return true
	})
}

func (m *Manager) setUser(user *sessionmodel.SessionUser) {
	m.update(func() bool {
		if m.state == Unauthenticated {
			return false
		}
		m.user = user
		return true
	})
}

// applyLock moves between Authenticated and Locked. It reports whether the state changed and
// never resurrects an unauthenticated session.
func (m *Manager) applyLock(lock sessionmodel.LockState) bool {
	changed := false
	m.update(func() bool {
		if m.state == Unauthenticated || m.lockState.Equal(lock) {
			return false
		}
		wasLocked := m.state == Locked
		m.lockState = lock
		if lock.Locked {
			m.state = Locked
			m.scheduleTickLocked()
		} else {
			m.state = Authenticated
			m.stopCountdownLocked()
		}
		changed = wasLocked != lock.Locked
		return true
	})
	return changed
}

// clearLocal drops the in-memory session without touching the store.
func (m *Manager) clearLocal() {
	m.update(func() bool {
		m.generation++
		m.stopCountdownLocked()
		changed := m.state != Unauthenticated || m.user != nil || m.lockState.Locked
		m.state = Unauthenticated
		m.user = nil
		m.lockState = sessionmodel.Unlocked
		return changed
	})
}

func (m *Manager) generationChanged(gen uint64) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.generation != gen
}

// scheduleTickLocked arms the next countdown evaluation. Ticks run once per second and one
// lands exactly on the deadline.
func (m *Manager) scheduleTickLocked() {
	m.stopCountdownLocked()
	if m.closed || m.state != Locked {
		return
	}
	delay := m.lockState.Remaining(m.clock.Now(), m.window)
	if delay > countdownInterval {
		delay = countdownInterval
	}
	gen := m.countdownGen
	m.countdown = m.clock.AfterFunc(delay, func() { m.tick(gen) })
}

func (m *Manager) stopCountdownLocked() {
	m.countdownGen++
	if m.countdown != nil {
		m.countdown.Stop()
		m.countdown = nil
	}
}

func (m *Manager) tick(gen uint64) {
	m.lock.Lock()
	if gen != m.countdownGen || m.closed || m.state != Locked {
		m.lock.Unlock()
		return
	}
	if m.lockState.Remaining(m.clock.Now(), m.window) > 0 {
		m.scheduleTickLocked()
		m.lock.Unlock()
		return
	}
	m.countdown = nil
	m.lock.Unlock()

	m.logger.Info().Msg("lock window elapsed, logging out")
	m.metrics.Terminated("lock_timeout")
	if err := m.logout(context.Background(), sessionerrors.ErrLockTimeout); err != nil {
		m.logger.Error().Err(err).Msg("forced logout failed")
	}
}

// ReloadLock re-reads the lock keys after another tab changed them.
func (m *Manager) ReloadLock() {
	lock, err := m.store.LockState()
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to reload lock state")
		return
	}
	m.applyLock(lock)
}

// ClearLocal reacts to another tab removing the access token: the in-memory session and the
// lock keys are dropped.
func (m *Manager) ClearLocal() {
	if err := m.store.ClearLock(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear lock keys")
	}
	m.clearLocal()
}

// AdoptUser reacts to another tab signing in: the user is adopted and the lock cleared.
func (m *Manager) AdoptUser(user sessionmodel.SessionUser) {
	m.update(func() bool {
		m.generation++
		m.state = Authenticated
		m.user = &user
		m.lockState = sessionmodel.Unlocked
		m.stopCountdownLocked()
		return true
	})
}

// HandleLockSignal reacts to a lock reported by the server for this tab's own request. A lock
// carrying the server's timestamp is applied directly; otherwise the lock is re-read from the
// server, falling back to the signal time when that fails.
func (m *Manager) HandleLockSignal(ctx context.Context, signal events.SessionLocked) {
	if m.Snapshot().State == Unauthenticated {
		return
	}
	if !signal.ServerTime {
		err := m.CheckSession(ctx)
		if err == nil {
			return
		}
		m.logger.Warn().Err(err).Msg("lock re-sync failed, using signal time")
	}
	if err := m.persistLock(signal.At.UnixMilli()); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist lock")
	}
}

// HandleUnlockSignal reacts to the server reporting the session unlocked elsewhere.
func (m *Manager) HandleUnlockSignal() {
	if !m.Snapshot().Lock.Locked {
		return
	}
	if err := m.store.ClearLock(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear lock keys")
	}
	m.applyLock(sessionmodel.Unlocked)
}

// HandleTerminated drops the in-memory session after the refresh coordinator cleared the
// store.
func (m *Manager) HandleTerminated(cause error) {
	m.logger.Info().AnErr("cause", cause).Msg("session terminated")
	m.clearLocal()
}

func isLockSignal(err error) bool {
	apiErr, ok := auth.AsAPIError(err)
	return ok && apiErr.IsLockSignal()
}

// isAuthFailure reports errors meaning the stored session is no longer valid.
func isAuthFailure(err error) bool {
	if sessionerrors.Is(err, sessionerrors.ErrSessionTerminated) ||
		sessionerrors.Is(err, sessionerrors.ErrRefreshFailed) ||
		sessionerrors.Is(err, sessionerrors.ErrMissingRefreshToken) {
		return true
	}
	apiErr, ok := auth.AsAPIError(err)
	return ok && (apiErr.IsUnauthorized() || apiErr.IsForbidden())
}
