// Package refresh owns token refresh for one tab. However many requests fail with 401 at the
// same time, at most one refresh call is in flight; every other caller waits for that call's
// outcome.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-client/auth"
	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/events"
	sessionerrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/metrics"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultRefreshTimeout = 30 * time.Second

// Refresher exchanges a refresh token for a new access token. It must not route through the
// gateway.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
}

var _ Refresher = (*auth.Client)(nil)

// Redirector sends the user back to the public entry point after the session ended.
type Redirector func(ctx context.Context, cause error)

// Result is the outcome of one refresh attempt as seen by one caller.
type Result struct {
	// AttemptID identifies the attempt. Callers that waited share the refresher's ID.
	AttemptID   uuid.UUID
	Credentials sessionmodel.Credentials
	Err         error
}

// Coordinator serializes refreshes. Its in-flight flag and waiter queue are private; nothing
// outside the coordinator can observe a half-settled attempt.
type Coordinator struct {
	store     *credentials.Store
	refresher Refresher
	bus       *events.Bus
	redirect  Redirector
	timeout   time.Duration
	metrics   *metrics.Collectors
	logger    zerolog.Logger

	lock     sync.Mutex
	inFlight bool
	attempt  uuid.UUID
	waiters  []chan Result

	// endLock serializes Terminate. ended records that a session was terminated and endedFor
	// the refresh token it held, so concurrent terminal failures end it once.
	endLock  sync.Mutex
	ended    bool
	endedFor string
}

type CoordinatorOption func(*Coordinator)

// WithRefreshTimeout bounds the refresh call. The call is detached from the caller's context,
// so this is the only limit on how long waiters may be held.
func WithRefreshTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

func WithBus(bus *events.Bus) CoordinatorOption {
	return func(c *Coordinator) {
		c.bus = bus
	}
}

func WithRedirector(redirect Redirector) CoordinatorOption {
	return func(c *Coordinator) {
		c.redirect = redirect
	}
}

func WithMetrics(m *metrics.Collectors) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithLogger(logger zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a Coordinator that persists refreshed tokens into store.
func NewCoordinator(store *credentials.Store, refresher Refresher, options ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("[NewCoordinator] store is required")
	}
	if refresher == nil {
		return nil, errors.New("[NewCoordinator] refresher is required")
	}
	c := &Coordinator{
		store:     store,
		refresher: refresher,
		timeout:   DefaultRefreshTimeout,
		logger:    log.Logger.With().Str("component", "refresh").Logger(),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.redirect == nil {
		logger := c.logger
		c.redirect = func(_ context.Context, cause error) {
			logger.Info().Err(cause).Msg("redirect to login")
		}
	}
	return c, nil
}

// Refresh obtains a fresh access token. If an attempt is already in flight the caller joins
// its waiter queue; otherwise the caller performs the attempt. A failed attempt terminates
// the session before any waiter resumes.
//
// Cancelling ctx releases a waiting caller early but never cancels the attempt itself.
func (c *Coordinator) Refresh(ctx context.Context) Result {
	c.lock.Lock()
	if c.inFlight {
		ch := make(chan Result, 1)
		c.waiters = append(c.waiters, ch)
		attempt := c.attempt
		waiting := len(c.waiters)
		c.lock.Unlock()

		c.metrics.RefreshWaited()
		c.logger.Debug().Str("attempt", attempt.String()).Int("position", waiting).Msg("waiting for in-flight refresh")
		select {
		case res := <-ch:
			return res
		case <-ctx.Done():
			return Result{AttemptID: attempt, Err: ctx.Err()}
		}
	}
	c.inFlight = true
	c.attempt = uuid.New()
	attempt := c.attempt
	c.lock.Unlock()

	res := c.run(ctx, attempt)
	if res.Err != nil {
		c.metrics.RefreshFailed()
		c.Terminate(ctx, res.Err)
	}
	c.settle(res)
	return res
}

func (c *Coordinator) run(ctx context.Context, attempt uuid.UUID) Result {
	res := Result{AttemptID: attempt}
	logger := c.logger.With().Str("attempt", attempt.String()).Logger()

	refreshToken, err := c.store.RefreshToken()
	if err != nil {
		res.Err = fmt.Errorf("[Coordinator Refresh] read refresh token: %w: %w", sessionerrors.ErrRefreshFailed, err)
		return res
	}
	if refreshToken == "" {
		res.Err = sessionerrors.Wrapf(sessionerrors.ErrMissingRefreshToken, "[Coordinator Refresh]")
		return res
	}

	c.metrics.RefreshAttempted()
	logger.Debug().Msg("refreshing access token")

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	access, err := c.refresher.RefreshToken(callCtx, refreshToken)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", sessionerrors.ErrRefreshFailed, err)
		return res
	}
	if err := c.store.SetAccessToken(access); err != nil {
		res.Err = fmt.Errorf("[Coordinator Refresh] store access token: %w: %w", sessionerrors.ErrRefreshFailed, err)
		return res
	}

	logger.Debug().Msg("access token refreshed")
	res.Credentials = sessionmodel.Credentials{AccessToken: access, RefreshToken: refreshToken}
	return res
}

// settle hands res to every waiter in arrival order and clears the in-flight state in the
// same critical section, so a caller arriving afterwards starts a new attempt instead of
// joining a drained queue.
func (c *Coordinator) settle(res Result) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, ch := range c.waiters {
		ch <- res
	}
	c.waiters = nil
	c.inFlight = false
}

// Terminate ends the session: every credential and lock key is cleared, SessionTerminated is
// published and the redirector runs. It acts once per session: later calls for a session that
// was already ended (nothing stored, or the same refresh token) are dropped. When nothing is
// stored on the first call the keys are left alone but the event is still published so
// in-memory state converges.
func (c *Coordinator) Terminate(ctx context.Context, cause error) {
	c.endLock.Lock()
	refreshToken, err := c.store.RefreshToken()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to read refresh token before clearing")
	}
	if c.ended && err == nil && (refreshToken == "" || refreshToken == c.endedFor) {
		c.endLock.Unlock()
		c.logger.Debug().Err(cause).Msg("session already terminated")
		return
	}

	stored, err := c.store.HasSession()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to read credentials before clearing")
		stored = true
	}
	if stored {
		if err := c.store.ClearAll(); err != nil {
			c.logger.Error().Err(err).Msg("failed to clear credentials")
		}
	}
	c.ended = true
	c.endedFor = refreshToken
	c.endLock.Unlock()

	reason := terminationReason(cause)
	c.metrics.Terminated(reason)
	c.logger.Error().Err(cause).Str("reason", reason).Msg("session terminated")

	c.bus.Publish(events.SessionTerminated{Cause: cause})
	c.redirect(ctx, cause)
}

// Refreshing reports whether an attempt is in flight.
func (c *Coordinator) Refreshing() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.inFlight
}

// Waiting returns the number of callers queued behind the in-flight attempt.
func (c *Coordinator) Waiting() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.waiters)
}

func terminationReason(cause error) string {
	if apiErr, ok := auth.AsAPIError(cause); ok && apiErr.Code != "" {
		return string(apiErr.Code)
	}
	if sessionerrors.Is(cause, sessionerrors.ErrMissingRefreshToken) {
		return "missing_refresh_token"
	}
	return "refresh_failed"
}
