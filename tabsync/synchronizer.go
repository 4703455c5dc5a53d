// Package tabsync keeps one tab's session manager consistent with writes made by other tabs
// and with session signals raised inside the tab itself.
package tabsync

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/events"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/jrsteele09/go-session-client/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink receives the reconciled signals.
type Sink interface {
	ReloadLock()
	ClearLocal()
	AdoptUser(user sessionmodel.SessionUser)
	HandleLockSignal(ctx context.Context, signal events.SessionLocked)
	HandleUnlockSignal()
	HandleTerminated(cause error)
}

var _ Sink = (*sessions.Manager)(nil)

// Synchronizer routes storage changes and bus events to a Sink from a single goroutine, so the
// sink sees them in arrival order.
type Synchronizer struct {
	watcher credentials.Watcher
	bus     *events.Bus
	sink    Sink
	push    *PushListener
	logger  zerolog.Logger

	lock        sync.Mutex
	started     bool
	cancel      context.CancelFunc
	unsubscribe func()
	pending     []events.Event
	wake        chan struct{}
	wg          sync.WaitGroup
}

type Option func(*Synchronizer)

// WithPushListener also runs listener while the synchronizer is started.
func WithPushListener(listener *PushListener) Option {
	return func(s *Synchronizer) {
		s.push = listener
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// New creates a synchronizer. watcher is the tab's own storage backend; bus is the tab's
// intra-process bus.
func New(watcher credentials.Watcher, bus *events.Bus, sink Sink, options ...Option) (*Synchronizer, error) {
	if watcher == nil {
		return nil, errors.New("[tabsync New] watcher is required")
	}
	if bus == nil {
		return nil, errors.New("[tabsync New] bus is required")
	}
	if sink == nil {
		return nil, errors.New("[tabsync New] sink is required")
	}
	s := &Synchronizer{
		watcher: watcher,
		bus:     bus,
		sink:    sink,
		logger:  log.Logger.With().Str("component", "tabsync").Logger(),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Start begins watching. It returns once the storage watch is established.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started {
		return errors.New("[Synchronizer Start] already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	changes, err := s.watcher.Watch(ctx)
	if err != nil {
		cancel()
		return errors.Wrap(err, "[Synchronizer Start] watch")
	}
	s.started = true
	s.cancel = cancel
	s.unsubscribe = s.bus.Subscribe(s.enqueue)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, changes)
	}()

	if s.push != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.push.Run(ctx); err != nil {
				s.logger.Error().Err(err).Msg("event stream listener stopped")
			}
		}()
	}
	s.logger.Debug().Msg("synchronizer started")
	return nil
}

// Close stops watching and waits for the goroutines it started. It must not be called from a
// Sink method.
func (s *Synchronizer) Close() {
	s.lock.Lock()
	if !s.started {
		s.lock.Unlock()
		return
	}
	s.started = false
	cancel, unsubscribe := s.cancel, s.unsubscribe
	s.pending = nil
	s.lock.Unlock()

	unsubscribe()
	cancel()
	s.wg.Wait()
}

// enqueue is the bus handler. Publishers may be running inside a sink call, so it never
// blocks.
func (s *Synchronizer) enqueue(e events.Event) {
	s.lock.Lock()
	s.pending = append(s.pending, e)
	s.lock.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) loop(ctx context.Context, changes <-chan credentials.Change) {
	for {
		select {
		case <-ctx.Done():
			return

		case change, ok := <-changes:
			if !ok {
				return
			}
			s.handleChange(change)

		case <-s.wake:
			s.lock.Lock()
			pending := s.pending
			s.pending = nil
			s.lock.Unlock()
			for _, e := range pending {
				s.handleEvent(ctx, e)
			}
		}
	}
}

func (s *Synchronizer) handleChange(change credentials.Change) {
	switch change.Key {
	case sessionmodel.KeyLocked:
		s.logger.Debug().Bool("locked", !change.Removed()).Msg("lock changed in another tab")
		s.sink.ReloadLock()

	case sessionmodel.KeyAccessToken:
		if change.Removed() {
			s.logger.Debug().Msg("session ended in another tab")
			s.sink.ClearLocal()
		}

	case sessionmodel.KeyUser:
		if change.Removed() {
			return
		}
		user, err := credentials.DecodeUser(change.NewValue)
		if err != nil || user == nil {
			s.logger.Warn().Err(err).Msg("ignoring unreadable user written by another tab")
			return
		}
		s.logger.Debug().Str("user", user.Username).Msg("session started in another tab")
		s.sink.AdoptUser(*user)
	}
}

func (s *Synchronizer) handleEvent(ctx context.Context, e events.Event) {
	switch ev := e.(type) {
	case events.SessionLocked:
		s.sink.HandleLockSignal(ctx, ev)
	case events.SessionUnlocked:
		s.sink.HandleUnlockSignal()
	case events.SessionTerminated:
		s.sink.HandleTerminated(ev.Cause)
	}
}
