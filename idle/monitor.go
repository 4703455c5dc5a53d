// Package idle detects user inactivity. A Monitor is Active until no activity pulse has been
// applied for the idle threshold, then Idle until the next pulse.
package idle

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-session-client/internal/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultThreshold = 15 * time.Minute
	DefaultThrottle  = time.Second
)

// Monitor tracks the last applied activity and fires onIdle when the threshold elapses.
type Monitor struct {
	onIdle    func()
	onActive  func()
	threshold time.Duration
	throttle  time.Duration
	clock     clock.Clock
	logger    zerolog.Logger

	lock          sync.Mutex
	started       bool
	stopped       bool
	idle          bool
	lastActivity  time.Time
	deadline      clock.Timer
	deadlineGen   uint64
	throttleTimer clock.Timer
	resets        int
	unsubscribers []func()
}

type Option func(*Monitor)

func WithThreshold(d time.Duration) Option {
	return func(m *Monitor) {
		m.threshold = d
	}
}

// WithThrottle sets the trailing window in which pulses collapse into one reset.
func WithThrottle(d time.Duration) Option {
	return func(m *Monitor) {
		m.throttle = d
	}
}

func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// New creates a stopped monitor. onIdle and onActive may be nil; they are always called
// without the monitor lock held.
func New(onIdle, onActive func(), options ...Option) *Monitor {
	m := &Monitor{
		onIdle:    onIdle,
		onActive:  onActive,
		threshold: DefaultThreshold,
		throttle:  DefaultThrottle,
		clock:     clock.Real(),
		logger:    log.Logger.With().Str("component", "idle").Logger(),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.threshold <= 0 {
		m.threshold = DefaultThreshold
	}
	if m.throttle < 0 {
		m.throttle = 0
	}
	return m
}

// Start records the current time as the last activity and arms the idle deadline.
func (m *Monitor) Start() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true
	m.lastActivity = m.clock.Now()
	m.armLocked()
}

// Pulse reports user activity. While Active, pulses are throttled: the first pulse in a window
// schedules one reset at the end of the window. While Idle, the reset is immediate.
func (m *Monitor) Pulse() {
	m.lock.Lock()
	if !m.started || m.stopped {
		m.lock.Unlock()
		return
	}
	if m.idle {
		m.stopThrottleLocked()
		wake := m.resetLocked()
		m.lock.Unlock()
		m.notify(wake)
		return
	}
	if m.throttleTimer != nil {
		m.lock.Unlock()
		return
	}
	m.throttleTimer = m.clock.AfterFunc(m.throttle, m.throttled)
	m.lock.Unlock()
}

func (m *Monitor) throttled() {
	m.lock.Lock()
	m.throttleTimer = nil
	if m.stopped {
		m.lock.Unlock()
		return
	}
	wake := m.resetLocked()
	m.lock.Unlock()
	m.notify(wake)
}

// resetLocked applies a reset and reports whether the monitor left Idle.
func (m *Monitor) resetLocked() bool {
	m.lastActivity = m.clock.Now()
	m.resets++
	m.armLocked()
	if !m.idle {
		return false
	}
	m.idle = false
	return true
}

func (m *Monitor) armLocked() {
	if m.deadline != nil {
		m.deadline.Stop()
	}
	m.deadlineGen++
	gen := m.deadlineGen
	m.deadline = m.clock.AfterFunc(m.threshold, func() { m.expire(gen) })
}

func (m *Monitor) expire(gen uint64) {
	m.lock.Lock()
	if m.stopped || m.idle || gen != m.deadlineGen {
		m.lock.Unlock()
		return
	}
	m.idle = true
	last := m.lastActivity
	m.lock.Unlock()

	m.logger.Info().Time("last_activity", last).Msg("user idle")
	if m.onIdle != nil {
		m.onIdle()
	}
}

func (m *Monitor) notify(wake bool) {
	if !wake {
		return
	}
	m.logger.Info().Msg("user active")
	if m.onActive != nil {
		m.onActive()
	}
}

func (m *Monitor) stopThrottleLocked() {
	if m.throttleTimer != nil {
		m.throttleTimer.Stop()
		m.throttleTimer = nil
	}
}

// Attach feeds every signal from src into Pulse until Stop.
func (m *Monitor) Attach(src Source) {
	unsubscribe := src.Subscribe(func(Signal) { m.Pulse() })
	m.lock.Lock()
	if m.stopped {
		m.lock.Unlock()
		unsubscribe()
		return
	}
	m.unsubscribers = append(m.unsubscribers, unsubscribe)
	m.lock.Unlock()
}

// Stop cancels both timers and every source subscription. Pulses after Stop are ignored.
func (m *Monitor) Stop() {
	m.lock.Lock()
	if m.stopped {
		m.lock.Unlock()
		return
	}
	m.stopped = true
	if m.deadline != nil {
		m.deadline.Stop()
		m.deadline = nil
	}
	m.stopThrottleLocked()
	unsubscribers := m.unsubscribers
	m.unsubscribers = nil
	m.lock.Unlock()

	for _, unsubscribe := range unsubscribers {
		unsubscribe()
	}
}

func (m *Monitor) IsIdle() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.idle
}

// LastActivity returns when the last reset was applied.
func (m *Monitor) LastActivity() time.Time {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.lastActivity
}

// Resets returns how many resets have been applied since Start.
func (m *Monitor) Resets() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.resets
}
