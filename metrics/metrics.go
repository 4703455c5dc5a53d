// Package metrics exposes Prometheus collectors for the session client. A nil *Collectors is
// valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "session"

type Collectors struct {
	refreshAttempts prometheus.Counter
	refreshFailures prometheus.Counter
	refreshWaiters  prometheus.Counter
	locks           prometheus.Counter
	terminations    *prometheus.CounterVec
	state           prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		refreshAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_attempts_total",
			Help:      "Token refresh requests issued.",
		}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_failures_total",
			Help:      "Token refresh attempts that ended the session.",
		}),
		refreshWaiters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_waiters_total",
			Help:      "Requests that waited on an in-flight refresh.",
		}),
		locks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locks_total",
			Help:      "Transitions into the locked state.",
		}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminations_total",
			Help:      "Sessions cleared without a user logout.",
		}, []string{"reason"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current session state: 0 unauthenticated, 1 authenticated, 2 locked.",
		}),
	}

	for _, collector := range []prometheus.Collector{
		c.refreshAttempts, c.refreshFailures, c.refreshWaiters, c.locks, c.terminations, c.state,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collectors) RefreshAttempted() {
	if c == nil {
		return
	}
	c.refreshAttempts.Inc()
}

func (c *Collectors) RefreshFailed() {
	if c == nil {
		return
	}
	c.refreshFailures.Inc()
}

func (c *Collectors) RefreshWaited() {
	if c == nil {
		return
	}
	c.refreshWaiters.Inc()
}

func (c *Collectors) Locked() {
	if c == nil {
		return
	}
	c.locks.Inc()
}

// Terminated counts a forced end of session. reason is a short label such as
// "refresh_failed", "lock_timeout" or an error code.
func (c *Collectors) Terminated(reason string) {
	if c == nil {
		return
	}
	c.terminations.WithLabelValues(reason).Inc()
}

func (c *Collectors) SetState(state int) {
	if c == nil {
		return
	}
	c.state.Set(float64(state))
}
