package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-session-client/auth"
	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/credentials/filestore"
	"github.com/jrsteele09/go-session-client/credentials/memstore"
	"github.com/jrsteele09/go-session-client/credentials/sqlitestore"
	"github.com/jrsteele09/go-session-client/events"
	"github.com/jrsteele09/go-session-client/gateway"
	"github.com/jrsteele09/go-session-client/idle"
	"github.com/jrsteele09/go-session-client/internal/config"
	"github.com/jrsteele09/go-session-client/metrics"
	"github.com/jrsteele09/go-session-client/sessions"
	"github.com/jrsteele09/go-session-client/tabsync"
	"github.com/jrsteele09/go-session-client/token/refresh"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// tab is one process's view of the shared session: the store, the refresh coordinator,
// the gateway, the manager and the synchronizer that keeps it in step with other processes.
type tab struct {
	backend     credentials.Backend
	store       *credentials.Store
	bus         *events.Bus
	coordinator *refresh.Coordinator
	gateway     *gateway.Gateway
	manager     *sessions.Manager
	sync        *tabsync.Synchronizer
	push        *tabsync.PushListener
	monitor     *idle.Monitor
	idleTimeout time.Duration
}

// openBackend selects the credential backend named by the config.
func openBackend(c config.StoreConfig) (credentials.Backend, error) {
	switch c.GetStoreKind() {
	case config.StoreKindMemory:
		return memstore.New(), nil
	case config.StoreKindFile:
		return filestore.Open(c.GetStorePath())
	case config.StoreKindSQLite:
		return sqlitestore.Open(c.GetStorePath())
	default:
		return nil, fmt.Errorf("[openBackend] unknown store kind %q", c.GetStoreKind())
	}
}

// openTab wires the session stack for c and loads the stored session.
func openTab(ctx context.Context, c config.Config, reg prometheus.Registerer) (*tab, error) {
	collectors, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}
	backend, err := openBackend(c)
	if err != nil {
		return nil, err
	}
	t := &tab{backend: backend, bus: events.NewBus()}
	if err := t.wire(ctx, c, collectors); err != nil {
		t.close()
		return nil, err
	}
	return t, nil
}

func (t *tab) wire(ctx context.Context, c config.Config, collectors *metrics.Collectors) error {
	var err error
	if t.store, err = credentials.NewStore(t.backend); err != nil {
		return err
	}

	// Refresh calls go straight to the service so they never re-enter the gateway.
	plain, err := auth.NewHTTPTransport(c.GetBaseURL())
	if err != nil {
		return err
	}
	refresher, err := auth.NewClient(plain)
	if err != nil {
		return err
	}
	t.coordinator, err = refresh.NewCoordinator(t.store, refresher,
		refresh.WithBus(t.bus),
		refresh.WithRefreshTimeout(c.GetRefreshTimeout()),
		refresh.WithMetrics(collectors),
		refresh.WithRedirector(redirectToLogin),
	)
	if err != nil {
		return err
	}
	if t.gateway, err = gateway.New(c.GetBaseURL(), t.store, t.coordinator, gateway.WithBus(t.bus)); err != nil {
		return err
	}
	api, err := auth.NewClient(t.gateway)
	if err != nil {
		return err
	}
	t.manager, err = sessions.NewManager(t.store, api,
		sessions.WithLockWindow(c.GetLockWindow()),
		sessions.WithMetrics(collectors),
		sessions.WithRedirector(redirectToLogin),
	)
	if err != nil {
		return err
	}

	var syncOptions []tabsync.Option
	if c.GetPushURL() != "" {
		t.push, err = tabsync.NewPushListener(c.GetPushURL(), t.store, t.bus, tabsync.WithTerminator(t.coordinator))
		if err != nil {
			return err
		}
		syncOptions = append(syncOptions, tabsync.WithPushListener(t.push))
	}
	if t.sync, err = tabsync.New(t.store, t.bus, t.manager, syncOptions...); err != nil {
		return err
	}
	if err := t.sync.Start(ctx); err != nil {
		return err
	}

	t.idleTimeout = c.GetIdleTimeout()
	t.monitor = idle.New(t.manager.OnIdle, nil,
		idle.WithThreshold(c.GetIdleTimeout()),
		idle.WithThrottle(c.GetIdleThrottle()),
	)

	if err := t.manager.Init(ctx); err != nil {
		// The stored session is kept on transport errors; the next call retries.
		log.Warn().Err(err).Msg("could not verify stored session")
	}
	return nil
}

func (t *tab) close() {
	if t.monitor != nil {
		t.monitor.Stop()
	}
	if t.sync != nil {
		t.sync.Close()
	}
	if t.manager != nil {
		t.manager.Close()
	}
	if err := t.backend.Close(); err != nil {
		log.Warn().Err(err).Msg("closing credential store")
	}
}

func redirectToLogin(_ context.Context, cause error) {
	if cause == nil {
		log.Info().Msg("signed out")
		return
	}
	log.Warn().Err(cause).Msg("session ended, sign in again with `sessionctl login`")
}

var errNotSignedIn = errors.New("not signed in")
