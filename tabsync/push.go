package tabsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/jrsteele09/go-session-client/auth"
	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/events"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/jrsteele09/go-session-client/token/refresh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultReconnectInterval is the minimum spacing between two dials of the event stream.
const DefaultReconnectInterval = time.Second

const maxFrameBytes = 16 << 10

// Terminator ends a session the server reported as terminated.
type Terminator interface {
	Terminate(ctx context.Context, cause error)
}

var _ Terminator = (*refresh.Coordinator)(nil)

// PushListener subscribes to the auth service's event stream and republishes its frames on
// the bus. The stream is dialled with the access token current at dial time.
type PushListener struct {
	url        string
	store      *credentials.Store
	bus        *events.Bus
	terminator Terminator
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     zerolog.Logger
	connected  atomic.Bool
}

type PushOption func(*PushListener)

// WithReconnectInterval overrides the 1 s dial pacing.
func WithReconnectInterval(interval time.Duration) PushOption {
	return func(p *PushListener) {
		p.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// WithTerminator routes terminated frames through t instead of clearing the store directly.
func WithTerminator(t Terminator) PushOption {
	return func(p *PushListener) {
		p.terminator = t
	}
}

// WithDialClient sets the HTTP client used for the websocket handshake. It must not carry a
// Timeout; the stream is long-lived.
func WithDialClient(client *http.Client) PushOption {
	return func(p *PushListener) {
		p.httpClient = client
	}
}

func WithPushLogger(logger zerolog.Logger) PushOption {
	return func(p *PushListener) {
		p.logger = logger
	}
}

// NewPushListener creates a listener for the stream at url (ws, wss, http or https).
func NewPushListener(url string, store *credentials.Store, bus *events.Bus, options ...PushOption) (*PushListener, error) {
	if url == "" {
		return nil, errors.New("[NewPushListener] url is required")
	}
	if store == nil {
		return nil, errors.New("[NewPushListener] store is required")
	}
	if bus == nil {
		return nil, errors.New("[NewPushListener] bus is required")
	}
	p := &PushListener{
		url:     url,
		store:   store,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Every(DefaultReconnectInterval), 1),
		logger:  log.Logger.With().Str("component", "push").Logger(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

// Connected reports whether a stream is currently open.
func (p *PushListener) Connected() bool {
	return p.connected.Load()
}

// Run keeps a stream open until ctx is done. While no access token is stored it does not dial.
func (p *PushListener) Run(ctx context.Context) error {
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil
		}
		access, err := p.store.AccessToken()
		if err != nil {
			p.logger.Warn().Err(err).Msg("failed to read access token")
			continue
		}
		if access == "" {
			continue
		}

		err = p.listen(ctx, access)
		if ctx.Err() != nil {
			return nil
		}
		p.logger.Debug().Err(err).Msg("event stream closed, reconnecting")
	}
}

func (p *PushListener) listen(ctx context.Context, access string) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+access)

	conn, resp, err := websocket.Dial(ctx, p.url, &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("[PushListener] dial: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	conn.SetReadLimit(maxFrameBytes)

	p.connected.Store(true)
	defer p.connected.Store(false)
	p.logger.Info().Str("url", p.url).Msg("event stream connected")

	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("[PushListener] read: %w", err)
		}
		if mt != websocket.MessageText {
			continue
		}
		var ev auth.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			p.logger.Warn().Err(err).Msg("ignoring malformed event frame")
			continue
		}
		p.dispatch(ctx, ev)
	}
}

func (p *PushListener) dispatch(ctx context.Context, ev auth.Event) {
	p.logger.Debug().Str("type", ev.Type).Msg("event received")
	switch ev.Type {
	case auth.EventSessionLocked:
		signal := events.SessionLocked{At: time.Now(), ServerTime: false}
		if ev.LockedAt > 0 {
			signal = events.SessionLocked{At: time.UnixMilli(sessionmodel.SecondsToMillis(ev.LockedAt)), ServerTime: true}
		}
		p.bus.Publish(signal)

	case auth.EventSessionUnlocked:
		p.bus.Publish(events.SessionUnlocked{})

	case auth.EventSessionTerminated:
		cause := &auth.APIError{
			Status:  http.StatusUnauthorized,
			Code:    ev.ErrorCode,
			Message: "session terminated by the server",
			Path:    auth.PathEvents,
		}
		if p.terminator != nil {
			p.terminator.Terminate(ctx, cause)
			return
		}
		if err := p.store.ClearAll(); err != nil {
			p.logger.Error().Err(err).Msg("failed to clear credentials")
		}
		p.bus.Publish(events.SessionTerminated{Cause: cause})

	default:
		p.logger.Debug().Str("type", ev.Type).Msg("ignoring unknown event")
	}
}
