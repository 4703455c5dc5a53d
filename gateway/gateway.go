// Package gateway is the single path every authenticated call takes to the auth service. It
// attaches the current bearer token, routes 401s through the refresh coordinator, ends the
// session on terminal error codes, and raises the lock signal on 403 SESSION_LOCKED.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-session-client/auth"
	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/events"
	"github.com/jrsteele09/go-session-client/internal/clock"
	sessionerrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/token/refresh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/jrsteele09/go-session-client/gateway"

// Request is one call to the auth service. Body is re-encoded for every attempt.
type Request struct {
	Method string
	Path   string
	Body   any
}

// Response describes how a successful call was served.
type Response struct {
	Status  int
	Retried bool
}

// Gateway wraps an *http.Client with session handling.
type Gateway struct {
	baseURL     string
	store       *credentials.Store
	coordinator *refresh.Coordinator
	client      *http.Client
	bus         *events.Bus
	clock       clock.Clock
	tracer      trace.Tracer
	passthrough map[string]bool
	logger      zerolog.Logger
}

var _ auth.Transport = (*Gateway)(nil)

type Option func(*Gateway)

func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

func WithBus(bus *events.Bus) Option {
	return func(g *Gateway) {
		g.bus = bus
	}
}

func WithClock(c clock.Clock) Option {
	return func(g *Gateway) {
		g.clock = c
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) {
		g.tracer = tp.Tracer(instrumentationName)
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithPassthrough replaces the set of paths whose 401 answers are returned to the caller
// without a refresh. Terminal codes are still honoured on these paths.
func WithPassthrough(paths ...string) Option {
	return func(g *Gateway) {
		g.passthrough = make(map[string]bool, len(paths))
		for _, p := range paths {
			g.passthrough[p] = true
		}
	}
}

// New creates a Gateway for the service at baseURL.
func New(baseURL string, store *credentials.Store, coordinator *refresh.Coordinator, options ...Option) (*Gateway, error) {
	if baseURL == "" {
		return nil, errors.New("[gateway New] base url is required")
	}
	if store == nil {
		return nil, errors.New("[gateway New] store is required")
	}
	if coordinator == nil {
		return nil, errors.New("[gateway New] coordinator is required")
	}
	g := &Gateway{
		baseURL:     baseURL,
		store:       store,
		coordinator: coordinator,
		client:      http.DefaultClient,
		clock:       clock.Real(),
		tracer:      otel.Tracer(instrumentationName),
		logger:      log.Logger.With().Str("component", "gateway").Logger(),
	}
	WithPassthrough(auth.PathUnlock, auth.PathLogin, auth.PathRefreshToken)(g)
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// Send implements auth.Transport.
func (g *Gateway) Send(ctx context.Context, method, path string, body, out any) error {
	_, err := g.Do(ctx, &Request{Method: method, Path: path, Body: body}, out)
	return err
}

// Do performs req, decoding a 2xx body into out. A 401 is answered by one refresh and one
// replay; the replay reads the bearer token from the store again.
func (g *Gateway) Do(ctx context.Context, req *Request, out any) (*Response, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Do", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
		))
	defer span.End()

	resp := &Response{}
	for {
		status, err := g.attempt(ctx, req, out)
		resp.Status = status
		span.SetAttributes(attribute.Int("http.response.status_code", status), attribute.Bool("session.retried", resp.Retried))
		if err == nil {
			return resp, nil
		}

		err = g.handle(ctx, req, resp, err)
		if errors.Is(err, errReplay) {
			continue
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}
}

var errReplay = errors.New("replay")

// handle maps a failed attempt to the caller's error, or errReplay when the request should be
// sent again.
func (g *Gateway) handle(ctx context.Context, req *Request, resp *Response, err error) error {
	apiErr, ok := auth.AsAPIError(err)
	if !ok {
		return err
	}
	logger := g.logger.With().Str("path", req.Path).Int("status", apiErr.Status).Str("code", string(apiErr.Code)).Logger()

	switch {
	case apiErr.IsTerminal():
		logger.Warn().Msg("terminal error code, ending session")
		g.coordinator.Terminate(ctx, apiErr)
		return fmt.Errorf("%w: %w", sessionerrors.ErrSessionTerminated, apiErr)

	case apiErr.IsUnauthorized() && g.passthrough[req.Path]:
		return apiErr

	case apiErr.IsUnauthorized() && !resp.Retried:
		resp.Retried = true
		logger.Debug().Msg("access token rejected, refreshing")
		res := g.coordinator.Refresh(ctx)
		if res.Err != nil {
			return res.Err
		}
		return errReplay

	case apiErr.IsLockSignal():
		logger.Info().Msg("server reports session locked")
		g.bus.Publish(events.SessionLocked{At: g.clock.Now()})
		return apiErr
	}
	return apiErr
}

func (g *Gateway) attempt(ctx context.Context, req *Request, out any) (int, error) {
	httpReq, err := auth.NewRequest(ctx, g.baseURL, req.Method, req.Path, req.Body)
	if err != nil {
		return 0, err
	}
	access, err := g.store.AccessToken()
	if err != nil {
		return 0, fmt.Errorf("[Gateway Do] read access token: %w", err)
	}
	if access != "" {
		httpReq.Header.Set("Authorization", "Bearer "+access)
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("[Gateway Do] %s %s: %w", req.Method, req.Path, err)
	}
	return httpResp.StatusCode, auth.DecodeResponse(httpResp, req.Path, out)
}
