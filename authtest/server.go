// Package authtest is an in-process fake of the auth service for tests and local demos. It
// implements the full endpoint contract, including the locked-session gate, the lock timeout
// and the event stream, and exposes hooks for forcing failures.
package authtest

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-client/internal/clock"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/jrsteele09/go-session-client/token/jwt"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// APIPrefix is the path every endpoint is mounted under.
const APIPrefix = "/api/v1"

// DefaultLockTimeout is how long a locked session survives on the server.
const DefaultLockTimeout = 600 * time.Second

// Server is a running fake auth service.
type Server struct {
	*httptest.Server

	mux         *http.ServeMux
	routes      []string
	creator     *jwt.Creator
	users       *userRepo
	sessions    *sessionRepo
	hub         *eventHub
	clock       clock.Clock
	lockTimeout time.Duration
	accessTTL   time.Duration
	seed        map[string]string
	logger      zerolog.Logger

	lock   sync.Mutex
	calls  map[string]int
	forced map[string][]forcedResponse
}

type forcedResponse struct {
	status  int
	code    sessionmodel.ErrorCode
	message string
}

type Option func(*Server)

// WithClock drives token expiry and the lock timeout from c.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.lockTimeout = timeout
	}
}

// WithAccessTokenExpiry shortens issued access tokens.
func WithAccessTokenExpiry(ttl time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = ttl
	}
}

// WithUsers replaces the seeded accounts with username -> password pairs.
func WithUsers(users map[string]string) Option {
	return func(s *Server) {
		s.seed = users
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New starts a fake service on a loopback port. Close it when done.
func New(options ...Option) (*Server, error) {
	s := &Server{
		mux:         http.NewServeMux(),
		users:       newUserRepo(),
		sessions:    newSessionRepo(),
		hub:         newEventHub(),
		clock:       clock.Real(),
		lockTimeout: DefaultLockTimeout,
		accessTTL:   15 * time.Minute,
		logger:      log.Logger.With().Str("component", "authtest").Logger(),
		calls:       make(map[string]int),
		forced:      make(map[string][]forcedResponse),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.seed == nil {
		s.seed = make(map[string]string, len(SeedUsernames))
		for _, username := range SeedUsernames {
			s.seed[username] = DefaultPassword
		}
	}

	creator, err := jwt.NewCreator([]byte("authtest-secret"),
		jwt.WithTokenExpiry(s.accessTTL, 7*24*time.Hour),
		jwt.WithNowFunc(s.clock.Now),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[authtest New] token creator")
	}
	s.creator = creator

	if err := s.seedUsers(); err != nil {
		return nil, err
	}
	s.initRoutes()
	s.Server = httptest.NewServer(s.mux)
	return s, nil
}

// seedUsers creates the accounts with IDs "1", "2", ... in username order.
func (s *Server) seedUsers() error {
	usernames := make([]string, 0, len(s.seed))
	for username := range s.seed {
		usernames = append(usernames, username)
	}
	sort.Strings(usernames)
	for i, username := range usernames {
		hash, err := HashPassword(s.seed[username])
		if err != nil {
			return errors.Wrapf(err, "[authtest New] hash password for %s", username)
		}
		user := &User{ID: strconv.Itoa(i + 1), Username: username, PasswordHash: hash}
		if err := s.users.Upsert(user); err != nil {
			return errors.Wrap(err, "[authtest New]")
		}
	}
	return nil
}

func (s *Server) registerRouteFunc(pattern string, handler http.HandlerFunc) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// BaseURL is the URL clients are configured with.
func (s *Server) BaseURL() string {
	return s.URL + APIPrefix
}

// EventsURL is the websocket URL of the event stream.
func (s *Server) EventsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + APIPrefix + "/auth/events"
}

// Routes lists the registered route patterns.
func (s *Server) Routes() []string {
	return append([]string(nil), s.routes...)
}

// Calls returns how many requests reached path (relative to BaseURL, e.g. "/auth/lock").
func (s *Server) Calls(path string) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.calls[path]
}

// Fail makes the next request to path answer with status and an error body.
func (s *Server) Fail(path string, status int, code sessionmodel.ErrorCode, message string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.forced[path] = append(s.forced[path], forcedResponse{status: status, code: code, message: message})
}

// ExpireAccessTokens revokes every access token issued so far. Refresh tokens keep working.
func (s *Server) ExpireAccessTokens() {
	s.sessions.ExpireAccess()
}

// LockUser locks the user's session as if another client had locked it.
func (s *Server) LockUser(username string) bool {
	user, ok := s.users.GetByUsername(username)
	if !ok {
		return false
	}
	lockedAt, ok := s.lockSession(user.ID)
	if ok {
		s.hub.Publish(user.ID, lockedEvent(lockedAt))
	}
	return ok
}

// EndSession deletes the user's session and tells connected clients it was terminated.
func (s *Server) EndSession(username string) bool {
	user, ok := s.users.GetByUsername(username)
	if !ok || !s.sessions.Delete(user.ID) {
		return false
	}
	s.hub.Publish(user.ID, terminatedEvent(sessionmodel.CodeSessionNotFound))
	return true
}

// SessionLocked reports whether the user holds a locked session.
func (s *Server) SessionLocked(username string) bool {
	user, ok := s.users.GetByUsername(username)
	if !ok {
		return false
	}
	sess, ok := s.sessions.Get(user.ID)
	return ok && sess.Locked
}

// HasSession reports whether the user holds a session.
func (s *Server) HasSession(username string) bool {
	user, ok := s.users.GetByUsername(username)
	if !ok {
		return false
	}
	_, ok = s.sessions.Get(user.ID)
	return ok
}

// Subscribers returns the number of open event streams for the user.
func (s *Server) Subscribers(username string) int {
	user, ok := s.users.GetByUsername(username)
	if !ok {
		return 0
	}
	return s.hub.Count(user.ID)
}

func (s *Server) lockSession(userID string) (time.Time, bool) {
	now := s.clock.Now()
	ok := s.sessions.Update(userID, func(sess *session) {
		sess.Locked = true
		sess.LockedAt = now
	})
	return now, ok
}

func (s *Server) takeForced(path string) (forcedResponse, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.calls[path]++
	queue := s.forced[path]
	if len(queue) == 0 {
		return forcedResponse{}, false
	}
	s.forced[path] = queue[1:]
	return queue[0], true
}
