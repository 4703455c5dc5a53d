package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	sessionerrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/internal/utils"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store is the typed view over a Backend. It is the only component that knows how tokens,
// the user and the lock flags are encoded.
type Store struct {
	backend Backend
	nowTime func() time.Time
	logger  zerolog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithNowTime sets the time source used when a lock flag has no readable timestamp.
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore wraps backend.
func NewStore(backend Backend, options ...StoreOption) (*Store, error) {
	if backend == nil {
		return nil, errors.New("[NewStore] backend is required")
	}
	s := &Store{
		backend: backend,
		nowTime: time.Now,
		logger:  log.Logger.With().Str("component", "credentials").Logger(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Backend returns the underlying storage.
func (s *Store) Backend() Backend {
	return s.backend
}

// Watch reports other tabs' writes when the backend supports it.
func (s *Store) Watch(ctx context.Context) (<-chan Change, error) {
	w, ok := s.backend.(Watcher)
	if !ok {
		return nil, sessionerrors.Wrapf(sessionerrors.ErrUnsupported, "[Store Watch] backend %T cannot watch", s.backend)
	}
	return w.Watch(ctx)
}

func (s *Store) get(key sessionmodel.Key) (string, error) {
	value, _, err := s.backend.Get(key)
	if err != nil {
		return "", fmt.Errorf("[Store get] %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) set(key sessionmodel.Key, value string) error {
	if err := s.backend.Set(key, value); err != nil {
		return fmt.Errorf("[Store set] %s: %w", key, err)
	}
	return nil
}

func (s *Store) delete(key sessionmodel.Key) error {
	if err := s.backend.Delete(key); err != nil {
		return fmt.Errorf("[Store delete] %s: %w", key, err)
	}
	return nil
}

// AccessToken returns the current access token, or "" when none is stored.
func (s *Store) AccessToken() (string, error) {
	return s.get(sessionmodel.KeyAccessToken)
}

func (s *Store) SetAccessToken(token string) error {
	return s.set(sessionmodel.KeyAccessToken, token)
}

func (s *Store) ClearAccessToken() error {
	return s.delete(sessionmodel.KeyAccessToken)
}

// RefreshToken returns the current refresh token, or "" when none is stored.
func (s *Store) RefreshToken() (string, error) {
	return s.get(sessionmodel.KeyRefreshToken)
}

func (s *Store) SetRefreshToken(token string) error {
	return s.set(sessionmodel.KeyRefreshToken, token)
}

func (s *Store) ClearRefreshToken() error {
	return s.delete(sessionmodel.KeyRefreshToken)
}

// Credentials returns both tokens.
func (s *Store) Credentials() (sessionmodel.Credentials, error) {
	access, err := s.AccessToken()
	if err != nil {
		return sessionmodel.Credentials{}, err
	}
	refresh, err := s.RefreshToken()
	if err != nil {
		return sessionmodel.Credentials{}, err
	}
	return sessionmodel.Credentials{AccessToken: access, RefreshToken: refresh}, nil
}

// SetCredentials stores both tokens. The refresh token is written first so a tab reacting to
// the access token change can always refresh.
func (s *Store) SetCredentials(c sessionmodel.Credentials) error {
	if err := s.SetRefreshToken(c.RefreshToken); err != nil {
		return err
	}
	return s.SetAccessToken(c.AccessToken)
}

// User returns the stored user, or nil when none is stored.
func (s *Store) User() (*sessionmodel.SessionUser, error) {
	raw, err := s.get(sessionmodel.KeyUser)
	if err != nil || raw == "" {
		return nil, err
	}
	return DecodeUser(raw)
}

func (s *Store) SetUser(user sessionmodel.SessionUser) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("[Store SetUser] marshal: %w", err)
	}
	return s.set(sessionmodel.KeyUser, string(raw))
}

func (s *Store) ClearUser() error {
	return s.delete(sessionmodel.KeyUser)
}

// DecodeUser parses the serialized user as written by SetUser.
func DecodeUser(raw string) (*sessionmodel.SessionUser, error) {
	var user sessionmodel.SessionUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("[credentials DecodeUser] %w", err)
	}
	return &user, nil
}

// LockState reads the lock flags. A set flag with a missing or unreadable timestamp is
// anchored at the current time so Locked always carries LockedAt.
func (s *Store) LockState() (sessionmodel.LockState, error) {
	flag, err := s.get(sessionmodel.KeyLocked)
	if err != nil {
		return sessionmodel.Unlocked, err
	}
	if flag != sessionmodel.LockedValue {
		return sessionmodel.Unlocked, nil
	}

	raw, err := s.get(sessionmodel.KeyLockedAt)
	if err != nil {
		return sessionmodel.Unlocked, err
	}
	lockedAt, parseErr := strconv.ParseInt(raw, 10, 64)
	if parseErr != nil {
		s.logger.Warn().Str("value", raw).Msg("unreadable lock timestamp, anchoring at now")
		lockedAt = s.nowTime().UnixMilli()
	}
	return sessionmodel.LockState{Locked: true, LockedAt: utils.Ptr(lockedAt)}, nil
}

// SetLock persists a lock anchored at lockedAtMillis. The timestamp is written before the
// flag so tabs reacting to the flag never read a stale anchor.
func (s *Store) SetLock(lockedAtMillis int64) error {
	if err := s.set(sessionmodel.KeyLockedAt, strconv.FormatInt(lockedAtMillis, 10)); err != nil {
		return err
	}
	return s.set(sessionmodel.KeyLocked, sessionmodel.LockedValue)
}

// ClearLock removes both lock keys at once.
func (s *Store) ClearLock() error {
	if err := s.backend.Clear(sessionmodel.KeyLocked, sessionmodel.KeyLockedAt); err != nil {
		return fmt.Errorf("[Store ClearLock] %w", err)
	}
	return nil
}

// ClearAll removes every session key at once.
func (s *Store) ClearAll() error {
	if err := s.backend.Clear(sessionmodel.AllKeys...); err != nil {
		return fmt.Errorf("[Store ClearAll] %w", err)
	}
	return nil
}

// HasSession reports whether anything that ClearAll would remove is still stored.
func (s *Store) HasSession() (bool, error) {
	for _, key := range sessionmodel.AllKeys {
		_, ok, err := s.backend.Get(key)
		if err != nil {
			return false, fmt.Errorf("[Store HasSession] %s: %w", key, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
