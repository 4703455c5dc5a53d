// Package sqlitestore keeps the credential origin in a SQLite database so several processes
// can share one session with transactional clears.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `CREATE TABLE IF NOT EXISTS credentials (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// Store is one tab's handle on the database.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger

	lock     sync.Mutex
	lastSeen map[string]string
	feeds    []*credentials.Feed
}

var (
	_ credentials.Backend = (*Store)(nil)
	_ credentials.Watcher = (*Store)(nil)
)

type Option func(*Store)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (creating if needed) the database at path.
func Open(path string, options ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("[sqlitestore Open] create dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("[sqlitestore Open] open: %w", err)
	}
	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("[sqlitestore Open] %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("[sqlitestore Open] schema: %w", err)
	}

	s := &Store{
		db:     db,
		path:   path,
		logger: log.Logger.With().Str("component", "sqlitestore").Logger(),
	}
	for _, opt := range options {
		opt(s)
	}

	snapshot, err := s.snapshot(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	s.lastSeen = snapshot
	return s, nil
}

func (s *Store) Get(key sessionmodel.Key) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM credentials WHERE key = ?`, string(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("[sqlitestore Get] %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Set(key sessionmodel.Key, value string) error {
	return s.update(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO credentials (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, string(key), value)
		return err
	})
}

func (s *Store) Delete(key sessionmodel.Key) error {
	return s.Clear(key)
}

// Clear deletes keys in a single transaction.
func (s *Store) Clear(keys ...sessionmodel.Key) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = string(key)
	}
	return s.update(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM credentials WHERE key IN (`+placeholders+`)`, args...)
		return err
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Watch delivers other processes' writes until ctx is done.
func (s *Store) Watch(ctx context.Context) (<-chan credentials.Change, error) {
	feed, out := credentials.NewFeed(ctx)
	s.lock.Lock()
	s.feeds = append(s.feeds, feed)
	s.lock.Unlock()

	base := filepath.Base(s.path)
	match := func(name string) bool { return strings.HasPrefix(name, base) }
	if err := credentials.WatchDir(ctx, filepath.Dir(s.path), match, s.reconcile, s.logger); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) update(apply func(tx *sql.Tx) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("[sqlitestore update] begin: %w", err)
	}
	defer tx.Rollback()

	before, err := snapshotTx(ctx, tx)
	if err != nil {
		return err
	}
	if err := apply(tx); err != nil {
		return fmt.Errorf("[sqlitestore update] %w", err)
	}
	after, err := snapshotTx(ctx, tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("[sqlitestore update] commit: %w", err)
	}

	s.publishLocked(credentials.Diff(s.lastSeen, before))
	s.lastSeen = after
	return nil
}

func (s *Store) reconcile() {
	s.lock.Lock()
	defer s.lock.Unlock()

	snapshot, err := s.snapshot(context.Background())
	if err != nil {
		s.logger.Warn().Err(err).Msg("reload after change notification failed")
		return
	}
	s.publishLocked(credentials.Diff(s.lastSeen, snapshot))
	s.lastSeen = snapshot
}

func (s *Store) publishLocked(changes []credentials.Change) {
	if len(changes) == 0 {
		return
	}
	live := s.feeds[:0]
	for _, feed := range s.feeds {
		if feed.Closed() {
			continue
		}
		feed.Publish(changes...)
		live = append(live, feed)
	}
	s.feeds = live
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) snapshot(ctx context.Context) (map[string]string, error) {
	return snapshotFrom(ctx, s.db)
}

func snapshotTx(ctx context.Context, tx *sql.Tx) (map[string]string, error) {
	return snapshotFrom(ctx, tx)
}

func snapshotFrom(ctx context.Context, q queryer) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM credentials`)
	if err != nil {
		return nil, fmt.Errorf("[sqlitestore snapshot] %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("[sqlitestore snapshot] scan: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}
