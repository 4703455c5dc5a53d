// Package filestore keeps the credential origin in a single JSON document on disk. Every
// process opening the same path shares one session; fsnotify reports the other processes'
// writes.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/sessionmodel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const filePerm = 0o600

// Store is one tab's handle on the document.
type Store struct {
	path     string
	fileLock *flock.Flock
	logger   zerolog.Logger

	lock     sync.Mutex
	lastSeen map[string]string // the document as this tab last read or wrote it
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

// Open creates the parent directory if needed and reads the current document.
func Open(path string, options ...Option) (*Store, error) {
	s := &Store{
		path:     path,
		fileLock: flock.New(path + ".lock"),
		logger:   log.Logger.With().Str("component", "filestore").Logger(),
	}
	for _, opt := range options {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("[filestore Open] create dir: %w", err)
	}
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	s.lastSeen = doc
	return s, nil
}

func (s *Store) Get(key sessionmodel.Key) (string, bool, error) {
	doc, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := doc[string(key)]
	return v, ok, nil
}

func (s *Store) Set(key sessionmodel.Key, value string) error {
	return s.update(func(doc map[string]string) {
		doc[string(key)] = value
	})
}

func (s *Store) Delete(key sessionmodel.Key) error {
	return s.Clear(key)
}

func (s *Store) Clear(keys ...sessionmodel.Key) error {
	return s.update(func(doc map[string]string) {
		for _, key := range keys {
			delete(doc, string(key))
		}
	})
}

func (s *Store) Close() error {
	return s.fileLock.Close()
}

// Watch delivers other processes' writes until ctx is done.
func (s *Store) Watch(ctx context.Context) (<-chan credentials.Change, error) {
	feed, out := credentials.NewFeed(ctx)
	s.lock.Lock()
	s.feeds = append(s.feeds, feed)
	s.lock.Unlock()

	base := filepath.Base(s.path)
	match := func(name string) bool { return name == base }
	if err := credentials.WatchDir(ctx, filepath.Dir(s.path), match, s.reconcile, s.logger); err != nil {
		return nil, err
	}
	return out, nil
}

// update applies mutate to the freshest document and writes it back atomically. The
// read-modify-write holds an advisory lock on <path>.lock so processes sharing the document
// never write back a stale copy. Anything another process wrote since this tab last looked is
// published before the write so it is never silently absorbed.
func (s *Store) update(mutate func(map[string]string)) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.fileLock.Lock(); err != nil {
		return fmt.Errorf("[filestore update] lock %s: %w", s.fileLock.Path(), err)
	}
	defer func() {
		if err := s.fileLock.Unlock(); err != nil {
			s.logger.Warn().Err(err).Msg("releasing file lock failed")
		}
	}()

	doc, err := s.load()
	if err != nil {
		return err
	}
	s.publishLocked(credentials.Diff(s.lastSeen, doc))

	next := copyDoc(doc)
	mutate(next)
	if err := s.write(next); err != nil {
		return err
	}
	s.lastSeen = next
	return nil
}

func (s *Store) reconcile() {
	s.lock.Lock()
	defer s.lock.Unlock()

	doc, err := s.load()
	if err != nil {
		s.logger.Warn().Err(err).Msg("reload after change notification failed")
		return
	}
	s.publishLocked(credentials.Diff(s.lastSeen, doc))
	s.lastSeen = doc
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

func (s *Store) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[filestore load] %w", err)
	}
	doc := map[string]string{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("[filestore load] decode %s: %w", s.path, err)
	}
	return doc, nil
}

// write replaces the document via a temp file and rename so readers see either the old or
// the new document, never a mix.
func (s *Store) write(doc map[string]string) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("[filestore write] encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("[filestore write] temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("[filestore write] %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("[filestore write] chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[filestore write] close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("[filestore write] rename: %w", err)
	}
	return nil
}

func copyDoc(doc map[string]string) map[string]string {
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
