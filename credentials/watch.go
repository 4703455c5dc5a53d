package credentials

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// WatchDir runs an fsnotify loop over dir until ctx is done, calling onChange for every
// write, create, rename or remove of a file accepted by match. It returns once the watch is
// established; the loop runs on its own goroutine.
func WatchDir(ctx context.Context, dir string, match func(name string) bool, onChange func(), logger zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("[credentials WatchDir] new watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("[credentials WatchDir] watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !match(filepath.Base(event.Name)) {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					onChange()
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Str("dir", dir).Msg("credential watch error")
			}
		}
	}()
	return nil
}
