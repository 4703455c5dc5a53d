// Package credentials persists the session's tokens, user and lock flags in origin-shared
// key/value storage and reports writes made by other tabs sharing the same origin.
package credentials

import (
	"context"

	"github.com/jrsteele09/go-session-client/sessionmodel"
)

// Backend is durable key/value storage shared by every tab of an origin.
type Backend interface {
	// Get returns the value for key and whether it was present.
	Get(key sessionmodel.Key) (string, bool, error)

	// Set creates or overwrites the value for key.
	Set(key sessionmodel.Key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key sessionmodel.Key) error

	// Clear removes every listed key in one step: no reader observes a partial clear.
	Clear(keys ...sessionmodel.Key) error

	// Close releases the backend's resources.
	Close() error
}

// Change describes one key changed by another tab. An empty NewValue means the key was removed.
type Change struct {
	Key      sessionmodel.Key
	OldValue string
	NewValue string
}

// Removed reports whether the change deleted the key.
func (c Change) Removed() bool {
	return c.NewValue == ""
}

// Watcher is implemented by backends that can report writes made by other tabs. Writes made
// through the watching tab itself are never delivered, matching browser storage events.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}
