// Package memstore is an in-memory credential origin shared by any number of in-process tabs.
package memstore

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/sessionmodel"
)

// Origin is the shared storage. Each Tab sees every write immediately and is notified of
// writes made by the other tabs.
type Origin struct {
	lock sync.Mutex
	data map[string]string
	tabs map[*Tab]struct{}
}

// NewOrigin creates an empty origin.
func NewOrigin() *Origin {
	return &Origin{
		data: make(map[string]string),
		tabs: make(map[*Tab]struct{}),
	}
}

// NewTab opens a handle on the origin.
func (o *Origin) NewTab() *Tab {
	t := &Tab{origin: o}
	o.lock.Lock()
	o.tabs[t] = struct{}{}
	o.lock.Unlock()
	return t
}

// Snapshot copies the origin's contents.
func (o *Origin) Snapshot() map[string]string {
	o.lock.Lock()
	defer o.lock.Unlock()
	out := make(map[string]string, len(o.data))
	for k, v := range o.data {
		out[k] = v
	}
	return out
}

// Tab is one tab's view of an Origin.
type Tab struct {
	origin *Origin
	lock   sync.Mutex
	feeds  []*credentials.Feed
}

var (
	_ credentials.Backend = (*Tab)(nil)
	_ credentials.Watcher = (*Tab)(nil)
)

// New returns a single tab on a private origin.
func New() *Tab {
	return NewOrigin().NewTab()
}

// Origin returns the storage the tab is attached to.
func (t *Tab) Origin() *Origin {
	return t.origin
}

func (t *Tab) Get(key sessionmodel.Key) (string, bool, error) {
	t.origin.lock.Lock()
	defer t.origin.lock.Unlock()
	v, ok := t.origin.data[string(key)]
	return v, ok, nil
}

func (t *Tab) Set(key sessionmodel.Key, value string) error {
	t.origin.lock.Lock()
	defer t.origin.lock.Unlock()
	old := t.origin.data[string(key)]
	t.origin.data[string(key)] = value
	if old != value {
		t.broadcastLocked(credentials.Change{Key: key, OldValue: old, NewValue: value})
	}
	return nil
}

func (t *Tab) Delete(key sessionmodel.Key) error {
	return t.Clear(key)
}

func (t *Tab) Clear(keys ...sessionmodel.Key) error {
	t.origin.lock.Lock()
	defer t.origin.lock.Unlock()
	var changes []credentials.Change
	for _, key := range keys {
		old, ok := t.origin.data[string(key)]
		if !ok {
			continue
		}
		delete(t.origin.data, string(key))
		changes = append(changes, credentials.Change{Key: key, OldValue: old})
	}
	t.broadcastLocked(changes...)
	return nil
}

// Close detaches the tab from its origin.
func (t *Tab) Close() error {
	t.origin.lock.Lock()
	delete(t.origin.tabs, t)
	t.origin.lock.Unlock()
	return nil
}

// Watch delivers writes made by sibling tabs until ctx is done.
func (t *Tab) Watch(ctx context.Context) (<-chan credentials.Change, error) {
	feed, out := credentials.NewFeed(ctx)
	t.lock.Lock()
	t.feeds = append(t.feeds, feed)
	t.lock.Unlock()
	return out, nil
}

// broadcastLocked publishes to every other tab. Feeds never block, so holding the origin lock
// keeps delivery order identical to write order.
func (t *Tab) broadcastLocked(changes ...credentials.Change) {
	if len(changes) == 0 {
		return
	}
	for other := range t.origin.tabs {
		if other == t {
			continue
		}
		other.publish(changes)
	}
}

func (t *Tab) publish(changes []credentials.Change) {
	t.lock.Lock()
	defer t.lock.Unlock()
	live := t.feeds[:0]
	for _, feed := range t.feeds {
		if feed.Closed() {
			continue
		}
		feed.Publish(changes...)
		live = append(live, feed)
	}
	t.feeds = live
}
