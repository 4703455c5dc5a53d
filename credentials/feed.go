package credentials

import (
	"context"
	"sync"
)

// Feed is an unbounded, ordered change queue. Publishers never block, so a backend may
// publish while holding its own lock even when the consumer writes back to the store.
type Feed struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Change
	closed  bool
}

// NewFeed starts a feed that delivers on the returned channel until ctx is done.
func NewFeed(ctx context.Context) (*Feed, <-chan Change) {
	f := &Feed{}
	f.cond = sync.NewCond(&f.mu)
	out := make(chan Change)

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		f.cond.Broadcast()
	}()

	go f.pump(ctx, out)
	return f, out
}

// Publish queues changes for delivery in order.
func (f *Feed) Publish(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	f.mu.Lock()
	if !f.closed {
		f.pending = append(f.pending, changes...)
	}
	f.mu.Unlock()
	f.cond.Signal()
}

// Closed reports whether the feed's context has ended.
func (f *Feed) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Feed) pump(ctx context.Context, out chan<- Change) {
	defer close(out)
	for {
		f.mu.Lock()
		for len(f.pending) == 0 && !f.closed {
			f.cond.Wait()
		}
		if f.closed {
			f.mu.Unlock()
			return
		}
		next := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()

		select {
		case out <- next:
		case <-ctx.Done():
			return
		}
	}
}

// Diff returns one Change per key whose value differs between before and after, in
// sessionmodel.AllKeys order followed by any other keys.
func Diff(before, after map[string]string) []Change {
	var changes []Change
	seen := make(map[string]struct{}, len(before)+len(after))
	for _, key := range orderedKeys(before, after) {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if before[key] != after[key] {
			changes = append(changes, Change{Key: keyOf(key), OldValue: before[key], NewValue: after[key]})
		}
	}
	return changes
}
