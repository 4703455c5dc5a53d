package idle

import "sync"

// Signal is a kind of user activity.
type Signal int

const (
	PointerDown Signal = iota
	PointerMove
	KeyDown
	Scroll
	TouchStart
	Click
)

func (s Signal) String() string {
	switch s {
	case PointerDown:
		return "pointer-down"
	case PointerMove:
		return "pointer-move"
	case KeyDown:
		return "key-down"
	case Scroll:
		return "scroll"
	case TouchStart:
		return "touch-start"
	case Click:
		return "click"
	default:
		return "unknown"
	}
}

// Source delivers activity signals to a subscriber until the returned function is called.
type Source interface {
	Subscribe(fn func(Signal)) (unsubscribe func())
}

// SourceFunc adapts a subscribe function to Source.
type SourceFunc func(fn func(Signal)) (unsubscribe func())

func (f SourceFunc) Subscribe(fn func(Signal)) func() {
	return f(fn)
}

// ChanSource forwards signals received on a channel.
type ChanSource <-chan Signal

// Subscribe starts a goroutine that forwards signals until unsubscribe is called or the
// channel is closed.
func (c ChanSource) Subscribe(fn func(Signal)) func() {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case s, ok := <-c:
				if !ok {
					return
				}
				fn(s)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
