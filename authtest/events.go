package authtest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jrsteele09/go-session-client/auth"
	"github.com/jrsteele09/go-session-client/sessionmodel"
)

const (
	subscriberQueueSize = 16
	writeTimeout        = 5 * time.Second
)

func lockedEvent(at time.Time) auth.Event {
	return auth.Event{Type: auth.EventSessionLocked, LockedAt: at.Unix()}
}

func terminatedEvent(code sessionmodel.ErrorCode) auth.Event {
	return auth.Event{Type: auth.EventSessionTerminated, ErrorCode: code}
}

type subscriber struct {
	send chan auth.Event
}

// eventHub fans session events out to each user's open streams.
type eventHub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[string]map[*subscriber]struct{})}
}

func (h *eventHub) add(userID string) *subscriber {
	sub := &subscriber{send: make(chan auth.Event, subscriberQueueSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	return sub
}

func (h *eventHub) remove(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[userID], sub)
	if len(h.subs[userID]) == 0 {
		delete(h.subs, userID)
	}
}

// Publish queues ev for every stream of userID. A full queue drops the event for that stream.
func (h *eventHub) Publish(userID string, ev auth.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[userID] {
		select {
		case sub.send <- ev:
		default:
		}
	}
}

func (h *eventHub) Count(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// EventsHandler upgrades to a websocket and streams the caller's session events.
func (s *Server) EventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.Error().Err(err).Msg("event stream accept failed")
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

		sub := s.hub.add(claims.UserID)
		defer s.hub.remove(claims.UserID, sub)

		// The client never sends; CloseRead reports when it goes away.
		ctx := conn.CloseRead(r.Context())
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-sub.send:
				if err := writeEvent(ctx, conn, ev); err != nil {
					s.logger.Debug().Err(err).Msg("event stream write failed")
					return
				}
			}
		}
	}
}

func writeEvent(parent context.Context, conn *websocket.Conn, ev auth.Event) error {
	ctx, cancel := context.WithTimeout(parent, writeTimeout)
	defer cancel()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
