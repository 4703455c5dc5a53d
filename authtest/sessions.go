package authtest

import (
	"sync"
	"time"
)

// session is the server-side record for one signed-in user. A user holds at most one.
type session struct {
	Username  string
	LoginTime time.Time
	Locked    bool
	LockedAt  time.Time
}

type sessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]session         // userID -> session
	refresh  map[string]map[string]bool // userID -> refresh token IDs
	access   map[string]string          // unexpired access token -> userID
}

func newSessionRepo() *sessionRepo {
	return &sessionRepo{
		sessions: make(map[string]session),
		refresh:  make(map[string]map[string]bool),
		access:   make(map[string]string),
	}
}

// Start replaces any existing session of userID, revoking its refresh tokens. Access tokens
// stay valid JWTs; requests carrying them fail on the session lookup instead.
func (r *sessionRepo) Start(userID string, s session, accessToken, refreshID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(userID)
	r.sessions[userID] = s
	r.refresh[userID] = map[string]bool{refreshID: true}
	r.access[accessToken] = userID
}

func (r *sessionRepo) Get(userID string) (session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Update applies mutate to an existing session.
func (r *sessionRepo) Update(userID string, mutate func(*session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return false
	}
	mutate(&s)
	r.sessions[userID] = s
	return true
}

func (r *sessionRepo) Delete(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(userID)
}

func (r *sessionRepo) deleteLocked(userID string) bool {
	_, ok := r.sessions[userID]
	delete(r.sessions, userID)
	delete(r.refresh, userID)
	return ok
}

func (r *sessionRepo) HasRefresh(userID, refreshID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refresh[userID][refreshID]
}

func (r *sessionRepo) AddAccess(userID, accessToken string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.access[accessToken] = userID
}

func (r *sessionRepo) AccessLive(accessToken string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.access[accessToken]
	return ok
}

// ExpireAccess revokes every issued access token; sessions and refresh tokens survive.
func (r *sessionRepo) ExpireAccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.access = make(map[string]string)
}
