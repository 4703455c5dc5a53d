package sessionmodel

import "time"

// Credentials is the access/refresh token pair. The access token is short-lived and sent as
// a bearer token; the refresh token is long-lived and only ever sent to the refresh endpoint.
// Both are created by login and destroyed together.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// IsZero reports whether no access token is held.
func (c Credentials) IsZero() bool {
	return c.AccessToken == ""
}

// SessionUser identifies the signed-in user. Set on login or profile fetch, cleared on logout.
type SessionUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// LockState records whether the session is locked and when the server acknowledged the lock.
// LockedAt is epoch milliseconds on the server clock; it anchors the unlock deadline so tabs
// with drifting clocks still agree on it. Locked implies LockedAt != nil.
type LockState struct {
	Locked   bool
	LockedAt *int64
}

// Unlocked is the zero lock state.
var Unlocked = LockState{}

// LockedAtTime returns LockedAt as a time, or the zero time when unlocked.
func (l LockState) LockedAtTime() time.Time {
	if l.LockedAt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*l.LockedAt)
}

// Deadline returns the instant a lock held for window forces logout.
func (l LockState) Deadline(window time.Duration) time.Time {
	return l.LockedAtTime().Add(window)
}

// Remaining returns how long is left before the lock deadline at now, never negative.
func (l LockState) Remaining(now time.Time, window time.Duration) time.Duration {
	if !l.Locked {
		return 0
	}
	remaining := l.Deadline(window).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Equal compares two lock states by value.
func (l LockState) Equal(other LockState) bool {
	if l.Locked != other.Locked {
		return false
	}
	if l.LockedAt == nil || other.LockedAt == nil {
		return l.LockedAt == nil && other.LockedAt == nil
	}
	return *l.LockedAt == *other.LockedAt
}

// SecondsToMillis converts the server's epoch-seconds lock timestamp to epoch millis.
func SecondsToMillis(seconds int64) int64 {
	return seconds * 1000
}
