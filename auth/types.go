package auth

import (
	"encoding/json"

	"github.com/jrsteele09/go-session-client/sessionmodel"
)

// LoginRequest is the body of PathLogin.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the new credentials and the signed-in user.
type LoginResponse struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         WireUser `json:"user"`
}

// Credentials returns the token pair carried by the response.
func (r LoginResponse) Credentials() sessionmodel.Credentials {
	return sessionmodel.Credentials{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
}

// WireUser decodes a user as the service sends it. Login answers with "id" while profile
// answers with "userId"; both land in the same field.
type WireUser sessionmodel.SessionUser

func (u *WireUser) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string `json:"id"`
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.UserID = raw.UserID
	if u.UserID == "" {
		u.UserID = raw.ID
	}
	u.Username = raw.Username
	return nil
}

// SessionUser converts to the domain type.
func (u WireUser) SessionUser() sessionmodel.SessionUser {
	return sessionmodel.SessionUser(u)
}

// RefreshRequest is the body of PathRefreshToken.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse carries the replacement access token.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// ProfileResponse is the body of PathProfile.
type ProfileResponse struct {
	User WireUser `json:"user"`
}

// CheckSessionResponse is the body of PathCheckSession. LockedAt is epoch seconds on the
// server clock.
type CheckSessionResponse struct {
	Locked   bool  `json:"locked"`
	LockedAt int64 `json:"lockedAt,omitempty"`
}

// LockState converts the server view to the stored representation.
func (r CheckSessionResponse) LockState() sessionmodel.LockState {
	if !r.Locked {
		return sessionmodel.Unlocked
	}
	millis := sessionmodel.SecondsToMillis(r.LockedAt)
	return sessionmodel.LockState{Locked: true, LockedAt: &millis}
}

// LockResponse is the body of PathLock. LockedAt is epoch seconds on the server clock.
type LockResponse struct {
	LockedAt int64 `json:"lockedAt"`
}

// UnlockRequest is the body of PathUnlock.
type UnlockRequest struct {
	Password string `json:"password"`
}

// ErrorBody is the error payload returned by every endpoint.
type ErrorBody struct {
	ErrorCode sessionmodel.ErrorCode `json:"errorCode"`
	Message   string                 `json:"message"`
}

// Event is a frame on the PathEvents stream.
type Event struct {
	Type      string                 `json:"type"`
	LockedAt  int64                  `json:"lockedAt,omitempty"`
	ErrorCode sessionmodel.ErrorCode `json:"errorCode,omitempty"`
}

// Event types sent on PathEvents.
const (
	EventSessionLocked     = "session.locked"
	EventSessionUnlocked   = "session.unlocked"
	EventSessionTerminated = "session.terminated"
)
