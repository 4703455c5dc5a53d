package sessionmodel

// Key names a persisted credential entry. Values are stored as strings, exactly as a browser
// client would keep them in origin storage, so the same store can be shared with one.
type Key string

const (
	KeyAccessToken  Key = "access_token"
	KeyRefreshToken Key = "refresh_token"
	KeyUser         Key = "user_data"
	KeyLocked       Key = "session_locked"
	KeyLockedAt     Key = "session_locked_at"
)

// AllKeys lists every persisted key. Logout and terminal failures clear all of them.
var AllKeys = []Key{KeyAccessToken, KeyRefreshToken, KeyUser, KeyLocked, KeyLockedAt}

// LockedValue is the only value KeyLocked is ever set to; absence means unlocked.
const LockedValue = "true"
