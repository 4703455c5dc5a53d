package sessions

import "github.com/jrsteele09/go-session-client/sessionmodel"

// State is the session state of one tab.
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Locked
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case Authenticated:
		return "AUTHENTICATED"
	case Locked:
		return "LOCKED"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is a consistent copy of the manager's in-memory state.
type Snapshot struct {
	State State
	User  *sessionmodel.SessionUser
	Lock  sessionmodel.LockState
}

// Username returns the signed-in username, or "" when there is none.
func (s Snapshot) Username() string {
	if s.User == nil {
		return ""
	}
	return s.User.Username
}
