package sessionmodel

// ErrorCode is the machine-readable code carried in the auth service's error body.
type ErrorCode string

const (
	CodeLockTimeout           ErrorCode = "LOCK_TIMEOUT"
	CodeSessionExpired        ErrorCode = "SESSION_EXPIRED"
	CodeSessionNotFound       ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionLocked         ErrorCode = "SESSION_LOCKED"
	CodeInvalidCredentials    ErrorCode = "INVALID_CREDENTIALS"
	CodeMissingCredentials    ErrorCode = "MISSING_CREDENTIALS"
	CodeInvalidOrExpiredToken ErrorCode = "INVALID_OR_EXPIRED_TOKEN"
	CodeInvalidPassword       ErrorCode = "INVALID_PASSWORD"
	CodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
)

// IsTerminal reports whether the code ends the session outright. Terminal codes are never
// retried or refreshed.
func (c ErrorCode) IsTerminal() bool {
	switch c {
	case CodeLockTimeout, CodeSessionExpired, CodeSessionNotFound:
		return true
	}
	return false
}
