package auth

import (
	"fmt"
	"net/http"
	"strings"

	sessionerrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/sessionmodel"
)

// APIError is a non-2xx answer from the auth service.
type APIError struct {
	Status  int
	Code    sessionmodel.ErrorCode
	Message string
	// Path is the endpoint that produced the error.
	Path string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("auth api %s: status %d: %s", e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("auth api %s: status %d: %s: %s", e.Path, e.Status, e.Code, e.Message)
}

// Is maps error codes onto the package sentinels so callers can use errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case sessionerrors.ErrInvalidCredentials:
		return e.Code == sessionmodel.CodeInvalidCredentials
	case sessionerrors.ErrWrongPassword:
		return e.IsUnauthorized() && e.MentionsPassword()
	case sessionerrors.ErrSessionTerminated:
		return e.IsTerminal()
	case sessionerrors.ErrLockTimeout:
		return e.Code == sessionmodel.CodeLockTimeout
	case sessionerrors.ErrSessionExpired:
		return e.Code == sessionmodel.CodeSessionExpired
	case sessionerrors.ErrSessionNotFound:
		return e.Code == sessionmodel.CodeSessionNotFound
	case sessionerrors.ErrSessionLocked:
		return e.IsLockSignal()
	case sessionerrors.ErrNotAuthenticated:
		return e.IsUnauthorized()
	}
	return false
}

func (e *APIError) IsUnauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

func (e *APIError) IsForbidden() bool {
	return e.Status == http.StatusForbidden
}

// IsTerminal reports whether the code ends the session regardless of status.
func (e *APIError) IsTerminal() bool {
	return e.Code.IsTerminal()
}

// IsLockSignal reports a 403 SESSION_LOCKED answer.
func (e *APIError) IsLockSignal() bool {
	return e.IsForbidden() && e.Code == sessionmodel.CodeSessionLocked
}

// MentionsPassword reports whether the message blames the password, case-insensitively.
func (e *APIError) MentionsPassword() bool {
	return strings.Contains(strings.ToLower(e.Message), "password")
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if sessionerrors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
