package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session client
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWrongPassword      = errors.New("wrong unlock password")
	ErrNotAuthenticated   = errors.New("not authenticated")

	// Token errors
	ErrMissingAccessToken  = errors.New("missing access token")
	ErrMissingRefreshToken = errors.New("missing refresh token")
	ErrRefreshFailed       = errors.New("token refresh failed")

	// Session errors
	ErrSessionLocked     = errors.New("session locked")
	ErrSessionTerminated = errors.New("session terminated")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExpired    = errors.New("session expired")
	ErrLockTimeout       = errors.New("session lock timed out")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors, skipping nils
func Join(errs ...error) error {
	return errors.Join(errs...)
}
