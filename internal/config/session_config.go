package config

import "time"

const (
	DefaultIdleTimeout  = 15 * time.Minute
	DefaultIdleThrottle = 1 * time.Second
	DefaultLockWindow   = 10 * time.Minute
)

type SessionConfig interface {
	GetIdleTimeout() time.Duration
	GetIdleThrottle() time.Duration
	GetLockWindow() time.Duration
}

var _ SessionConfig = (*Settings)(nil)

func (s *Settings) GetIdleTimeout() time.Duration {
	return s.IdleTimeout
}

func (s *Settings) GetIdleThrottle() time.Duration {
	return s.IdleThrottle
}

// GetLockWindow returns how long a locked session may stay locked before a forced logout.
func (s *Settings) GetLockWindow() time.Duration {
	return s.LockWindow
}
