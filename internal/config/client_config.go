package config

import "time"

const (
	defaultBaseURL        = "http://localhost:8080/api/v1"
	defaultRefreshTimeout = 30 * time.Second
)

type ClientConfig interface {
	GetBaseURL() string
	GetPushURL() string
	GetRefreshTimeout() time.Duration
}

var _ ClientConfig = (*Settings)(nil)

// GetBaseURL returns the auth service base URL, e.g. "http://localhost:8080/api/v1".
func (s *Settings) GetBaseURL() string {
	return s.BaseURL
}

// GetPushURL returns the websocket event stream URL. Empty disables server push.
func (s *Settings) GetPushURL() string {
	return s.PushURL
}

func (s *Settings) GetRefreshTimeout() time.Duration {
	return s.RefreshTimeout
}
