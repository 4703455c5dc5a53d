package config

import (
	"os"
)

const (
	defaultAppName  = "Session Client"
	defaultEnv      = "DEV"
	defaultLogLevel = "info"
)

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

var _ EnvConfig = (*Settings)(nil)

func (s *Settings) GetAppName() string {
	return s.AppName
}

// GetEnv returns the deployment environment; anything other than DEV switches the CLI to
// JSON logs.
func (s *Settings) GetEnv() string {
	if s.Env == "" {
		return defaultEnv
	}
	return s.Env
}

func (s *Settings) GetLogLevel() string {
	return s.LogLevel
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
