package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config is the full configuration surface consumed by the session client.
type Config interface {
	EnvConfig
	ClientConfig
	StoreConfig
	SessionConfig
}

const envPrefix = "SESSIONCTL_"

// Settings is the concrete configuration. Values are layered: defaults, then the TOML file,
// then SESSIONCTL_* environment variables.
type Settings struct {
	AppName  string `toml:"app_name" env:"APP_NAME"`
	Env      string `toml:"env" env:"ENV"`
	LogLevel string `toml:"log_level" env:"LOG_LEVEL"`

	BaseURL        string        `toml:"base_url" env:"BASE_URL"`
	PushURL        string        `toml:"push_url" env:"PUSH_URL"`
	RefreshTimeout time.Duration `toml:"refresh_timeout" env:"REFRESH_TIMEOUT"`

	StoreKind string `toml:"store_kind" env:"STORE_KIND"`
	StorePath string `toml:"store_path" env:"STORE_PATH"`

	IdleTimeout  time.Duration `toml:"idle_timeout" env:"IDLE_TIMEOUT"`
	IdleThrottle time.Duration `toml:"idle_throttle" env:"IDLE_THROTTLE"`
	LockWindow   time.Duration `toml:"lock_window" env:"LOCK_WINDOW"`
}

var _ Config = (*Settings)(nil)

// New returns the default configuration with environment overrides applied.
func New() Config {
	s, err := Load("")
	if err != nil {
		return Default()
	}
	return s
}

// Default returns the built-in defaults.
func Default() *Settings {
	return &Settings{
		AppName:        defaultAppName,
		Env:            defaultEnv,
		LogLevel:       defaultLogLevel,
		BaseURL:        defaultBaseURL,
		RefreshTimeout: defaultRefreshTimeout,
		StoreKind:      StoreKindFile,
		StorePath:      defaultStorePath(),
		IdleTimeout:    DefaultIdleTimeout,
		IdleThrottle:   DefaultIdleThrottle,
		LockWindow:     DefaultLockWindow,
	}
}

// Load layers the TOML file at path (skipped when empty) and the environment over the defaults.
func Load(path string) (*Settings, error) {
	s := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, s); err != nil {
			return nil, fmt.Errorf("[config Load] decode %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(s, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("[config Load] parse env: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// PathFromEnv returns the config file named by SESSIONCTL_CONFIG, if any.
func PathFromEnv() string {
	return GetEnv(envPrefix+"CONFIG", "")
}

func (s *Settings) validate() error {
	switch s.StoreKind {
	case StoreKindMemory, StoreKindFile, StoreKindSQLite:
	default:
		return fmt.Errorf("[config validate] unknown store kind %q", s.StoreKind)
	}
	if s.BaseURL == "" {
		return fmt.Errorf("[config validate] base url is required")
	}
	if s.RefreshTimeout <= 0 {
		s.RefreshTimeout = defaultRefreshTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.IdleThrottle <= 0 {
		s.IdleThrottle = DefaultIdleThrottle
	}
	if s.LockWindow <= 0 {
		s.LockWindow = DefaultLockWindow
	}
	return nil
}
