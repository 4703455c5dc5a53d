package config

import (
	"os"
	"path/filepath"
)

const (
	StoreKindMemory = "memory"
	StoreKindFile   = "file"
	StoreKindSQLite = "sqlite"
)

type StoreConfig interface {
	GetStoreKind() string
	GetStorePath() string
}

var _ StoreConfig = (*Settings)(nil)

func (s *Settings) GetStoreKind() string {
	return s.StoreKind
}

// GetStorePath returns where the file and sqlite backends persist credentials. Every process
// pointed at the same path shares one session.
func (s *Settings) GetStorePath() string {
	return s.StorePath
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "sessionctl", "credentials.json")
}
