package lexcare

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName      = "lexcare"
	DefaultDatabaseType = "libsql"
	DefaultDatabaseFile = "lexcare.db"

	// DefaultTurnTTLHours bounds how long persisted turn records live.
	DefaultTurnTTLHours = 24 * 30
	// DefaultMatchCacheTTLSeconds is the lifetime of a cached ranked result.
	DefaultMatchCacheTTLSeconds = 3600
	// DefaultCheckpointTTLSeconds is the lifetime of a conversation checkpoint.
	DefaultCheckpointTTLSeconds = 6 * 3600
)

var (
	DefaultConfigPath  = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultDatabaseDir = filepath.Join(userDataDir(), DefaultAppName)
	DefaultDatabaseDSN = "file:" + filepath.Join(DefaultDatabaseDir, DefaultDatabaseFile)
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}
