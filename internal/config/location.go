package config

import (
	"os"
	"path/filepath"
)

// GetConfigPath returns the configuration file path. It first checks the
// ALLERGYGUARD_CONFIG environment variable, then falls back to the
// default location (~/.allergyguard/config).
func GetConfigPath() (string, error) {
	if configPath := os.Getenv("ALLERGYGUARD_CONFIG"); configPath != "" {
		return configPath, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".allergyguard", "config"), nil
}

// DefaultCachePath returns the default location for the history cache,
// next to the config file.
func DefaultCachePath() (string, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(configPath), "history.db"), nil
}

// EnsureConfigDir ensures that the configuration directory exists.
func EnsureConfigDir() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	return os.MkdirAll(filepath.Dir(configPath), 0755)
}
