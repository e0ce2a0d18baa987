package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Application directory name used across all platforms.
const appName = "sncloud-go"

// Config file name.
const configFileName = "config.toml"

// DefaultConfigDir returns the platform-specific directory for config
// files. On Linux, respects XDG_CONFIG_HOME (defaults to
// ~/.config/sncloud-go). On macOS, uses ~/Library/Application Support per
// Apple guidelines.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".config", appName)
	}
}

// DefaultConfigPath returns the full path of the default config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultDataDir returns the platform-specific directory for application
// data (token cache, journal database). On Linux, respects XDG_DATA_HOME
// (defaults to ~/.local/share/sncloud-go).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".local", "share", appName)
	}
}

// TokenCachePath resolves the token cache location from the config:
// explicit path, "none" to disable, or the platform default.
func (c *Config) TokenCachePath() string {
	switch c.Auth.TokenCache {
	case "none":
		return ""
	case "":
		dir := DefaultDataDir()
		if dir == "" {
			return ""
		}

		return filepath.Join(dir, "tokens.json")
	default:
		return c.Auth.TokenCache
	}
}

// JournalPath resolves the journal database location from the config.
// Returns "" when the journal is disabled.
func (c *Config) JournalPath() string {
	if !c.Journal.Enabled {
		return ""
	}

	if c.Journal.Path != "" {
		return c.Journal.Path
	}

	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, "journal.db")
}
