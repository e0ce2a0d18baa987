// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for sncloud-go. Front ends resolve a
// config once and hand the relevant sections to the client, journal, and
// watcher constructors.
package config

// Config is the top-level structure parsed from a TOML file.
type Config struct {
	Auth    AuthConfig    `toml:"auth"`
	Network NetworkConfig `toml:"network"`
	Journal JournalConfig `toml:"journal"`
	Watch   WatchConfig   `toml:"watch"`
	Logging LoggingConfig `toml:"logging"`
}

// AuthConfig controls token persistence.
type AuthConfig struct {
	// TokenCache is the token cache file path. Empty selects the
	// platform default under the data directory; "none" disables
	// persistence entirely.
	TokenCache string `toml:"token_cache"`
}

// NetworkConfig controls the HTTP session.
type NetworkConfig struct {
	BaseURL   string `toml:"base_url"`
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

// JournalConfig controls the upload journal database.
type JournalConfig struct {
	Enabled bool `toml:"enabled"`
	// Path is the journal database file. Empty selects the platform
	// default under the data directory.
	Path string `toml:"path"`
}

// WatchConfig controls the drop-folder watcher.
type WatchConfig struct {
	// Dir is the local directory to watch. Empty disables watching.
	Dir string `toml:"dir"`

	// TargetFolder is the cloud folder new files are uploaded to.
	TargetFolder string `toml:"target_folder"`

	// Patterns are glob patterns matched against file names; an empty
	// list accepts every file.
	Patterns []string `toml:"patterns"`

	// SettleDelay is how long a file must stop changing before it is
	// considered complete and uploaded.
	SettleDelay string `toml:"settle_delay"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default values. These work without any config file.
const (
	defaultTimeout      = "60s"
	defaultTargetFolder = "/Inbox"
	defaultSettleDelay  = "2s"
	defaultLogLevel     = "info"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their
// defaults, and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			Timeout: defaultTimeout,
		},
		Watch: WatchConfig{
			TargetFolder: defaultTargetFolder,
			Patterns:     []string{"*.pdf", "*.epub"},
			SettleDelay:  defaultSettleDelay,
		},
		Logging: LoggingConfig{
			Level: defaultLogLevel,
		},
	}
}
