package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks a Config for values that would fail at use time: bad
// durations, malformed glob patterns, unusable URLs, unknown log levels.
func Validate(cfg *Config) error {
	if cfg.Network.BaseURL != "" {
		u, err := url.Parse(cfg.Network.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("network.base_url %q is not an http(s) URL", cfg.Network.BaseURL)
		}
	}

	if err := checkDuration("network.timeout", cfg.Network.Timeout); err != nil {
		return err
	}

	if err := checkDuration("watch.settle_delay", cfg.Watch.SettleDelay); err != nil {
		return err
	}

	for _, pattern := range cfg.Watch.Patterns {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return fmt.Errorf("watch.patterns entry %q: %w", pattern, err)
		}
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}

	return nil
}

func checkDuration(key, value string) error {
	if value == "" {
		return nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s %q is not a duration: %w", key, value, err)
	}

	if d < 0 {
		return fmt.Errorf("%s must not be negative", key)
	}

	return nil
}
