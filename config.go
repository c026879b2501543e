package kto

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is kto's on-disk configuration, loaded from
// ~/.config/kto/config.toml (spec.md §6). Unknown keys are ignored —
// toml.Decode's default behaviour, tolerant of forward-compatible
// config files the same way veille/config.go is.
type Config struct {
	DefaultIntervalSecs int64              `toml:"default_interval_secs"`
	DefaultNotify       string             `toml:"default_notify"`
	RateLimits          map[string]float64 `toml:"rate_limits"`
	QuietHours          QuietHoursConfig   `toml:"quiet_hours"`

	// DBPath is not a config-file key; it's resolved from $KTO_DB or the
	// XDG data-home default and threaded through for convenience.
	DBPath string `toml:"-"`
}

// QuietHoursConfig is the TOML shape of the global quiet-hours window.
type QuietHoursConfig struct {
	Start string `toml:"start"`
	End   string `toml:"end"`
}

func (c *Config) defaults() {
	if c.DefaultIntervalSecs <= 0 {
		c.DefaultIntervalSecs = 900
	}
	if c.DefaultNotify == "" {
		c.DefaultNotify = "none"
	}
}

// DefaultConfig returns a Config populated with spec.md's defaults.
func DefaultConfig() *Config {
	c := &Config{}
	c.defaults()
	return c
}

// LoadConfig reads and parses the TOML config file at path. A missing
// file is not an error — it yields DefaultConfig(). A malformed file,
// or an out-of-range value (interval < 1, a rate_limits entry <= 0),
// returns ErrInvalidConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}

	if cfg.DefaultIntervalSecs < 1 {
		return nil, fmt.Errorf("%w: default_interval_secs must be >= 1", ErrInvalidConfig)
	}
	for domain, rps := range cfg.RateLimits {
		if rps <= 0 {
			return nil, fmt.Errorf("%w: rate_limits[%s] must be > 0", ErrInvalidConfig, domain)
		}
	}
	cfg.defaults()
	return cfg, nil
}

// DefaultConfigPath returns ~/.config/kto/config.toml, matching
// spec.md §6.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "kto", "config.toml")
}

// DefaultDBPath returns $KTO_DB if set, else
// ~/.local/share/kto/kto.db (spec.md §6).
func DefaultDBPath() string {
	if p := os.Getenv("KTO_DB"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "kto.db"
	}
	return filepath.Join(home, ".local", "share", "kto", "kto.db")
}
