// Package config resolves the gateway daemon's own startup parameters —
// distinct from the per-server ServerConfig fleet the registry owns.
// Resolution follows the teacher's settings-loading precedent
// (profile.Settings/DefaultSettings) generalized to env-vars-win-over-file,
// with the optional file parsed by the teacher's own go-toml/v2 dependency.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the gateway daemon's operating parameters, per spec.md §6's
// "Environment variables consumed by the gateway itself".
type Config struct {
	ListenAddr        string        `toml:"listen_addr"`
	StartupTimeout    time.Duration `toml:"-"`
	StartupTimeoutSec int           `toml:"startup_timeout_seconds"`
	BearerToken       string        `toml:"-"` // never read from file; env only
	StoreDSN          string        `toml:"store_dsn"`
	AdminCORSOrigins  []string      `toml:"admin_cors_origins"`
}

// Default returns the gateway's built-in defaults before any file or env
// overlay is applied.
func Default() Config {
	return Config{
		ListenAddr:        ":8099",
		StartupTimeout:    120 * time.Second,
		StartupTimeoutSec: 120,
	}
}

// Load resolves Config from an optional TOML defaults file at
// configPath (missing file is not an error) and then applies environment
// variable overrides, which always win. A non-positive startup timeout,
// from the file or the environment, is ignored and the default kept. The
// result is validated before returning, so an empty listen address fails
// fast.
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}
	if cfg.StartupTimeoutSec > 0 {
		cfg.StartupTimeout = time.Duration(cfg.StartupTimeoutSec) * time.Second
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FLUIDMCP_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	} else if v := os.Getenv("FLUIDMCP_PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	if v := os.Getenv("FLUIDMCP_STARTUP_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StartupTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("FLUIDMCP_BEARER_TOKEN"); v != "" {
		cfg.BearerToken = v
	}
	if v := os.Getenv("FLUIDMCP_STORE_DSN"); v != "" {
		cfg.StoreDSN = v
	}
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if c.StartupTimeout <= 0 {
		return fmt.Errorf("config: startup_timeout must be positive")
	}
	return nil
}

// RequiresAdminAuth reports whether the admin surface's bearer-token check
// is active, per spec.md §4.6.
func (c Config) RequiresAdminAuth() bool {
	return c.BearerToken != ""
}
