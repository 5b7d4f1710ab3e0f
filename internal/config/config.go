// ============================================================================
// cardbus configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Function: Loads the TOML configuration file read once at process startup
// (§6): store paths, vendor comm-server address, the dsxpi reset endpoint,
// metrics, and per-plugin config paths.
//
// ============================================================================

package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the complete on-disk configuration shape.
type Config struct {
	Store struct {
		ACSPath string `toml:"acs_path"`
		LogPath string `toml:"log_path"`
	} `toml:"store"`

	CommServer struct {
		Host        string        `toml:"host"`
		Port        int           `toml:"port"`
		Workstation int           `toml:"workstation"`
		DialTimeout time.Duration `toml:"dial_timeout"`
	} `toml:"comm_server"`

	DSXPI struct {
		Host   string `toml:"host"`
		Secret string `toml:"secret"`
	} `toml:"dsxpi"`

	Metrics struct {
		Enabled bool `toml:"enabled"`
		Port    int  `toml:"port"`
	} `toml:"metrics"`

	Plugins []PluginConfig `toml:"plugins"`
}

// PluginConfig names one plugin adapter and the config file it owns.
type PluginConfig struct {
	Name       string `toml:"name"`
	ConfigPath string `toml:"config_path"`
}

// Load reads and decodes the TOML config file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.CommServer.DialTimeout <= 0 {
		cfg.CommServer.DialTimeout = 5 * time.Second
	}
	return &cfg, nil
}
