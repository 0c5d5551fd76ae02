// Package config loads the engine's configuration into a single immutable
// value constructed at process start. Only the fields the core actually
// consumes are modeled here, plus the free-form `general` section kept as a
// map; any other content of the on-disk file is ignored on load.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Analysis holds the fields of the `analysis` section the core consumes.
type Analysis struct {
	MaxVMs  int `yaml:"max_vms"`
	Timeout int `yaml:"timeout"` // default per-task timeout, seconds
}

// Paths holds the fields of the `paths` section the core consumes.
type Paths struct {
	PluginsDir  string `yaml:"plugins_dir"`
	DownloadDir string `yaml:"download_dir"`
}

// General holds free-form general settings; the core does not read any of
// these fields today but preserves them for external collaborators.
type General map[string]any

// Config is the immutable configuration value passed into every component
// constructor.
type Config struct {
	General  General  `yaml:"general"`
	Analysis Analysis `yaml:"analysis"`
	Paths    Paths    `yaml:"paths"`
}

// TaskTimeout returns the configured default per-task timeout as a
// time.Duration.
func (c Config) TaskTimeout() time.Duration {
	if c.Analysis.Timeout <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Analysis.Timeout) * time.Second
}

// Load reads and parses a YAML configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if cfg.Analysis.MaxVMs <= 0 {
		cfg.Analysis.MaxVMs = 4
	}

	return cfg, nil
}
