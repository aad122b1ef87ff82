// Package config loads the script host configuration from YAML, with
// MUSHSCRIPT_* environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Trigger sources.
const (
	SourceYAML   = "yaml"
	SourceSQLite = "sqlite"
)

// Config holds all tunables of the script host.
type Config struct {
	// Script engine
	MaxInstructions int64 `yaml:"max_instructions" env:"MUSHSCRIPT_MAX_INSTRUCTIONS"`

	// Scheduler
	MaxPending          int `yaml:"max_pending" env:"MUSHSCRIPT_MAX_PENDING"`
	MaxPendingPerEntity int `yaml:"max_pending_per_entity" env:"MUSHSCRIPT_MAX_PENDING_PER_ENTITY"`
	StrandDepth         int `yaml:"strand_depth" env:"MUSHSCRIPT_STRAND_DEPTH"`

	// Trigger data
	TriggerSource string `yaml:"trigger_source" env:"MUSHSCRIPT_TRIGGER_SOURCE"`
	TriggerDir    string `yaml:"trigger_dir" env:"MUSHSCRIPT_TRIGGER_DIR"`
	WatchTriggers bool   `yaml:"watch_triggers" env:"MUSHSCRIPT_WATCH_TRIGGERS"`
	SQLitePath    string `yaml:"sqlite_path" env:"MUSHSCRIPT_SQLITE_PATH"`
	SQLTimeout    int    `yaml:"sql_timeout" env:"MUSHSCRIPT_SQL_TIMEOUT"` // seconds

	// Persisted trigger variables (bbolt). Empty disables persistence.
	VarsPath string `yaml:"vars_path" env:"MUSHSCRIPT_VARS_PATH"`

	// Metrics endpoint. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr" env:"MUSHSCRIPT_METRICS_ADDR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MaxInstructions:     1000000,
		MaxPending:          10000,
		MaxPendingPerEntity: 100,
		StrandDepth:         1024,
		TriggerSource:       SourceYAML,
		TriggerDir:          "triggers",
		WatchTriggers:       true,
		SQLitePath:          "data/triggers.db",
		SQLTimeout:          5,
		VarsPath:            "data/trigvars.bolt",
		MetricsAddr:         ":9464",
	}
}

// Load reads path over the defaults, then applies the environment. An
// empty path skips the file. Relative paths in the file resolve against
// its directory.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config: parsing YAML %s: %w", path, err)
		}
		base := filepath.Dir(path)
		for _, p := range []*string{&c.TriggerDir, &c.SQLitePath, &c.VarsPath} {
			if *p != "" && !filepath.IsAbs(*p) {
				*p = filepath.Join(base, *p)
			}
		}
	}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects configurations the host cannot start with.
func (c *Config) Validate() error {
	switch c.TriggerSource {
	case SourceYAML:
		if c.TriggerDir == "" {
			return fmt.Errorf("config: trigger_dir is required for the yaml source")
		}
	case SourceSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: sqlite_path is required for the sqlite source")
		}
	default:
		return fmt.Errorf("config: unknown trigger_source %q", c.TriggerSource)
	}
	if c.MaxInstructions <= 0 {
		return fmt.Errorf("config: max_instructions must be positive")
	}
	if c.MaxPending <= 0 || c.MaxPendingPerEntity <= 0 {
		return fmt.Errorf("config: pending limits must be positive")
	}
	if c.MaxPendingPerEntity > c.MaxPending {
		return fmt.Errorf("config: max_pending_per_entity (%d) exceeds max_pending (%d)", c.MaxPendingPerEntity, c.MaxPending)
	}
	if c.StrandDepth <= 0 {
		c.StrandDepth = 1024
	}
	return nil
}
