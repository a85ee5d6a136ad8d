// Package config provides TOML-based configuration for the mise performance
// core. The core itself is configured programmatically; this package is the
// app-level convenience that loads pool sizes, render knobs, and thresholds
// from a config file and applies them to a perf.Manager.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that reads from TOML as a Go duration string
// ("16ms", "30s", "5m"). Negative values are rejected at parse time, so the
// rest of the package can assume every configured duration is >= 0.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string means
// zero, which callers interpret as "use the default".
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	if v < 0 {
		return fmt.Errorf("duration %q must not be negative", text)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler, writing the duration back
// in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// PoolSettings configures one named pool.
type PoolSettings struct {
	// MaxIdle bounds the pool's idle list.
	MaxIdle int `toml:"max_idle"`
}

// RenderSettings configures progressive rendering defaults.
type RenderSettings struct {
	// BatchSize is the number of elements materialized per batch.
	BatchSize int `toml:"batch_size"`

	// Delay is the pause between consecutive batches.
	Delay Duration `toml:"delay"`
}

// CleanupSettings configures the periodic memory sweep.
type CleanupSettings struct {
	// Enabled starts the periodic sweep when the config is applied.
	Enabled bool `toml:"enabled"`

	// Interval is the sweep period.
	Interval Duration `toml:"interval"`
}

// Config is the performance section of the application's config file.
type Config struct {
	// Pools maps pool names to their settings.
	Pools map[string]PoolSettings `toml:"pools"`

	// Render holds progressive rendering defaults.
	Render RenderSettings `toml:"render"`

	// Thresholds maps operation names to duration ceilings; recording a
	// longer duration raises a performance warning.
	Thresholds map[string]Duration `toml:"thresholds"`

	// Cleanup holds memory sweep settings.
	Cleanup CleanupSettings `toml:"cleanup"`

	// MetricsHistory is the metrics ring buffer capacity. Zero takes the
	// tracker default.
	MetricsHistory int `toml:"metrics_history"`
}

// DefaultConfig returns the settings used when no config file exists: card
// rendering in batches of 8 at a 16ms cadence (one frame at 60Hz), a 20-card
// idle pool, and a 30s memory sweep.
func DefaultConfig() *Config {
	return &Config{
		Pools: map[string]PoolSettings{
			"cards": {MaxIdle: 20},
		},
		Render: RenderSettings{
			BatchSize: 8,
			Delay:     Duration{16 * time.Millisecond},
		},
		Thresholds: map[string]Duration{
			"render.batch": {50 * time.Millisecond},
		},
		Cleanup: CleanupSettings{
			Enabled:  true,
			Interval: Duration{30 * time.Second},
		},
	}
}

// LoadFromFile reads and validates a Config from a TOML file.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads configuration from the standard config path. Search order:
//  1. $XDG_CONFIG_HOME/mise/perf.toml
//  2. ~/.config/mise/perf.toml
//
// If no file exists, returns DefaultConfig().
func Load() (*Config, error) {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return LoadFromFile(p)
		}
	}
	return DefaultConfig(), nil
}

func configSearchPaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "mise", "perf.toml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mise", "perf.toml"))
	}
	return paths
}

// Validate rejects settings the core's constructors would refuse.
func (c *Config) Validate() error {
	for name, p := range c.Pools {
		if p.MaxIdle < 0 {
			return fmt.Errorf("pool %q: max_idle %d is negative", name, p.MaxIdle)
		}
	}
	if c.Render.BatchSize < 0 {
		return fmt.Errorf("render: batch_size %d is negative", c.Render.BatchSize)
	}
	if c.MetricsHistory < 0 {
		return fmt.Errorf("metrics_history %d is negative", c.MetricsHistory)
	}
	return nil
}

// PoolMaxIdle returns the configured idle bound for name, or fallback when
// the pool has no entry.
func (c *Config) PoolMaxIdle(name string, fallback int) int {
	if p, ok := c.Pools[name]; ok && p.MaxIdle > 0 {
		return p.MaxIdle
	}
	return fallback
}
