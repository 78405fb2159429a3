// Package config handles layered YAML configuration with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mumutools/mumuctl/internal/cache"
)

// Interval bounds for auto-refresh. Faster than a second hammers the
// manager process; slower than ten makes the dashboard useless.
const (
	MinInterval = time.Second
	MaxInterval = 10 * time.Second
)

// Config holds all mumuctl configuration.
type Config struct {
	Manager   Manager   `yaml:"manager"`
	Refresh   Refresh   `yaml:"refresh"`
	Dashboard Dashboard `yaml:"dashboard"`
}

// Manager holds MuMuManager invocation settings.
type Manager struct {
	Path    string        `yaml:"path"`    // empty = auto-detect
	Timeout time.Duration `yaml:"timeout"` // per-command timeout
}

// Refresh holds cache refresh settings.
type Refresh struct {
	Interval time.Duration `yaml:"interval"` // auto-refresh period
	MaxAge   time.Duration `yaml:"max_age"`  // staleness bound for cache-preferring reads
	Fields   []string      `yaml:"fields"`   // significant fields for change notifications
}

// Dashboard holds TUI settings.
type Dashboard struct {
	HighlightFor time.Duration `yaml:"highlight_for"` // how long changed rows stay marked
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Manager: Manager{
			Timeout: 30 * time.Second,
		},
		Refresh: Refresh{
			Interval: 3 * time.Second,
			MaxAge:   30 * time.Second,
			Fields:   append([]string(nil), cache.DefaultFields...),
		},
		Dashboard: Dashboard{
			HighlightFor: 2 * time.Second,
		},
	}
}

// Load reads a single YAML config file at path and returns a Config.
// For merging multiple config sources, use LoadLayered instead.
// If the file does not exist, defaults are returned without error.
// If the file contains invalid YAML or unknown fields, an error is returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if len(data) == 0 {
		return &cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		// Comment-only YAML files produce EOF with no decoded content.
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &cfg, nil
}

// LoadLayered loads config from multiple paths with increasing priority.
// Later paths override earlier ones. Missing files are skipped.
func LoadLayered(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		layer, err := loadLayer(path)
		if err != nil {
			return nil, err
		}
		if layer == nil {
			continue
		}
		cfg.merge(layer)
	}

	return &cfg, nil
}

// Validate checks that config values are usable.
func (c *Config) Validate() error {
	if c.Manager.Timeout <= 0 {
		return fmt.Errorf("config: manager.timeout must be positive, got %v", c.Manager.Timeout)
	}
	if c.Refresh.Interval < MinInterval || c.Refresh.Interval > MaxInterval {
		return fmt.Errorf("config: refresh.interval must be between %v and %v, got %v",
			MinInterval, MaxInterval, c.Refresh.Interval)
	}
	if c.Refresh.MaxAge <= 0 {
		return fmt.Errorf("config: refresh.max_age must be positive, got %v", c.Refresh.MaxAge)
	}
	if len(c.Refresh.Fields) == 0 {
		return errors.New("config: refresh.fields cannot be empty")
	}
	for _, f := range c.Refresh.Fields {
		if !knownField(f) {
			return fmt.Errorf("config: refresh.fields contains unknown field %q", f)
		}
	}
	if c.Dashboard.HighlightFor < 0 {
		return fmt.Errorf("config: dashboard.highlight_for must be non-negative, got %v", c.Dashboard.HighlightFor)
	}
	return nil
}

// knownField reports whether a field name is diffable.
func knownField(name string) bool {
	switch name {
	case "name", "status", "cpu", "memory", "disk_usage", "running",
		"path", "version", "disk_size_bytes":
		return true
	}
	return false
}

// ApplyEnv applies environment variable overrides to the config.
// Supported variables: MUMUCTL_MANAGER_PATH, MUMUCTL_REFRESH_INTERVAL,
// MUMUCTL_MAX_AGE.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("MUMUCTL_MANAGER_PATH"); v != "" {
		c.Manager.Path = v
	}
	if v := os.Getenv("MUMUCTL_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid MUMUCTL_REFRESH_INTERVAL %q: %w", v, err)
		}
		c.Refresh.Interval = d
	}
	if v := os.Getenv("MUMUCTL_MAX_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid MUMUCTL_MAX_AGE %q: %w", v, err)
		}
		c.Refresh.MaxAge = d
	}
	return nil
}

// rawConfig mirrors Config but uses pointers to distinguish set vs unset fields.
type rawConfig struct {
	Manager   *rawManager   `yaml:"manager"`
	Refresh   *rawRefresh   `yaml:"refresh"`
	Dashboard *rawDashboard `yaml:"dashboard"`
}

type rawManager struct {
	Path    *string        `yaml:"path"`
	Timeout *time.Duration `yaml:"timeout"`
}

type rawRefresh struct {
	Interval *time.Duration `yaml:"interval"`
	MaxAge   *time.Duration `yaml:"max_age"`
	Fields   *[]string      `yaml:"fields"`
}

type rawDashboard struct {
	HighlightFor *time.Duration `yaml:"highlight_for"`
}

// loadLayer reads a single config file into a rawConfig for selective merging.
// Returns nil if the file does not exist. Rejects unknown fields.
func loadLayer(path string) (*rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var raw rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &raw, nil
}

// merge applies non-nil fields from a rawConfig layer onto this Config.
func (c *Config) merge(layer *rawConfig) {
	if layer.Manager != nil {
		if layer.Manager.Path != nil {
			c.Manager.Path = *layer.Manager.Path
		}
		if layer.Manager.Timeout != nil {
			c.Manager.Timeout = *layer.Manager.Timeout
		}
	}
	if layer.Refresh != nil {
		if layer.Refresh.Interval != nil {
			c.Refresh.Interval = *layer.Refresh.Interval
		}
		if layer.Refresh.MaxAge != nil {
			c.Refresh.MaxAge = *layer.Refresh.MaxAge
		}
		if layer.Refresh.Fields != nil {
			c.Refresh.Fields = append([]string(nil), (*layer.Refresh.Fields)...)
		}
	}
	if layer.Dashboard != nil {
		if layer.Dashboard.HighlightFor != nil {
			c.Dashboard.HighlightFor = *layer.Dashboard.HighlightFor
		}
	}
}
