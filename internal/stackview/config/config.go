// Package config loads stackview settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"stackview/internal/stack"
)

const appName = "stackview"

// Config is the on-disk settings file.
type Config struct {
	// DataDir holds the per-binary variable journals.
	DataDir string `json:"data_dir,omitempty" yaml:"data_dir,omitempty" jsonschema:"description=Directory for variable journals"`
	// Debug enables debug logging.
	Debug bool `json:"debug,omitempty" yaml:"debug,omitempty" jsonschema:"description=Enable debug logging"`
	// Follow watches the journal for edits made by other processes.
	Follow *bool `json:"follow,omitempty" yaml:"follow,omitempty" jsonschema:"description=Reload when the journal changes on disk,default=true"`
	// NoColor disables colour output.
	NoColor bool `json:"no_color,omitempty" yaml:"no_color,omitempty" jsonschema:"description=Disable colour output"`
	// FillBytes caps the byte tokens drawn on one fill line.
	FillBytes int `json:"fill_bytes,omitempty" yaml:"fill_bytes,omitempty" jsonschema:"description=Maximum byte tokens per fill line,minimum=1,default=8"`
	// Range fixes the displayed offset range. Empty derives one per function.
	Range *stack.Range `json:"range,omitempty" yaml:"range,omitempty" jsonschema:"description=Fixed displayed offset range"`
	// NoDWARF ignores debug info and always infers frames from code.
	NoDWARF bool `json:"no_dwarf,omitempty" yaml:"no_dwarf,omitempty" jsonschema:"description=Ignore DWARF debug info"`
}

const defaultFillBytes = stack.DefaultMaxFillBytes

// Following reports whether journal watching is on.
func (c *Config) Following() bool { return c.Follow == nil || *c.Follow }

// StackRange returns the configured range, zero when unset.
func (c *Config) StackRange() stack.Range {
	if c.Range == nil {
		return stack.Range{}
	}
	return *c.Range
}

// Validate rejects settings the line model cannot honour.
func (c *Config) Validate() error {
	if c.FillBytes < 0 {
		return fmt.Errorf("fill_bytes must be positive, got %d", c.FillBytes)
	}
	if c.Range != nil && c.Range.Low >= c.Range.High {
		return fmt.Errorf("range low %d must be below high %d", c.Range.Low, c.Range.High)
	}
	return nil
}

// DefaultPath returns $XDG_CONFIG_HOME/stackview/config.yaml.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, appName, "config.yaml")
}

// DefaultDataDir returns $XDG_DATA_HOME/stackview.
func DefaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appName)
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, appName)
}

// Load reads path, or the default path when empty, then applies the
// environment and defaults. A missing default file is not an error; a
// missing explicit one is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.applyEnv()
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.FillBytes == 0 {
		cfg.FillBytes = defaultFillBytes
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("STACKVIEW_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if os.Getenv("STACKVIEW_NO_COLOR") != "" || os.Getenv("NO_COLOR") != "" {
		c.NoColor = true
	}
	if os.Getenv("STACKVIEW_DEBUG") != "" {
		c.Debug = true
	}
}
