// Package config provides configuration types and defaults for provmap.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/provmap/internal/identity"
	"github.com/zjrosen/provmap/internal/tracing"
)

// Config holds all configuration options for provmap.
type Config struct {
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Caller   CallerConfig   `mapstructure:"caller" yaml:"caller"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Removed  RemovedConfig  `mapstructure:"removed" yaml:"removed"`
	Tracing  tracing.Config `mapstructure:"tracing" yaml:"tracing"`
}

// IdentityConfig describes how owner uids map to users.
type IdentityConfig struct {
	// FirstApplicationUID is the lowest uid that is not a system identity.
	FirstApplicationUID int `mapstructure:"first_application_uid" yaml:"first_application_uid"`
	// PerUserRange is the number of uids each user owns.
	PerUserRange int `mapstructure:"per_user_range" yaml:"per_user_range"`
}

// Policy returns the identity policy described by c.
func (c IdentityConfig) Policy() identity.UIDPolicy {
	return identity.UIDPolicy{
		FirstApplicationUID: c.FirstApplicationUID,
		PerUserRange:        c.PerUserRange,
	}
}

// CallerConfig describes the ambient caller.
type CallerConfig struct {
	// User is the user operations act for when no --user is given.
	User int `mapstructure:"user" yaml:"user"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	// Path is the SQLite database file. Empty uses DefaultStorePath.
	Path string `mapstructure:"path" yaml:"path"`
}

// RemovedConfig configures the recently-removed list shown by dump.
type RemovedConfig struct {
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	policy := identity.Default()
	return Config{
		Identity: IdentityConfig{
			FirstApplicationUID: policy.FirstApplicationUID,
			PerUserRange:        policy.PerUserRange,
		},
		Caller:  CallerConfig{User: 0},
		Removed: RemovedConfig{Retention: 10 * time.Minute},
		Tracing: tracing.DefaultConfig(),
	}
}

// Validate checks a loaded configuration.
func Validate(cfg Config) error {
	if err := cfg.Identity.Policy().Validate(); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if cfg.Caller.User < 0 {
		return fmt.Errorf("caller: user must not be negative, got %d", cfg.Caller.User)
	}
	if cfg.Removed.Retention < 0 {
		return fmt.Errorf("removed: retention must not be negative, got %s", cfg.Removed.Retention)
	}
	switch cfg.Tracing.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing: unsupported exporter %q", cfg.Tracing.Exporter)
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing: sample_rate must be within [0, 1], got %g", cfg.Tracing.SampleRate)
	}
	return nil
}

// DefaultConfigDir returns ~/.config/provmap.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".provmap"
	}
	return filepath.Join(home, ".config", "provmap")
}

// DefaultStorePath returns the database path used when store.path is empty.
func DefaultStorePath() string {
	return filepath.Join(DefaultConfigDir(), "providers.db")
}

// StorePath returns the configured database path or the default one.
func (c Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return DefaultStorePath()
}

// TracePath returns the trace file path, defaulting next to the database.
func (c Config) TracePath() string {
	if c.Tracing.FilePath != "" {
		return c.Tracing.FilePath
	}
	return filepath.Join(filepath.Dir(c.StorePath()), "traces", "traces.jsonl")
}
