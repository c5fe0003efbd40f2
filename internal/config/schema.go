// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for braid.
package config

import (
	"time"

	"gopkg.in/yaml.v3"

	ctxengine "github.com/flemzord/braid/internal/context"
	"github.com/flemzord/braid/internal/usage"
)

// Defaults applied by (*Config).Defaults.
const (
	defaultListen  = ":8080"
	defaultDataDir = "data"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Listen is the gateway bind address.
	Listen string `yaml:"listen"`

	// DataDir is the root directory for persistent module data.
	DataDir string `yaml:"data_dir"`

	// DefaultProvider names the provider module serving sessions with no
	// explicit provider (e.g. "provider.openai").
	DefaultProvider string `yaml:"default_provider"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "store.sqlite").
	Modules map[string]yaml.Node `yaml:"modules"`

	// Context configures the token budget split for context assembly.
	Context ctxengine.Config `yaml:"context"`

	// Limits configures per-user token rate limiting.
	Limits usage.Limits `yaml:"limits"`

	// Stream configures the streaming coordinator.
	Stream StreamConfig `yaml:"stream"`

	// Maintenance configures the scheduled background jobs.
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Telemetry configures OpenTelemetry trace export.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StreamConfig tunes the streaming coordinator. Zero values fall back to
// the coordinator defaults.
type StreamConfig struct {
	// Retention is how long a finished stream stays queryable.
	Retention time.Duration `yaml:"retention"`

	// Timeout is the age past which an abandoned stream is force-closed.
	Timeout time.Duration `yaml:"timeout"`

	// SweepInterval is how often the abandonment sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// MaintenanceConfig configures the cron-scheduled jobs.
type MaintenanceConfig struct {
	// BranchCleanupSchedule is a cron expression for the branch cleanup
	// job. Empty disables the job.
	BranchCleanupSchedule string `yaml:"branch_cleanup_schedule"`

	// BranchMaxAge is how old an inactive branch must be before cleanup
	// archives it.
	BranchMaxAge time.Duration `yaml:"branch_max_age"`

	// BranchLimit is the per-session branch count cleanup trims toward.
	BranchLimit int `yaml:"branch_limit"`

	// KeepActive exempts each session's active branch from cleanup.
	KeepActive bool `yaml:"keep_active"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Defaults fills unset fields with their defaults.
func (c *Config) Defaults() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "braid"
	}
}
