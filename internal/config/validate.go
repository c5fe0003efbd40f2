package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/flemzord/braid/internal/core"
)

// Validate checks the structural validity of a Config. It verifies the
// version field, checks that all referenced module IDs exist in the
// registry, and validates the engine sections.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if cfg.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
			errs = append(errs, fmt.Errorf("config: invalid listen address %q: %w", cfg.Listen, err))
		}
	}

	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	if cfg.DefaultProvider != "" {
		if !strings.HasPrefix(cfg.DefaultProvider, "provider.") {
			errs = append(errs, fmt.Errorf("config: default_provider %q is not a provider module ID", cfg.DefaultProvider))
		} else if _, exists := cfg.Modules[cfg.DefaultProvider]; !exists {
			errs = append(errs, fmt.Errorf("config: default_provider %q has no module entry", cfg.DefaultProvider))
		}
	}

	errs = append(errs, validateLimits(cfg)...)
	errs = append(errs, validateStream(cfg)...)
	errs = append(errs, validateMaintenance(cfg)...)

	return errors.Join(errs...)
}

func validateLimits(cfg *Config) []error {
	var errs []error
	if cfg.Limits.Hourly < 0 || cfg.Limits.Daily < 0 || cfg.Limits.Monthly < 0 {
		errs = append(errs, errors.New("config: limits thresholds must not be negative"))
	}
	return errs
}

func validateStream(cfg *Config) []error {
	var errs []error
	if cfg.Stream.Retention < 0 {
		errs = append(errs, errors.New("config: stream.retention must not be negative"))
	}
	if cfg.Stream.Timeout < 0 {
		errs = append(errs, errors.New("config: stream.timeout must not be negative"))
	}
	if cfg.Stream.SweepInterval < 0 {
		errs = append(errs, errors.New("config: stream.sweep_interval must not be negative"))
	}
	return errs
}

func validateMaintenance(cfg *Config) []error {
	var errs []error
	if cfg.Maintenance.BranchMaxAge < 0 {
		errs = append(errs, errors.New("config: maintenance.branch_max_age must not be negative"))
	}
	if cfg.Maintenance.BranchLimit < 0 {
		errs = append(errs, errors.New("config: maintenance.branch_limit must not be negative"))
	}
	return errs
}
