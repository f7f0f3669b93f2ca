// internal/daemon/config/validate.go
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ValidLogLevels are the allowed log level values.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration and returns an error if invalid.
func Validate(cfg *Config) error {
	var errs []string

	// Validate log level
	validLevel := false
	for _, level := range ValidLogLevels {
		if cfg.Server.LogLevel == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		errs = append(errs, fmt.Sprintf("invalid log_level %q (must be one of: %s)",
			cfg.Server.LogLevel, strings.Join(ValidLogLevels, ", ")))
	}

	// Validate listen address
	if _, port, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("invalid listen address %q: %v", cfg.Server.Listen, err))
	} else if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		errs = append(errs, fmt.Sprintf("invalid listen port %q (must be between 0 and 65535)", port))
	}

	if cfg.Server.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}

	// Validate build
	if cfg.Build.Repo == "" {
		errs = append(errs, "repo is required")
	}
	if cfg.Build.CloneDepth < 0 {
		errs = append(errs, "clone_depth must be non-negative")
	}
	if strings.ContainsAny(cfg.Build.BinaryName, `/\`) {
		errs = append(errs, fmt.Sprintf("binary_name %q must be a file name", cfg.Build.BinaryName))
	}

	// Validate cache
	if cfg.Cache.TTL < 0 {
		errs = append(errs, "cache ttl must be non-negative")
	}
	if cfg.Cache.ReapInterval <= 0 {
		errs = append(errs, "reap_interval must be positive")
	}

	// Validate timeouts
	if cfg.Timeouts.Build < 0 {
		errs = append(errs, "build timeout must be non-negative")
	}
	if cfg.Timeouts.Wait < 0 {
		errs = append(errs, "wait timeout must be non-negative")
	}
	if cfg.Timeouts.Shutdown < 0 {
		errs = append(errs, "shutdown timeout must be non-negative")
	}

	// Validate target validation retries
	if cfg.Validate.Retries < 1 {
		errs = append(errs, "validate retries must be at least 1")
	}
	if cfg.Validate.RetryDelay < 0 {
		errs = append(errs, "retry_delay must be non-negative")
	}

	// Validate status and history bounds
	if cfg.Status.Capacity < 1 {
		errs = append(errs, "status capacity must be at least 1")
	}
	if cfg.Status.TailLines < 1 {
		errs = append(errs, "tail_lines must be at least 1")
	}
	if cfg.History.KeepPerTarget < 1 {
		errs = append(errs, "keep_per_target must be at least 1")
	}

	// Validate log rotation
	if cfg.Log.MaxSizeMB < 1 {
		errs = append(errs, "log max_size_mb must be at least 1")
	}
	if cfg.Log.MaxBackups < 0 {
		errs = append(errs, "log max_backups must be non-negative")
	}
	if cfg.Log.MaxAgeDays < 0 {
		errs = append(errs, "log max_age_days must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
