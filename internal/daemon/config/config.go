// internal/daemon/config/config.go
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the single source of truth for binserved configuration.
// Priority: defaults < config file < environment variables < CLI flags
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Build    BuildConfig    `toml:"build"`
	Cache    CacheConfig    `toml:"cache"`
	Timeouts TimeoutConfig  `toml:"timeouts"`
	Validate ValidateConfig `toml:"validate"`
	Status   StatusConfig   `toml:"status"`
	History  HistoryConfig  `toml:"history"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig holds core server settings.
type ServerConfig struct {
	Listen   string `toml:"listen"` // TCP address, e.g. ":3000"
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`
}

// BuildConfig describes what is built and where.
type BuildConfig struct {
	Repo        string `toml:"repo"`         // repository to compile and distribute
	WorkDir     string `toml:"work_dir"`     // emptied at startup; empty = <data_dir>/repo_to_compile
	BinaryName  string `toml:"binary_name"`  // overrides the name read from Cargo.toml
	DebugOutput bool   `toml:"debug_output"` // echo toolchain output to the log
	CloneDepth  int    `toml:"clone_depth"`  // 0 = full clone
}

// CacheConfig holds artifact cache settings.
type CacheConfig struct {
	TTL          time.Duration `toml:"ttl"` // idle timeout, 0 = never expire
	ReapInterval time.Duration `toml:"reap_interval"`
}

// TimeoutConfig holds various timeout settings.
type TimeoutConfig struct {
	Build    time.Duration `toml:"build"`
	Wait     time.Duration `toml:"wait"`
	Shutdown time.Duration `toml:"shutdown"`
}

// ValidateConfig holds retry settings for target validation.
type ValidateConfig struct {
	Retries    int           `toml:"retries"`
	RetryDelay time.Duration `toml:"retry_delay"`
}

// StatusConfig bounds the progress snapshots kept in memory.
type StatusConfig struct {
	Capacity  int `toml:"capacity"`
	TailLines int `toml:"tail_lines"`
}

// HistoryConfig holds build history settings.
type HistoryConfig struct {
	KeepPerTarget int `toml:"keep_per_target"`
}

// LogConfig holds daemon log file rotation settings.
type LogConfig struct {
	MaxSizeMB  int  `toml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days"`
	Compress   bool `toml:"compress"`
}

// WorkDirName is the directory created under the data dir (or --path) to
// hold build roots.
const WorkDirName = "repo_to_compile"

// EffectiveWorkDir returns the work directory, derived from the data
// directory when none is configured.
func (c *Config) EffectiveWorkDir() string {
	if c.Build.WorkDir != "" {
		return c.Build.WorkDir
	}
	return filepath.Join(c.Server.DataDir, WorkDirName)
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".binserve")
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Server: ServerConfig{
			Listen:   ":3000",
			DataDir:  dataDir,
			LogLevel: "info",
		},
		Cache: CacheConfig{
			TTL:          1024 * time.Second,
			ReapInterval: 500 * time.Millisecond,
		},
		Timeouts: TimeoutConfig{
			Build:    30 * time.Minute,
			Wait:     30 * time.Minute,
			Shutdown: 30 * time.Second,
		},
		Validate: ValidateConfig{
			Retries:    3,
			RetryDelay: 2 * time.Second,
		},
		Status: StatusConfig{
			Capacity:  256,
			TailLines: 50,
		},
		History: HistoryConfig{
			KeepPerTarget: 100,
		},
		Log: LogConfig{
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}
