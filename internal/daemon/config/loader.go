// internal/daemon/config/loader.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "binserved.toml"

// Environment variable names
const (
	EnvListen       = "BINSERVED_LISTEN"
	EnvDataDir      = "BINSERVED_DATA_DIR"
	EnvLogLevel     = "BINSERVED_LOG_LEVEL"
	EnvRepo         = "BINSERVED_REPO"
	EnvWorkDir      = "BINSERVED_WORK_DIR"
	EnvBinaryName   = "BINSERVED_BINARY_NAME"
	EnvDebugOutput  = "BINSERVED_DEBUG_OUTPUT"
	EnvCacheTTL     = "BINSERVED_CACHE_TTL"
	EnvBuildTimeout = "BINSERVED_BUILD_TIMEOUT"
	EnvWaitTimeout  = "BINSERVED_WAIT_TIMEOUT"

	EnvShutdownTimeout = "BINSERVED_SHUTDOWN_TIMEOUT"
)

// Loader loads configuration from file, environment, and applies defaults.
type Loader struct {
	dataDir    string
	configPath string // explicit config path (empty = use default)
}

// NewLoader creates a new config loader.
// dataDir is the base data directory (for finding binserved.toml).
// configPath is an explicit config file path (empty = use dataDir/binserved.toml).
func NewLoader(dataDir, configPath string) *Loader {
	return &Loader{
		dataDir:    dataDir,
		configPath: configPath,
	}
}

// Load loads configuration with priority: defaults < file < env.
// Returns fully populated Config ready for use.
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Override dataDir if provided
	if l.dataDir != "" {
		cfg.Server.DataDir = l.dataDir
	}

	// Load from file
	fileCfg, err := l.loadFile(cfg.Server.DataDir)
	if err != nil {
		return nil, err
	}

	// Merge file config into defaults
	if fileCfg != nil {
		if err := mergeFileConfig(cfg, fileCfg); err != nil {
			return nil, err
		}
	}

	// Apply environment variables (highest priority before flags)
	if err := applyEnvVars(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigPath returns the config file the loader reads.
func (l *Loader) ConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	dataDir := l.dataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	return filepath.Join(dataDir, ConfigFileName)
}

// loadFile loads and parses the config file.
// Returns nil if no config file exists (not an error).
func (l *Loader) loadFile(dataDir string) (*FileConfig, error) {
	configPath := l.configPath
	if configPath == "" {
		configPath = filepath.Join(dataDir, ConfigFileName)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No config file is OK
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fileCfg FileConfig
	if err := toml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("invalid TOML in %s: %w", configPath, err)
	}

	return &fileCfg, nil
}

// durationField parses an optional duration string into dst.
type durationField struct {
	name string
	src  *string
	dst  *time.Duration
}

func parseDurations(fields []durationField) error {
	var errs []error
	for _, f := range fields {
		if f.src == nil {
			continue
		}
		d, err := time.ParseDuration(*f.src)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		*f.dst = d
	}
	return errors.Join(errs...)
}

// mergeFileConfig merges non-nil FileConfig values into Config.
func mergeFileConfig(cfg *Config, file *FileConfig) error {
	// Server
	if file.Server.Listen != nil {
		cfg.Server.Listen = *file.Server.Listen
	}
	if file.Server.DataDir != nil {
		cfg.Server.DataDir = *file.Server.DataDir
	}
	if file.Server.LogLevel != nil {
		cfg.Server.LogLevel = *file.Server.LogLevel
	}

	// Build
	if file.Build.Repo != nil {
		cfg.Build.Repo = *file.Build.Repo
	}
	if file.Build.WorkDir != nil {
		cfg.Build.WorkDir = *file.Build.WorkDir
	}
	if file.Build.BinaryName != nil {
		cfg.Build.BinaryName = *file.Build.BinaryName
	}
	if file.Build.DebugOutput != nil {
		cfg.Build.DebugOutput = *file.Build.DebugOutput
	}
	if file.Build.CloneDepth != nil {
		cfg.Build.CloneDepth = *file.Build.CloneDepth
	}

	// Validate, status, history, log
	if file.Validate.Retries != nil {
		cfg.Validate.Retries = *file.Validate.Retries
	}
	if file.Status.Capacity != nil {
		cfg.Status.Capacity = *file.Status.Capacity
	}
	if file.Status.TailLines != nil {
		cfg.Status.TailLines = *file.Status.TailLines
	}
	if file.History.KeepPerTarget != nil {
		cfg.History.KeepPerTarget = *file.History.KeepPerTarget
	}
	if file.Log.MaxSizeMB != nil {
		cfg.Log.MaxSizeMB = *file.Log.MaxSizeMB
	}
	if file.Log.MaxBackups != nil {
		cfg.Log.MaxBackups = *file.Log.MaxBackups
	}
	if file.Log.MaxAgeDays != nil {
		cfg.Log.MaxAgeDays = *file.Log.MaxAgeDays
	}
	if file.Log.Compress != nil {
		cfg.Log.Compress = *file.Log.Compress
	}

	// Durations (parse duration strings)
	if err := parseDurations([]durationField{
		{"cache.ttl", file.Cache.TTL, &cfg.Cache.TTL},
		{"cache.reap_interval", file.Cache.ReapInterval, &cfg.Cache.ReapInterval},
		{"timeouts.build", file.Timeouts.Build, &cfg.Timeouts.Build},
		{"timeouts.wait", file.Timeouts.Wait, &cfg.Timeouts.Wait},
		{"timeouts.shutdown", file.Timeouts.Shutdown, &cfg.Timeouts.Shutdown},
		{"validate.retry_delay", file.Validate.RetryDelay, &cfg.Validate.RetryDelay},
	}); err != nil {
		return fmt.Errorf("invalid duration in config file: %w", err)
	}
	return nil
}

// applyEnvVars applies environment variable overrides to config.
func applyEnvVars(cfg *Config) error {
	if v := os.Getenv(EnvListen); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv(EnvRepo); v != "" {
		cfg.Build.Repo = v
	}
	if v := os.Getenv(EnvWorkDir); v != "" {
		cfg.Build.WorkDir = v
	}
	if v := os.Getenv(EnvBinaryName); v != "" {
		cfg.Build.BinaryName = v
	}
	if v := os.Getenv(EnvDebugOutput); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebugOutput, err)
		}
		cfg.Build.DebugOutput = b
	}

	env := func(name string) *string {
		if v := os.Getenv(name); v != "" {
			return &v
		}
		return nil
	}
	if err := parseDurations([]durationField{
		{EnvCacheTTL, env(EnvCacheTTL), &cfg.Cache.TTL},
		{EnvBuildTimeout, env(EnvBuildTimeout), &cfg.Timeouts.Build},
		{EnvWaitTimeout, env(EnvWaitTimeout), &cfg.Timeouts.Wait},
		{EnvShutdownTimeout, env(EnvShutdownTimeout), &cfg.Timeouts.Shutdown},
	}); err != nil {
		return fmt.Errorf("invalid duration in environment: %w", err)
	}
	return nil
}
