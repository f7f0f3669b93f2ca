// internal/daemon/config/file.go
package config

// FileConfig represents the raw binserved.toml file contents.
// All fields are pointers to distinguish "not set" from "set to zero/false".
type FileConfig struct {
	Server   FileServerConfig   `toml:"server"`
	Build    FileBuildConfig    `toml:"build"`
	Cache    FileCacheConfig    `toml:"cache"`
	Timeouts FileTimeoutConfig  `toml:"timeouts"`
	Validate FileValidateConfig `toml:"validate"`
	Status   FileStatusConfig   `toml:"status"`
	History  FileHistoryConfig  `toml:"history"`
	Log      FileLogConfig      `toml:"log"`
}

// FileServerConfig is the TOML representation of ServerConfig.
type FileServerConfig struct {
	Listen   *string `toml:"listen"`
	DataDir  *string `toml:"data_dir"`
	LogLevel *string `toml:"log_level"`
}

// FileBuildConfig is the TOML representation of BuildConfig.
type FileBuildConfig struct {
	Repo        *string `toml:"repo"`
	WorkDir     *string `toml:"work_dir"`
	BinaryName  *string `toml:"binary_name"`
	DebugOutput *bool   `toml:"debug_output"`
	CloneDepth  *int    `toml:"clone_depth"`
}

// FileCacheConfig is the TOML representation of CacheConfig.
// Uses strings for duration values since TOML cannot decode directly to time.Duration.
type FileCacheConfig struct {
	TTL          *string `toml:"ttl"`
	ReapInterval *string `toml:"reap_interval"`
}

// FileTimeoutConfig is the TOML representation of TimeoutConfig.
type FileTimeoutConfig struct {
	Build    *string `toml:"build"`
	Wait     *string `toml:"wait"`
	Shutdown *string `toml:"shutdown"`
}

// FileValidateConfig is the TOML representation of ValidateConfig.
type FileValidateConfig struct {
	Retries    *int    `toml:"retries"`
	RetryDelay *string `toml:"retry_delay"`
}

// FileStatusConfig is the TOML representation of StatusConfig.
type FileStatusConfig struct {
	Capacity  *int `toml:"capacity"`
	TailLines *int `toml:"tail_lines"`
}

// FileHistoryConfig is the TOML representation of HistoryConfig.
type FileHistoryConfig struct {
	KeepPerTarget *int `toml:"keep_per_target"`
}

// FileLogConfig is the TOML representation of LogConfig.
type FileLogConfig struct {
	MaxSizeMB  *int  `toml:"max_size_mb"`
	MaxBackups *int  `toml:"max_backups"`
	MaxAgeDays *int  `toml:"max_age_days"`
	Compress   *bool `toml:"compress"`
}

// IsEmpty returns true if no configuration values are set.
func (f *FileConfig) IsEmpty() bool {
	return f.Server.Listen == nil &&
		f.Server.DataDir == nil &&
		f.Server.LogLevel == nil &&
		f.Build.Repo == nil &&
		f.Build.WorkDir == nil &&
		f.Build.BinaryName == nil &&
		f.Build.DebugOutput == nil &&
		f.Build.CloneDepth == nil &&
		f.Cache.TTL == nil &&
		f.Cache.ReapInterval == nil &&
		f.Timeouts.Build == nil &&
		f.Timeouts.Wait == nil &&
		f.Timeouts.Shutdown == nil &&
		f.Validate.Retries == nil &&
		f.Validate.RetryDelay == nil &&
		f.Status.Capacity == nil &&
		f.Status.TailLines == nil &&
		f.History.KeepPerTarget == nil &&
		f.Log.MaxSizeMB == nil &&
		f.Log.MaxBackups == nil &&
		f.Log.MaxAgeDays == nil &&
		f.Log.Compress == nil
}
