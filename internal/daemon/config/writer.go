// internal/daemon/config/writer.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Render returns cfg as a commented binserved.toml.
func Render(cfg *Config) string {
	var b strings.Builder

	b.WriteString("# binserved configuration file\n")
	b.WriteString("# Priority: default < binserved.toml < BINSERVED_* environment < CLI flag\n\n")

	b.WriteString("[server]\n")
	fmt.Fprintf(&b, "listen = %q\n", cfg.Server.Listen)
	fmt.Fprintf(&b, "data_dir = %q\n", cfg.Server.DataDir)
	fmt.Fprintf(&b, "log_level = %q # debug, info, warn, error\n\n", cfg.Server.LogLevel)

	b.WriteString("[build]\n")
	fmt.Fprintf(&b, "repo = %q # required\n", cfg.Build.Repo)
	if cfg.Build.WorkDir != "" {
		fmt.Fprintf(&b, "work_dir = %q\n", cfg.Build.WorkDir)
	} else {
		fmt.Fprintf(&b, "# work_dir = %q # emptied at startup\n", filepath.Join(cfg.Server.DataDir, WorkDirName))
	}
	if cfg.Build.BinaryName != "" {
		fmt.Fprintf(&b, "binary_name = %q\n", cfg.Build.BinaryName)
	} else {
		b.WriteString("# binary_name = \"\" # default: read from Cargo.toml\n")
	}
	fmt.Fprintf(&b, "debug_output = %v\n", cfg.Build.DebugOutput)
	fmt.Fprintf(&b, "clone_depth = %d # 0 = full clone\n\n", cfg.Build.CloneDepth)

	b.WriteString("[cache]\n")
	fmt.Fprintf(&b, "ttl = %q # idle time before a binary is evicted, 0s = never\n", cfg.Cache.TTL)
	fmt.Fprintf(&b, "reap_interval = %q\n\n", cfg.Cache.ReapInterval)

	b.WriteString("[timeouts]\n")
	fmt.Fprintf(&b, "build = %q\n", cfg.Timeouts.Build)
	fmt.Fprintf(&b, "wait = %q\n", cfg.Timeouts.Wait)
	fmt.Fprintf(&b, "shutdown = %q\n\n", cfg.Timeouts.Shutdown)

	b.WriteString("[validate]\n")
	fmt.Fprintf(&b, "retries = %d\n", cfg.Validate.Retries)
	fmt.Fprintf(&b, "retry_delay = %q\n\n", cfg.Validate.RetryDelay)

	b.WriteString("[status]\n")
	fmt.Fprintf(&b, "capacity = %d\n", cfg.Status.Capacity)
	fmt.Fprintf(&b, "tail_lines = %d\n\n", cfg.Status.TailLines)

	b.WriteString("[history]\n")
	fmt.Fprintf(&b, "keep_per_target = %d\n\n", cfg.History.KeepPerTarget)

	b.WriteString("[log]\n")
	fmt.Fprintf(&b, "max_size_mb = %d\n", cfg.Log.MaxSizeMB)
	fmt.Fprintf(&b, "max_backups = %d\n", cfg.Log.MaxBackups)
	fmt.Fprintf(&b, "max_age_days = %d\n", cfg.Log.MaxAgeDays)
	fmt.Fprintf(&b, "compress = %v\n", cfg.Log.Compress)

	return b.String()
}

// WriteFile writes cfg to path. An existing file is only replaced when
// force is set.
func WriteFile(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(Render(cfg)), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
