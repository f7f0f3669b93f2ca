// internal/daemon/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Server defaults
	if cfg.Server.Listen != ":3000" {
		t.Errorf("expected listen ':3000', got %q", cfg.Server.Listen)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("expected log_level 'info', got %q", cfg.Server.LogLevel)
	}

	// Cache defaults
	if cfg.Cache.TTL != 1024*time.Second {
		t.Errorf("expected cache ttl 1024s, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.ReapInterval != 500*time.Millisecond {
		t.Errorf("expected reap_interval 500ms, got %v", cfg.Cache.ReapInterval)
	}

	// Timeout defaults
	if cfg.Timeouts.Build != 30*time.Minute {
		t.Errorf("expected build timeout 30m, got %v", cfg.Timeouts.Build)
	}
	if cfg.Timeouts.Wait != 30*time.Minute {
		t.Errorf("expected wait timeout 30m, got %v", cfg.Timeouts.Wait)
	}
	if cfg.Timeouts.Shutdown != 30*time.Second {
		t.Errorf("expected shutdown timeout 30s, got %v", cfg.Timeouts.Shutdown)
	}

	if cfg.Validate.Retries != 3 {
		t.Errorf("expected validate retries 3, got %d", cfg.Validate.Retries)
	}
	if cfg.Status.TailLines != 50 {
		t.Errorf("expected tail_lines 50, got %d", cfg.Status.TailLines)
	}
}

func TestEffectiveWorkDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.DataDir = "/var/lib/binserve"

	if got := cfg.EffectiveWorkDir(); got != filepath.Join("/var/lib/binserve", WorkDirName) {
		t.Errorf("expected work dir under data dir, got %q", got)
	}

	cfg.Build.WorkDir = "/tmp/work"
	if got := cfg.EffectiveWorkDir(); got != "/tmp/work" {
		t.Errorf("expected explicit work dir, got %q", got)
	}
}

func TestFileConfigIsEmpty(t *testing.T) {
	fc := &FileConfig{}
	if !fc.IsEmpty() {
		t.Error("expected empty FileConfig to return IsEmpty() == true")
	}

	// Set one field
	val := "test"
	fc.Build.Repo = &val
	if fc.IsEmpty() {
		t.Error("expected non-empty FileConfig to return IsEmpty() == false")
	}
}

func TestLoaderLoadFromFile(t *testing.T) {
	// Create temp directory with config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "binserved.toml")
	configContent := `
[server]
log_level = "debug"
listen = "127.0.0.1:8080"

[build]
repo = "https://github.com/example/demo.git"
binary_name = "demo-cli"
debug_output = true

[cache]
ttl = "0s"

[timeouts]
build = "10m"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(tmpDir, "")
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Check values from file
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("expected log_level 'debug', got %q", cfg.Server.LogLevel)
	}
	if cfg.Server.Listen != "127.0.0.1:8080" {
		t.Errorf("expected listen '127.0.0.1:8080', got %q", cfg.Server.Listen)
	}
	if cfg.Build.Repo != "https://github.com/example/demo.git" {
		t.Errorf("expected repo from file, got %q", cfg.Build.Repo)
	}
	if cfg.Build.BinaryName != "demo-cli" {
		t.Errorf("expected binary_name 'demo-cli', got %q", cfg.Build.BinaryName)
	}
	if !cfg.Build.DebugOutput {
		t.Error("expected debug_output true")
	}
	if cfg.Cache.TTL != 0 {
		t.Errorf("expected cache ttl 0, got %v", cfg.Cache.TTL)
	}
	if cfg.Timeouts.Build != 10*time.Minute {
		t.Errorf("expected build timeout 10m, got %v", cfg.Timeouts.Build)
	}

	// Check defaults are preserved for unset values
	if cfg.Timeouts.Wait != 30*time.Minute {
		t.Errorf("expected wait timeout 30m (default), got %v", cfg.Timeouts.Wait)
	}
	if cfg.Server.DataDir != tmpDir {
		t.Errorf("expected data_dir %q, got %q", tmpDir, cfg.Server.DataDir)
	}
	if loader.ConfigPath() != configPath {
		t.Errorf("expected config path %q, got %q", configPath, loader.ConfigPath())
	}
}

func TestLoaderMissingFileIsOK(t *testing.T) {
	cfg, err := NewLoader(t.TempDir(), "").Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Cache.TTL != 1024*time.Second {
		t.Errorf("expected default ttl, got %v", cfg.Cache.TTL)
	}
}

func TestLoaderInvalidFile(t *testing.T) {
	tmpDir := t.TempDir()

	badToml := filepath.Join(tmpDir, "bad.toml")
	if err := os.WriteFile(badToml, []byte("[server\nlisten="), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader(tmpDir, badToml).Load(); err == nil {
		t.Error("expected error for invalid TOML")
	}

	badDuration := filepath.Join(tmpDir, "duration.toml")
	if err := os.WriteFile(badDuration, []byte("[cache]\nttl = \"forever\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := NewLoader(tmpDir, badDuration).Load()
	if err == nil || !strings.Contains(err.Error(), "cache.ttl") {
		t.Errorf("expected cache.ttl duration error, got %v", err)
	}
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "binserved.toml")
	configContent := `
[server]
log_level = "debug"

[build]
repo = "file-repo"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatal(err)
	}

	// Set env var
	t.Setenv("BINSERVED_REPO", "env-repo")
	t.Setenv("BINSERVED_LOG_LEVEL", "warn")
	t.Setenv("BINSERVED_CACHE_TTL", "5m")
	t.Setenv("BINSERVED_DEBUG_OUTPUT", "true")

	loader := NewLoader(tmpDir, configPath)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Env should override file
	if cfg.Build.Repo != "env-repo" {
		t.Errorf("expected repo 'env-repo' from env, got %q", cfg.Build.Repo)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("expected log_level 'warn' from env, got %q", cfg.Server.LogLevel)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("expected cache ttl 5m from env, got %v", cfg.Cache.TTL)
	}
	if !cfg.Build.DebugOutput {
		t.Error("expected debug_output true from env")
	}
}

func TestLoaderInvalidEnv(t *testing.T) {
	t.Setenv("BINSERVED_BUILD_TIMEOUT", "soon")

	if _, err := NewLoader(t.TempDir(), "").Load(); err == nil {
		t.Error("expected error for invalid duration in env")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Build.Repo = "https://github.com/example/demo.git"
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "zero ttl disables expiry",
			modify: func(c *Config) {
				c.Cache.TTL = 0
			},
			wantErr: false,
		},
		{
			name: "missing repo",
			modify: func(c *Config) {
				c.Build.Repo = ""
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Server.LogLevel = "invalid"
			},
			wantErr: true,
		},
		{
			name: "invalid listen address",
			modify: func(c *Config) {
				c.Server.Listen = "3000"
			},
			wantErr: true,
		},
		{
			name: "listen port out of range",
			modify: func(c *Config) {
				c.Server.Listen = ":70000"
			},
			wantErr: true,
		},
		{
			name: "zero reap interval",
			modify: func(c *Config) {
				c.Cache.ReapInterval = 0
			},
			wantErr: true,
		},
		{
			name: "negative ttl",
			modify: func(c *Config) {
				c.Cache.TTL = -time.Second
			},
			wantErr: true,
		},
		{
			name: "binary name with path",
			modify: func(c *Config) {
				c.Build.BinaryName = "../demo"
			},
			wantErr: true,
		},
		{
			name: "no validation attempts",
			modify: func(c *Config) {
				c.Validate.Retries = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.LogLevel = "loud"
	cfg.Cache.ReapInterval = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"log_level", "repo is required", "reap_interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in error, got %v", want, err)
		}
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, ConfigFileName)

	cfg := DefaultConfig()
	cfg.Server.DataDir = tmpDir
	cfg.Build.Repo = "https://github.com/example/demo.git"
	cfg.Build.BinaryName = "demo"
	cfg.Cache.TTL = 0

	if err := WriteFile(path, cfg, false); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	loaded, err := NewLoader(tmpDir, path).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Build.Repo != cfg.Build.Repo || loaded.Build.BinaryName != "demo" {
		t.Errorf("build section not preserved: %+v", loaded.Build)
	}
	if loaded.Cache.TTL != 0 {
		t.Errorf("expected ttl 0, got %v", loaded.Cache.TTL)
	}
	if loaded.Timeouts.Build != cfg.Timeouts.Build {
		t.Errorf("expected build timeout %v, got %v", cfg.Timeouts.Build, loaded.Timeouts.Build)
	}
	if err := Validate(loaded); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}

	if err := WriteFile(path, cfg, false); err == nil {
		t.Error("expected error when file exists")
	}
	if err := WriteFile(path, cfg, true); err != nil {
		t.Errorf("WriteFile(force) error: %v", err)
	}
}
