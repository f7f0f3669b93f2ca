// cmd/binserved/main.go
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/binserve/internal/daemon/config"
	"github.com/altuslabsxyz/binserve/internal/daemon/server"
	"github.com/altuslabsxyz/binserve/internal/daemon/toolchain"
	"github.com/altuslabsxyz/binserve/internal/version"
)

// Flag variables for CLI overrides
var (
	flagConfigPath string
	flagDataDir    string
	flagListen     string
	flagPort       int
	flagTimeout    int
	flagPath       string
	flagName       string
	flagDebug      bool
	flagLogLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "binserved [repo]",
		Short: "Compile-on-demand binary server",
		Long: `binserved serves binaries of a Rust repository for any target triple.

The first request for a target clones the repository, cross compiles it and
caches the binary; later requests are served from the cache until the binary
has been idle for the configured timeout.`,
		Example: `  # Serve ripgrep on port 8080, evicting binaries after an hour of idleness
  binserved https://github.com/BurntSushi/ripgrep -p 8080 -t 3600

  # Use settings from ~/.binserve/binserved.toml
  binserved`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}

	defaults := config.DefaultConfig()

	// Config file flag
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", fmt.Sprintf("Config file path (default: <data-dir>/%s)", config.ConfigFileName))

	// Server flags
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", fmt.Sprintf("Data directory (default: %s)", defaults.Server.DataDir))
	rootCmd.Flags().StringVar(&flagListen, "listen", "", fmt.Sprintf("Listen address (default: %s)", defaults.Server.Listen))
	rootCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "Port to listen on, keeping the host of the listen address")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", fmt.Sprintf("Log level: debug, info, warn, error (default: %s)", defaults.Server.LogLevel))

	// Build flags
	rootCmd.Flags().IntVarP(&flagTimeout, "timeout", "t", 0, fmt.Sprintf("Seconds a binary may stay unused before it is evicted, 0 = never (default: %d)", int(defaults.Cache.TTL/time.Second)))
	rootCmd.Flags().StringVar(&flagPath, "path", "", fmt.Sprintf("Directory to build in; %s is created inside it (default: data dir)", config.WorkDirName))
	rootCmd.Flags().StringVarP(&flagName, "name", "n", "", "Binary name to serve (default: read from Cargo.toml)")
	rootCmd.Flags().BoolVarP(&flagDebug, "debug", "d", false, "Log toolchain output and debug messages")

	// Add subcommands
	rootCmd.AddCommand(version.NewCmd("binserve", "binserved"))
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	// The toolchain must be present before anything is served
	if err := toolchain.CheckInstalled(toolchain.DefaultCross, toolchain.DefaultGit, toolchain.DefaultRustup); err != nil {
		return err
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	return srv.Run(context.Background())
}

// loadConfig resolves the effective configuration: defaults < file < env < flags.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	// Determine data directory for loader
	dataDir := config.DefaultDataDir()
	if flagDataDir != "" {
		dataDir = flagDataDir
	}

	loader := config.NewLoader(dataDir, flagConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Apply CLI flag overrides (highest priority)
	if err := applyFlagOverrides(cmd, cfg); err != nil {
		return nil, err
	}
	if len(args) == 1 {
		cfg.Build.Repo = args[0]
	}

	// Validate final config
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlagOverrides applies CLI flags to config (highest priority).
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("data-dir") {
		cfg.Server.DataDir = flagDataDir
	}
	if cmd.Flags().Changed("listen") {
		cfg.Server.Listen = flagListen
	}
	if cmd.Flags().Changed("port") {
		host, _, err := net.SplitHostPort(cfg.Server.Listen)
		if err != nil {
			return fmt.Errorf("cannot apply --port to listen address %q: %w", cfg.Server.Listen, err)
		}
		cfg.Server.Listen = net.JoinHostPort(host, strconv.Itoa(flagPort))
	}
	if cmd.Flags().Changed("timeout") {
		if flagTimeout < 0 {
			return fmt.Errorf("--timeout must not be negative")
		}
		cfg.Cache.TTL = time.Duration(flagTimeout) * time.Second
	}
	if cmd.Flags().Changed("path") {
		cfg.Build.WorkDir = filepath.Join(flagPath, config.WorkDirName)
	}
	if cmd.Flags().Changed("name") {
		cfg.Build.BinaryName = flagName
	}
	if cmd.Flags().Changed("debug") {
		cfg.Build.DebugOutput = flagDebug
		if flagDebug {
			cfg.Server.LogLevel = "debug"
		}
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Server.LogLevel = flagLogLevel
	}
	return nil
}
