// cmd/binserve/config.go
package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/binserve/internal/client"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage binserve client configuration",
		Long: `Manage binserve client configuration.

Configuration is stored in ~/.binserve/client.yaml and includes:
  - server:     binserved address
  - output-dir: directory fetched binaries are saved to

Examples:
  binserve config set server builds.example.com:3000
  binserve config set output-dir ~/bin
  binserve config get server
  binserve config list`,
	}

	cmd.AddCommand(
		newConfigGetCmd(),
		newConfigSetCmd(),
		newConfigListCmd(),
	)

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			// Load existing config
			cfg, err := client.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Set(key, value); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			// Set on a scratch config rejects unknown keys.
			if err := (&client.ClientConfig{}).Set(key, ""); err != nil {
				return err
			}

			cfg, err := client.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			value := cfg.Get(key)
			if value == "" {
				value = "(not set)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", key, value)
			return nil
		},
	}
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List all configuration values",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := client.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "binserve configuration (~/.binserve/client.yaml):")
			fmt.Fprintln(out)

			server := cfg.Server
			if server == "" {
				server = fmt.Sprintf("(not set - using %s)", client.DefaultServer)
			}
			fmt.Fprintf(out, "  server:     %s\n", server)

			outputDir := cfg.OutputDir
			if outputDir == "" {
				outputDir = "(not set - using current directory)"
			}
			fmt.Fprintf(out, "  output-dir: %s\n", outputDir)
			return nil
		},
	}
}
