// cmd/binserved/config_init.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/binserve/internal/daemon/config"
)

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		repo  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Writes binserved.toml with default values to the data directory
(or to --config). Edit build.repo before starting the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if flagDataDir != "" {
				cfg.Server.DataDir = flagDataDir
			}
			cfg.Build.Repo = repo

			path := config.NewLoader(cfg.Server.DataDir, flagConfigPath).ConfigPath()
			if err := config.WriteFile(path, cfg, force); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.Flags().StringVar(&repo, "repo", "", "Repository to serve")

	return cmd
}
