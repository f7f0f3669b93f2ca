// cmd/binserved/config_show.go
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/binserve/internal/daemon/config"
)

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  `Displays the effective configuration after merging defaults, file, and environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir := config.DefaultDataDir()
			if flagDataDir != "" {
				dataDir = flagDataDir
			}
			loader := config.NewLoader(dataDir, flagConfigPath)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# Effective binserved configuration (file: %s)\n", loader.ConfigPath())
			fmt.Fprintln(out, "# "+strings.Repeat("-", 50))
			fmt.Fprint(out, config.Render(cfg))

			if err := config.Validate(cfg); err != nil {
				fmt.Fprintf(out, "\n# %s\n", strings.ReplaceAll(err.Error(), "\n", "\n# "))
			}
			return nil
		},
	}

	return cmd
}
