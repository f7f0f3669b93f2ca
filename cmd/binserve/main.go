// cmd/binserve/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/binserve/internal/client"
	"github.com/altuslabsxyz/binserve/internal/version"
)

var (
	flagServer   string
	apiClient    *client.Client
	clientConfig *client.ClientConfig
	dimColor     = color.New(color.Faint)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := errorHint(err); hint != "" {
			dimColor.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "binserve",
		Short: "Fetch binaries from a binserved server",
		Long: `binserve downloads binaries that binserved compiles on demand and shows
the progress and history of its builds.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := client.LoadConfig()
			if err != nil {
				return err
			}
			clientConfig = cfg

			server := cfg.ServerOrDefault()
			if flagServer != "" {
				server = flagServer
			}
			apiClient = client.New(server)
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "", fmt.Sprintf("binserved address (default: from config, else %s)", client.DefaultServer))

	rootCmd.AddCommand(
		newFetchCmd(),
		newStatusCmd(),
		newBuildsCmd(),
		newConfigCmd(),
		version.NewCmd("binserve", "binserved"),
	)

	return rootCmd
}

// errorHint suggests a next step for err. Errors that did not come from the
// server itself are checked against its health endpoint.
func errorHint(err error) string {
	if hint := apiErrorHint(err); hint != "" {
		return hint
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) || apiClient == nil {
		return ""
	}
	if !client.IsServerRunning(context.Background(), apiClient.Server()) {
		return fmt.Sprintf("no binserved is answering at %s; start one with: binserved <repo>", apiClient.Server())
	}
	return ""
}
