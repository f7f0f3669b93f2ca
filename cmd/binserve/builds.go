// cmd/binserve/builds.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/binserve/internal/daemon/store"
)

func newBuildsCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "builds [target]",
		Short: "List recent builds",
		Long: `List recent build attempts, newest first.

Examples:
  binserve builds
  binserve builds x86_64-unknown-linux-gnu --limit 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target string
			if len(args) == 1 {
				target = args[0]
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			builds, err := apiClient.Builds(ctx, target, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(builds)
			}

			if len(builds) == 0 {
				fmt.Fprintln(out, "No builds found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTARGET\tOUTCOME\tDURATION\tSTARTED\tERROR")
			for _, b := range builds {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					shortID(b.ID),
					b.Target,
					colorOutcome(b),
					b.Duration.Round(time.Second),
					b.StartedAt.Local().Format("2006-01-02 15:04:05"),
					truncate(b.Error, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of builds to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func colorOutcome(b *store.BuildRecord) string {
	switch b.Outcome {
	case store.OutcomeSucceeded:
		return color.GreenString(string(b.Outcome))
	case store.OutcomeFailed:
		if b.Kind != "" {
			return color.RedString("%s (%s)", b.Outcome, b.Kind)
		}
		return color.RedString(string(b.Outcome))
	default:
		return string(b.Outcome)
	}
}
