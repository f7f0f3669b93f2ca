// cmd/binserve/status.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/binserve/internal/daemon/status"
)

func newStatusCmd() *cobra.Command {
	var (
		watch      bool
		jsonOutput bool
		tail       int
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status <target>",
		Short: "Show build status of a target",
		Long: `Show the state and progress of the last build of a target.

Examples:
  binserve status x86_64-unknown-linux-gnu
  binserve status x86_64-unknown-linux-gnu --watch
  binserve status x86_64-unknown-linux-gnu --tail 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			out := cmd.OutOrStdout()

			for {
				snap, err := apiClient.Status(ctx, target)
				if err != nil {
					return err
				}

				if jsonOutput {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					if err := enc.Encode(snap); err != nil {
						return err
					}
				} else {
					printSnapshot(out, snap, tail)
				}

				if !watch || snap.State != status.StateBuilding {
					return nil
				}

				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
				fmt.Fprintln(out)
			}
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep polling while the target is building")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.Flags().IntVar(&tail, "tail", 0, "Show the last N lines of build output")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval for --watch")

	return cmd
}

func printSnapshot(w io.Writer, snap *status.Snapshot, tail int) {
	fmt.Fprintf(w, "Target:   %s\n", snap.Target)
	fmt.Fprintf(w, "State:    %s\n", colorState(snap.State))
	if snap.Stage != "" {
		fmt.Fprintf(w, "Stage:    %s\n", snap.Stage)
	}
	fmt.Fprintf(w, "Progress: %s %d%%\n", progressBar(snap.Progress, 20), snap.Progress)
	if snap.Message != "" {
		fmt.Fprintf(w, "Message:  %s\n", snap.Message)
	}
	if snap.BuildID != "" {
		dimColor.Fprintf(w, "Build:    %s\n", snap.BuildID)
	}
	if !snap.StartedAt.IsZero() {
		dimColor.Fprintf(w, "Started:  %s\n", snap.StartedAt.Local().Format(time.RFC3339))
	}
	if !snap.FinishedAt.IsZero() {
		dimColor.Fprintf(w, "Took:     %s\n", snap.FinishedAt.Sub(snap.StartedAt).Round(time.Second))
	}
	if snap.Error != "" {
		color.New(color.FgRed).Fprintf(w, "Error:    %s\n", snap.Error)
	}
	if len(snap.Errors) > 0 {
		fmt.Fprintln(w)
		for _, line := range snap.Errors {
			color.New(color.FgRed).Fprintf(w, "  %s\n", line)
		}
	}

	if tail > 0 && len(snap.Tail) > 0 {
		lines := snap.Tail
		if len(lines) > tail {
			lines = lines[len(lines)-tail:]
		}
		fmt.Fprintln(w)
		for _, line := range lines {
			dimColor.Fprintf(w, "  %s\n", line)
		}
	}
}

func colorState(state status.State) string {
	switch state {
	case status.StateSucceeded:
		return color.GreenString(string(state))
	case status.StateBuilding:
		return color.YellowString(string(state))
	case status.StateFailed:
		return color.RedString(string(state))
	default:
		return color.WhiteString(string(state))
	}
}

func progressBar(progress, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	filled := progress * width / 100
	bar := make([]byte, width)
	for i := range bar {
		if i < filled {
			bar[i] = '#'
		} else {
			bar[i] = '.'
		}
	}
	return "[" + string(bar) + "]"
}
