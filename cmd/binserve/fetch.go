// cmd/binserve/fetch.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/binserve/internal/client"
	"github.com/altuslabsxyz/binserve/internal/daemon/status"
	"github.com/altuslabsxyz/binserve/internal/output"
)

func newFetchCmd() *cobra.Command {
	var (
		outPath  string
		timeout  time.Duration
		quiet    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch <target>",
		Short: "Download the binary built for a target",
		Long: `Download the binary built for a target triple.

When the server has no binary for the target yet, it builds one first; the
command waits and shows build progress unless --quiet is set.

Examples:
  binserve fetch x86_64-unknown-linux-gnu
  binserve fetch x86_64-pc-windows-gnu -o dist/app.exe
  binserve fetch aarch64-apple-darwin -o - > app`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			if !quiet && outPath != "-" {
				stop := watchProgress(ctx, cmd.ErrOrStderr(), target, interval)
				defer stop()
			}

			if outPath == "-" {
				_, err := apiClient.FetchBinary(ctx, target, cmd.OutOrStdout())
				return err
			}
			return fetchToFile(ctx, cmd, target, outPath)
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file, - for stdout (default: server-provided name in the output directory)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 = wait for the server)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not show build progress")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Progress polling interval")

	return cmd
}

// fetchToFile downloads into a temporary file next to the destination and
// renames it once complete, so a failed download leaves nothing behind.
func fetchToFile(ctx context.Context, cmd *cobra.Command, target, outPath string) error {
	dir := clientConfig.OutputDir
	if outPath != "" {
		dir = filepath.Dir(outPath)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".binserve-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	dl, err := apiClient.FetchBinary(ctx, target, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	dest := outPath
	if dest == "" {
		dest = filepath.Join(dir, dl.Name)
	}
	if err := os.Chmod(tmp.Name(), 0755); err != nil {
		return fmt.Errorf("failed to make %s executable: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}

	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Saved %s", dest)
	dimColor.Fprintf(cmd.OutOrStdout(), " (%s, build %s)\n", formatBytes(dl.Size), shortID(dl.BuildID))
	return nil
}

// watchProgress polls the build status of target and shows it on a spinner
// line in w until the returned stop function is called.
func watchProgress(ctx context.Context, w io.Writer, target string, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	spinner := output.NewSpinner(w)

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			snap, err := apiClient.Status(ctx, target)
			if err != nil || snap.State != status.StateBuilding {
				continue
			}
			spinner.Start(fmt.Sprintf("building %s", target))
			spinner.Update(fmt.Sprintf("[%3d%%] %s", snap.Progress, truncate(snap.Message, 60)))
		}
	}()

	return func() {
		cancel()
		<-done
		spinner.Stop()
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// apiErrorHint returns a suggestion for well-known failures.
func apiErrorHint(err error) string {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return ""
	}
	switch apiErr.Kind {
	case "invalid_target":
		return "list supported targets with: rustup target list"
	case "toolchain", "fetch":
		return "see the build output with: binserve status <target> --tail 50"
	case "validate":
		return "the server could not query rustup; check its toolchain installation"
	}
	if apiErr.Temporary() {
		return "the server is busy or shutting down, try again later"
	}
	return ""
}
