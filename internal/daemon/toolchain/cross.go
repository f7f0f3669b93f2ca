// internal/daemon/toolchain/cross.go
package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Cross compiles a checked out crate for a target with `cross build`.
type Cross struct {
	// Program is the cross executable; empty means DefaultCross.
	Program string
	// BinaryName overrides the name read from Cargo.toml.
	BinaryName string
	// Debug echoes every output line to Logger at debug level.
	Debug  bool
	Logger *slog.Logger
}

// RunToolchain builds sourceDir in release mode for target, streaming output
// lines to onLine, and returns the file name of the produced executable.
// A non-zero exit is reported as *ExitError.
func (c *Cross) RunToolchain(ctx context.Context, target, sourceDir string, onLine func(stream, line string)) (string, error) {
	manifestPath := filepath.Join(sourceDir, "Cargo.toml")

	name := c.BinaryName
	if name == "" {
		n, err := BinaryName(manifestPath)
		if err != nil {
			return "", err
		}
		name = n
	}

	args := []string{
		"build",
		"--release",
		"--manifest-path", manifestPath,
		"--target=" + target,
	}

	logger := c.logger().With("target", target)
	logger.Debug("running cross", "args", args, "dir", sourceDir)

	err := stream(ctx, sourceDir, c.program(), args, func(s, line string) {
		if c.Debug {
			logger.Debug(line, "stream", s)
		}
		if onLine != nil {
			onLine(s, line)
		}
	})
	if err != nil {
		return "", fmt.Errorf("cross build failed: %w", err)
	}

	return ExecutableName(target, name), nil
}

func (c *Cross) program() string {
	if c.Program == "" {
		return DefaultCross
	}
	return c.Program
}

func (c *Cross) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
