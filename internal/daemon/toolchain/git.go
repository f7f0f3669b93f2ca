// internal/daemon/toolchain/git.go
package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Git fetches the served repository into a build root.
type Git struct {
	// Program is the git executable; empty means DefaultGit.
	Program string
	// Repo is the repository URL or local path to clone.
	Repo string
	// Depth is the shallow clone depth (0 = full clone).
	Depth int
}

// FetchSource clones the repository into dest, which must not exist yet or
// be empty.
func (g *Git) FetchSource(ctx context.Context, target, dest string) error {
	if g.Repo == "" {
		return fmt.Errorf("no repository configured")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}

	args := []string{"clone", "--quiet"}
	if g.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(g.Depth))
	}
	args = append(args, g.Repo, dest)

	if _, err := output(ctx, "", g.program(), args...); err != nil {
		return fmt.Errorf("git clone of %s failed: %w", g.Repo, err)
	}
	return nil
}

func (g *Git) program() string {
	if g.Program == "" {
		return DefaultGit
	}
	return g.Program
}
