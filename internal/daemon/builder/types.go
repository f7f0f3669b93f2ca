// internal/daemon/builder/types.go
package builder

import (
	"context"
	"time"

	"github.com/altuslabsxyz/binserve/internal/daemon/store"
)

// Artifact is a compiled binary held by the cache.
type Artifact struct {
	Target string // target triple it was built for
	Path   string // absolute path of the executable
	Name   string // file name served to clients
	// BuildRoot is the per-attempt directory the artifact lives in; removing
	// it releases everything the build produced.
	BuildRoot string
	BuildID   string
	BuiltAt   time.Time
}

// TargetValidator checks that a target triple can be built, installing it
// if needed.
type TargetValidator interface {
	ValidateTarget(ctx context.Context, target string) error
}

// SourceFetcher places the source tree into dest.
type SourceFetcher interface {
	FetchSource(ctx context.Context, target, dest string) error
}

// Toolchain compiles sourceDir for target and returns the executable's file
// name. Output lines are passed to onLine as they are produced.
type Toolchain interface {
	RunToolchain(ctx context.Context, target, sourceDir string, onLine func(stream, line string)) (string, error)
}

// ArtifactResolver maps a build root and executable name to the artifact path.
type ArtifactResolver interface {
	ResolveArtifactPath(target, buildRoot, name string) string
}

// HistoryStore records finished build attempts.
type HistoryStore interface {
	RecordBuild(ctx context.Context, rec *store.BuildRecord) error
	ListBuilds(ctx context.Context, target string, limit int) ([]*store.BuildRecord, error)
}
