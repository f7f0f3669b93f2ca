// internal/daemon/builder/janitor.go
package builder

import (
	"log/slog"
	"os"
	"sync"
)

// Janitor removes the build roots of evicted artifacts. Its Evict method is
// registered as the cache's eviction callback; removal happens in the
// background so the reaper never blocks on the filesystem.
type Janitor struct {
	logger  *slog.Logger
	metrics *Metrics
	wg      sync.WaitGroup
}

// NewJanitor creates a janitor. metrics may be nil.
func NewJanitor(logger *slog.Logger, metrics *Metrics) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{logger: logger, metrics: metrics}
}

// Evict schedules removal of the artifact's build root.
func (j *Janitor) Evict(target string, art Artifact) {
	j.metrics.evicted(target)

	if art.BuildRoot == "" {
		j.logger.Warn("evicted artifact has no build root", "target", target)
		return
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		// RemoveAll treats a missing path as success.
		if err := os.RemoveAll(art.BuildRoot); err != nil {
			j.logger.Error("failed to remove evicted build",
				"target", target,
				"buildID", art.BuildID,
				"path", art.BuildRoot,
				"error", err)
			return
		}
		j.logger.Info("evicted build from cache",
			"target", target,
			"buildID", art.BuildID,
			"path", art.BuildRoot)
	}()
}

// Wait blocks until every scheduled removal has finished.
func (j *Janitor) Wait() {
	j.wg.Wait()
}
