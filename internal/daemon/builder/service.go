// internal/daemon/builder/service.go
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/altuslabsxyz/binserve/internal/daemon/cache"
	"github.com/altuslabsxyz/binserve/internal/daemon/inflight"
	"github.com/altuslabsxyz/binserve/internal/daemon/status"
	"github.com/altuslabsxyz/binserve/internal/daemon/store"
)

// Default timeouts.
const (
	DefaultBuildTimeout = 30 * time.Minute
	DefaultWaitTimeout  = 30 * time.Minute
)

// ServiceConfig configures the Service.
type ServiceConfig struct {
	// WorkDir holds one directory per target, each holding one build root
	// per attempt.
	WorkDir string

	// BuildTimeout bounds a single attempt (0 = unbounded).
	BuildTimeout time.Duration

	// WaitTimeout bounds how long a request waits on another request's
	// build before giving up (0 = unbounded).
	WaitTimeout time.Duration

	Validator TargetValidator
	Fetcher   SourceFetcher
	Toolchain Toolchain
	Resolver  ArtifactResolver

	// Cache and InFlight are shared with the rest of the daemon.
	Cache    *cache.Cache[Artifact]
	InFlight *inflight.Set[Artifact]

	// Status, History and Metrics are optional.
	Status  *status.Tracker
	History HistoryStore
	Metrics *Metrics

	// Logger for logging build progress.
	Logger *slog.Logger
}

// Service turns a target triple into a cached artifact, building it at most
// once at a time per target.
type Service struct {
	workDir      string
	buildTimeout time.Duration
	waitTimeout  time.Duration

	validator TargetValidator
	fetcher   SourceFetcher
	toolchain Toolchain
	resolver  ArtifactResolver

	cache    *cache.Cache[Artifact]
	inflight *inflight.Set[Artifact]
	status   *status.Tracker
	history  HistoryStore
	metrics  *Metrics
	logger   *slog.Logger

	// Builds run on ctx, not on the request that started them.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex // guards closed and wg.Add
	closed bool

	newID func() string
	now   func() time.Time
}

// NewService creates a new Service.
func NewService(config ServiceConfig) (*Service, error) {
	switch {
	case config.WorkDir == "":
		return nil, fmt.Errorf("work directory is required")
	case config.Validator == nil, config.Fetcher == nil, config.Toolchain == nil, config.Resolver == nil:
		return nil, fmt.Errorf("validator, fetcher, toolchain and resolver are required")
	case config.Cache == nil || config.InFlight == nil:
		return nil, fmt.Errorf("cache and in-flight set are required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracker := config.Status
	if tracker == nil {
		t, err := status.NewTracker(0, 0)
		if err != nil {
			return nil, err
		}
		tracker = t
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		workDir:      config.WorkDir,
		buildTimeout: config.BuildTimeout,
		waitTimeout:  config.WaitTimeout,
		validator:    config.Validator,
		fetcher:      config.Fetcher,
		toolchain:    config.Toolchain,
		resolver:     config.Resolver,
		cache:        config.Cache,
		inflight:     config.InFlight,
		status:       tracker,
		history:      config.History,
		metrics:      config.Metrics,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		newID:        func() string { return uuid.NewString() },
		now:          time.Now,
	}, nil
}

// LookupOrBuild returns the artifact for target, building it when it is not
// cached. Concurrent calls for the same target share one build; a caller
// that waited on a build which failed tries again itself.
func (s *Service) LookupOrBuild(ctx context.Context, target string) (Artifact, error) {
	if err := CheckTarget(target); err != nil {
		return Artifact{}, err
	}

	timedOut := false
	for {
		// A waiter woken by shutdown must not claim a new build.
		if s.ctx.Err() != nil {
			return Artifact{}, ErrClosed
		}

		out := s.inflight.Begin(target, s.cache.Get)
		switch {
		case out.Hit:
			s.metrics.lookup(target, true)
			return out.Value, nil
		case out.Claim != nil:
			s.metrics.lookup(target, false)
			return s.build(ctx, out.Claim)
		case timedOut:
			return Artifact{}, fmt.Errorf("%w waiting for build of %s", ErrTimeout, target)
		}

		s.metrics.waited(target)
		s.logger.Debug("waiting for running build", "target", target)
		if err := s.wait(ctx, out.Wait); err != nil {
			if !errors.Is(err, ErrTimeout) {
				return Artifact{}, err
			}
			timedOut = true
		}
	}
}

// Status returns the advisory progress snapshot of target.
func (s *Service) Status(target string) status.Snapshot {
	snap := s.status.Get(target)
	if since, ok := s.inflight.Since(target); ok && snap.State != status.StateBuilding {
		// Claimed but not started yet, or its slot was dropped by the tracker.
		return status.Snapshot{
			Target:    target,
			State:     status.StateBuilding,
			Message:   "queued",
			StartedAt: since,
			UpdatedAt: since,
		}
	}
	if snap.State == status.StateIdle && s.cache.Contains(target) {
		snap.State = status.StateSucceeded
		snap.Message = "cached"
		snap.Progress = 100
	}
	return snap
}

// History lists finished attempts for target (all targets when empty),
// newest first.
func (s *Service) History(ctx context.Context, target string, limit int) ([]*store.BuildRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListBuilds(ctx, target, limit)
}

// Building returns the targets with a build in progress.
func (s *Service) Building() []string {
	return s.inflight.Keys()
}

// Cached returns the targets currently held in the cache.
func (s *Service) Cached() []string {
	return s.cache.Keys()
}

// Close cancels running builds and waits for them to finish. Requests
// still waiting, and any made afterwards, fail with ErrClosed.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Service) wait(ctx context.Context, done <-chan struct{}) error {
	var timeout <-chan time.Time
	if s.waitTimeout > 0 {
		timer := time.NewTimer(s.waitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	case <-timeout:
		return ErrTimeout
	}
}

type buildResult struct {
	art Artifact
	err error
}

// build runs the pipeline for a claimed target. The pipeline outlives ctx:
// if the caller goes away, the build still finishes for anyone waiting.
func (s *Service) build(ctx context.Context, claim *inflight.Claim) (Artifact, error) {
	target := claim.Key()
	resultCh := make(chan buildResult, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		claim.Release()
		return Artifact{}, ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer claim.Release()

		var res buildResult
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("build panicked", "target", target, "panic", r)
				res = buildResult{err: &BuildError{
					Stage:  status.StageCompile,
					Target: target,
					Err:    fmt.Errorf("panic: %v", r),
				}}
				s.status.Finish(target, res.err)
			}
			resultCh <- res
		}()

		res.art, res.err = s.runPipeline(target)
	}()

	select {
	case res := <-resultCh:
		return res.art, res.err
	case <-ctx.Done():
		return Artifact{}, ctx.Err()
	}
}

func (s *Service) runPipeline(target string) (Artifact, error) {
	id := s.newID()
	root := filepath.Join(s.workDir, target, id)
	logger := s.logger.With("target", target, "buildID", id)

	ctx := s.ctx
	if s.buildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.buildTimeout)
		defer cancel()
	}

	started := s.now()
	s.status.Start(target, id)
	s.metrics.buildStarted()
	logger.Info("starting build", "root", root)

	art, err := s.pipeline(ctx, target, id, root, logger)
	if err != nil && s.ctx.Err() != nil {
		err = fmt.Errorf("%w: build of %s interrupted: %v", ErrClosed, target, err)
	}

	finished := s.now()
	s.status.Finish(target, err)
	s.metrics.buildFinished(target, finished.Sub(started), err)
	s.record(target, id, started, finished, art, err, logger)

	if err != nil {
		logger.Error("build failed", "error", err, "duration", finished.Sub(started))
		return Artifact{}, err
	}
	logger.Info("build finished", "path", art.Path, "duration", finished.Sub(started))
	return art, nil
}

// pipeline validates, fetches, compiles and resolves target inside root,
// then publishes the artifact to the cache.
func (s *Service) pipeline(ctx context.Context, target, id, root string, logger *slog.Logger) (Artifact, error) {
	fail := func(stage string, err error) (Artifact, error) {
		return Artifact{}, &BuildError{
			Stage:    stage,
			Target:   target,
			ExitCode: exitCodeOf(err),
			Err:      err,
		}
	}

	// Clean up the build root on failure
	buildSuccess := false
	defer func() {
		if !buildSuccess {
			if err := os.RemoveAll(root); err != nil {
				logger.Warn("failed to remove build root", "root", root, "error", err)
			}
		}
	}()

	s.status.SetStage(target, status.StageValidate)
	if err := s.validator.ValidateTarget(ctx, target); err != nil {
		return fail(status.StageValidate, err)
	}

	s.status.SetStage(target, status.StageFetch)
	logger.Debug("fetching source", "dest", root)
	if err := s.fetcher.FetchSource(ctx, target, root); err != nil {
		return fail(status.StageFetch, err)
	}

	s.status.SetStage(target, status.StageCompile)
	name, err := s.toolchain.RunToolchain(ctx, target, root, func(stream, line string) {
		s.status.Observe(target, stream, line)
	})
	if err != nil {
		return fail(status.StageCompile, err)
	}

	s.status.SetStage(target, status.StageResolve)
	path := s.resolver.ResolveArtifactPath(target, root, name)
	info, err := os.Stat(path)
	if err != nil {
		return fail(status.StageResolve, err)
	}
	if info.IsDir() {
		return fail(status.StageResolve, fmt.Errorf("%s is a directory", path))
	}

	art := Artifact{
		Target:    target,
		Path:      path,
		Name:      name,
		BuildRoot: root,
		BuildID:   id,
		BuiltAt:   s.now(),
	}
	// Insert before the claim is released so waiters find it.
	s.cache.Insert(target, art)

	buildSuccess = true
	return art, nil
}

// record writes the attempt to history. Failures are logged only.
func (s *Service) record(target, id string, started, finished time.Time, art Artifact, err error, logger *slog.Logger) {
	if s.history == nil {
		return
	}

	rec := &store.BuildRecord{
		ID:         id,
		Target:     target,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   finished.Sub(started),
		Outcome:    store.OutcomeSucceeded,
		Path:       art.Path,
	}
	if err != nil {
		rec.Outcome = store.OutcomeFailed
		rec.Error = err.Error()
		var be *BuildError
		if errors.Is(err, ErrClosed) {
			rec.Kind = KindClosed
		} else if errors.As(err, &be) {
			rec.Kind = be.Kind()
			rec.ExitCode = be.ExitCode
		}
	}

	// The service context may already be cancelled during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if werr := s.history.RecordBuild(ctx, rec); werr != nil {
		logger.Warn("failed to record build history", "error", werr)
	}
}
