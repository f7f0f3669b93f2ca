// internal/daemon/builder/service_test.go
package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/altuslabsxyz/binserve/internal/daemon/cache"
	"github.com/altuslabsxyz/binserve/internal/daemon/inflight"
	"github.com/altuslabsxyz/binserve/internal/daemon/status"
	"github.com/altuslabsxyz/binserve/internal/daemon/store"
	"github.com/altuslabsxyz/binserve/internal/daemon/toolchain"
)

const linux = "x86_64-unknown-linux-gnu"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeValidator struct {
	err   error
	calls atomic.Int32
}

func (f *fakeValidator) ValidateTarget(ctx context.Context, target string) error {
	f.calls.Add(1)
	return f.err
}

type fakeFetcher struct {
	err   error
	calls atomic.Int32
}

func (f *fakeFetcher) FetchSource(ctx context.Context, target, dest string) error {
	f.calls.Add(1)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dest, "Cargo.toml"), []byte("[package]\nname = \"demo\"\n"), 0644); err != nil {
		return err
	}
	return f.err
}

type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e *exitError) ExitCode() int { return e.code }

// fakeToolchain writes <root>/target/<T>/release/demo unless told otherwise.
type fakeToolchain struct {
	calls atomic.Int32
	// gate, when set, blocks every run until it is closed.
	gate chan struct{}
	// fail decides the error of the nth call (1-based); nil means success.
	fail func(n int32) error
	// skipArtifact leaves no file behind on success.
	skipArtifact bool
}

func (f *fakeToolchain) RunToolchain(ctx context.Context, target, sourceDir string, onLine func(stream, line string)) (string, error) {
	n := f.calls.Add(1)
	if onLine != nil {
		onLine("stderr", "   Compiling demo v0.1.0")
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(n); err != nil {
			return "", err
		}
	}
	if f.skipArtifact {
		return "demo", nil
	}
	dir := filepath.Join(sourceDir, "target", target, "release")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return "demo", os.WriteFile(filepath.Join(dir, "demo"), []byte("binary"), 0755)
}

type harness struct {
	svc       *Service
	cache     *cache.Cache[Artifact]
	set       *inflight.Set[Artifact]
	history   *store.MemoryStore
	janitor   *Janitor
	validator *fakeValidator
	fetcher   *fakeFetcher
	toolchain *fakeToolchain
	workDir   string
}

type harnessOptions struct {
	ttl          time.Duration
	reap         time.Duration
	buildTimeout time.Duration
	waitTimeout  time.Duration
	metrics      *Metrics
}

func newHarness(t *testing.T, tc *fakeToolchain, opts harnessOptions) *harness {
	t.Helper()

	if tc == nil {
		tc = &fakeToolchain{}
	}
	h := &harness{
		set:       inflight.New[Artifact](),
		history:   store.NewMemoryStore(0),
		janitor:   NewJanitor(nil, opts.metrics),
		validator: &fakeValidator{},
		fetcher:   &fakeFetcher{},
		toolchain: tc,
		workDir:   t.TempDir(),
	}

	reap := opts.reap
	if reap == 0 {
		reap = time.Hour
	}
	h.cache = cache.New(cache.Config[Artifact]{
		TTL:      opts.ttl,
		Interval: reap,
		OnEvict:  h.janitor.Evict,
	})

	svc, err := NewService(ServiceConfig{
		WorkDir:      h.workDir,
		BuildTimeout: opts.buildTimeout,
		WaitTimeout:  opts.waitTimeout,
		Validator:    h.validator,
		Fetcher:      h.fetcher,
		Toolchain:    tc,
		Resolver:     toolchain.Layout{},
		Cache:        h.cache,
		InFlight:     h.set,
		History:      h.history,
		Metrics:      opts.metrics,
	})
	require.NoError(t, err)
	h.svc = svc

	t.Cleanup(func() {
		svc.Close()
		h.cache.Close()
		h.janitor.Wait()
	})
	return h
}

func (h *harness) buildRoots(t *testing.T, target string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(h.workDir, target))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	assert.Error(t, err)

	_, err = NewService(ServiceConfig{WorkDir: t.TempDir()})
	assert.Error(t, err)
}

func TestLookupOrBuild_BuildsThenHits(t *testing.T) {
	h := newHarness(t, nil, harnessOptions{})
	ctx := context.Background()

	art, err := h.svc.LookupOrBuild(ctx, linux)
	require.NoError(t, err)
	assert.Equal(t, linux, art.Target)
	assert.Equal(t, "demo", art.Name)
	assert.Equal(t, filepath.Join(h.workDir, linux, art.BuildID), art.BuildRoot)
	assert.Equal(t, filepath.Join(art.BuildRoot, "target", linux, "release", "demo"), art.Path)
	assert.FileExists(t, art.Path)
	assert.False(t, h.set.Building(linux))

	again, err := h.svc.LookupOrBuild(ctx, linux)
	require.NoError(t, err)
	assert.Equal(t, art, again)
	assert.Equal(t, int32(1), h.toolchain.calls.Load())

	recs, err := h.svc.History(ctx, linux, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.OutcomeSucceeded, recs[0].Outcome)
	assert.Equal(t, art.BuildID, recs[0].ID)
	assert.Equal(t, art.Path, recs[0].Path)

	assert.Equal(t, []string{linux}, h.svc.Cached())
	assert.Empty(t, h.svc.Building())
}

func TestLookupOrBuild_SingleFlight(t *testing.T) {
	tc := &fakeToolchain{gate: make(chan struct{})}
	h := newHarness(t, tc, harnessOptions{})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Artifact, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.LookupOrBuild(context.Background(), linux)
		}(i)
	}

	require.Eventually(t, func() bool { return tc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{linux}, h.svc.Building())
	assert.Equal(t, status.StateBuilding, h.svc.Status(linux).State)

	close(tc.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, int32(1), tc.calls.Load())
	assert.Equal(t, int32(1), h.fetcher.calls.Load())
	assert.Len(t, h.buildRoots(t, linux), 1)
}

func TestLookupOrBuild_DistinctTargetsBuildIndependently(t *testing.T) {
	h := newHarness(t, nil, harnessOptions{})

	var wg sync.WaitGroup
	for _, target := range []string{linux, "aarch64-unknown-linux-gnu", "x86_64-pc-windows-gnu"} {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			_, err := h.svc.LookupOrBuild(context.Background(), target)
			assert.NoError(t, err)
		}(target)
	}
	wg.Wait()

	assert.Equal(t, int32(3), h.toolchain.calls.Load())
	assert.Equal(t, 3, h.cache.Len())
}

func TestLookupOrBuild_FailureReleasesClaim(t *testing.T) {
	tc := &fakeToolchain{fail: func(n int32) error {
		if n == 1 {
			return &exitError{code: 101}
		}
		return nil
	}}
	h := newHarness(t, tc, harnessOptions{})
	ctx := context.Background()

	_, err := h.svc.LookupOrBuild(ctx, linux)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolchainFailed)

	var be *BuildError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 101, be.ExitCode)
	assert.Equal(t, status.StageCompile, be.Stage)

	assert.False(t, h.set.Building(linux))
	assert.Equal(t, 0, h.cache.Len())
	assert.Empty(t, h.buildRoots(t, linux), "failed build root must be removed")

	snap := h.svc.Status(linux)
	assert.Equal(t, status.StateFailed, snap.State)
	assert.Contains(t, snap.Error, "exit status 101")

	// Failures are not cached: the next request builds again.
	art, err := h.svc.LookupOrBuild(ctx, linux)
	require.NoError(t, err)
	assert.FileExists(t, art.Path)
	assert.Equal(t, int32(2), tc.calls.Load())

	recs, err := h.svc.History(ctx, linux, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, store.OutcomeSucceeded, recs[0].Outcome)
	assert.Equal(t, store.OutcomeFailed, recs[1].Outcome)
	assert.Equal(t, "toolchain", recs[1].Kind)
	assert.Equal(t, 101, recs[1].ExitCode)
}

func TestLookupOrBuild_WaiterRetriesAfterFailedBuild(t *testing.T) {
	tc := &fakeToolchain{
		gate: make(chan struct{}),
		fail: func(n int32) error {
			if n == 1 {
				return errors.New("boom")
			}
			return nil
		},
	}
	h := newHarness(t, tc, harnessOptions{})

	firstErr := make(chan error, 1)
	go func() {
		_, err := h.svc.LookupOrBuild(context.Background(), linux)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return tc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		art Artifact
		err error
	}
	second := make(chan result, 1)
	go func() {
		art, err := h.svc.LookupOrBuild(context.Background(), linux)
		second <- result{art, err}
	}()
	// Give the second caller time to start waiting on the first build.
	time.Sleep(50 * time.Millisecond)

	close(tc.gate)

	err := <-firstErr
	assert.ErrorIs(t, err, ErrToolchainFailed)

	res := <-second
	require.NoError(t, res.err, "a waiter must not inherit the claimer's error")
	assert.FileExists(t, res.art.Path)
	assert.Equal(t, int32(2), tc.calls.Load())
}

func TestLookupOrBuild_WaitTimeout(t *testing.T) {
	tc := &fakeToolchain{gate: make(chan struct{})}
	h := newHarness(t, tc, harnessOptions{waitTimeout: 50 * time.Millisecond})

	first := make(chan error, 1)
	go func() {
		_, err := h.svc.LookupOrBuild(context.Background(), linux)
		first <- err
	}()
	require.Eventually(t, func() bool { return tc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	_, err := h.svc.LookupOrBuild(context.Background(), linux)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	close(tc.gate)
	assert.NoError(t, <-first)
	assert.Equal(t, int32(1), tc.calls.Load())
}

func TestLookupOrBuild_CallerCancelDoesNotAbortBuild(t *testing.T) {
	tc := &fakeToolchain{gate: make(chan struct{})}
	h := newHarness(t, tc, harnessOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.svc.LookupOrBuild(ctx, linux)
		done <- err
	}()
	require.Eventually(t, func() bool { return tc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.True(t, h.set.Building(linux), "build must keep running for other callers")

	close(tc.gate)
	require.Eventually(t, func() bool { return h.cache.Contains(linux) }, time.Second, 5*time.Millisecond)

	_, err := h.svc.LookupOrBuild(context.Background(), linux)
	require.NoError(t, err)
	assert.Equal(t, int32(1), tc.calls.Load())
}

func TestLookupOrBuild_InvalidTargetName(t *testing.T) {
	h := newHarness(t, nil, harnessOptions{})

	for _, target := range []string{"", ".", "..", "../etc", "a/b", "x86_64 linux", "a\\b"} {
		_, err := h.svc.LookupOrBuild(context.Background(), target)
		assert.ErrorIs(t, err, ErrInvalidTarget, "target %q", target)
	}
	assert.Equal(t, int32(0), h.validator.calls.Load())
	assert.Equal(t, 0, h.set.Len())
}

func TestLookupOrBuild_ValidatorRejects(t *testing.T) {
	h := newHarness(t, nil, harnessOptions{})
	h.validator.err = &toolchain.UnknownTargetError{Target: "mips-unknown-nowhere"}

	_, err := h.svc.LookupOrBuild(context.Background(), "mips-unknown-nowhere")
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.NotErrorIs(t, err, ErrValidateFailed)
	assert.Equal(t, int32(0), h.fetcher.calls.Load())
	assert.False(t, h.set.Building("mips-unknown-nowhere"))
}

func TestLookupOrBuild_ValidatorUnavailable(t *testing.T) {
	h := newHarness(t, nil, harnessOptions{})
	h.validator.err = errors.New("failed to list targets: exit status 1")

	_, err := h.svc.LookupOrBuild(context.Background(), linux)
	assert.ErrorIs(t, err, ErrValidateFailed)
	assert.NotErrorIs(t, err, ErrInvalidTarget)
	assert.Equal(t, int32(0), h.fetcher.calls.Load())

	records, err := h.svc.History(context.Background(), linux, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, KindValidate, records[0].Kind)
}

func TestLookupOrBuild_FetchFailure(t *testing.T) {
	h := newHarness(t, nil, harnessOptions{})
	h.fetcher.err = &exitError{code: 128}

	_, err := h.svc.LookupOrBuild(context.Background(), linux)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, int32(0), h.toolchain.calls.Load())
	assert.Empty(t, h.buildRoots(t, linux))
}

func TestLookupOrBuild_ArtifactNotFound(t *testing.T) {
	h := newHarness(t, &fakeToolchain{skipArtifact: true}, harnessOptions{})

	_, err := h.svc.LookupOrBuild(context.Background(), linux)
	assert.ErrorIs(t, err, ErrArtifactNotFound)
	assert.Equal(t, 0, h.cache.Len())
	assert.Empty(t, h.buildRoots(t, linux))
}

func TestLookupOrBuild_BuildTimeout(t *testing.T) {
	tc := &fakeToolchain{gate: make(chan struct{})}
	defer close(tc.gate)
	h := newHarness(t, tc, harnessOptions{buildTimeout: 50 * time.Millisecond})

	_, err := h.svc.LookupOrBuild(context.Background(), linux)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrToolchainFailed)
	assert.False(t, h.set.Building(linux))
}

func TestLookupOrBuild_AfterClose(t *testing.T) {
	h := newHarness(t, nil, harnessOptions{})
	h.svc.Close()

	_, err := h.svc.LookupOrBuild(context.Background(), linux)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_InterruptsClaimerAndWaiters(t *testing.T) {
	tc := &fakeToolchain{gate: make(chan struct{})}
	defer close(tc.gate)
	h := newHarness(t, tc, harnessOptions{})

	claimerErr := make(chan error, 1)
	go func() {
		_, err := h.svc.LookupOrBuild(context.Background(), linux)
		claimerErr <- err
	}()
	require.Eventually(t, func() bool { return tc.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := h.svc.LookupOrBuild(context.Background(), linux)
		waiterErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	h.svc.Close()

	for name, ch := range map[string]chan error{"claimer": claimerErr, "waiter": waiterErr} {
		select {
		case err := <-ch:
			assert.ErrorIs(t, err, ErrClosed, name)
			assert.NotErrorIs(t, err, ErrToolchainFailed, name)
			assert.NotErrorIs(t, err, ErrInvalidTarget, name)
		case <-time.After(2 * time.Second):
			t.Fatalf("%s did not return after Close", name)
		}
	}

	assert.Equal(t, int32(1), tc.calls.Load(), "no build may start after Close")
	assert.Equal(t, 0, h.set.Len())

	records, err := h.svc.History(context.Background(), linux, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, KindClosed, records[0].Kind)
}

func TestStatus_QueuedWhileClaimed(t *testing.T) {
	h := newHarness(t, nil, harnessOptions{})

	out := h.set.Begin(linux, nil)
	require.NotNil(t, out.Claim)

	snap := h.svc.Status(linux)
	assert.Equal(t, status.StateBuilding, snap.State)
	assert.Equal(t, "queued", snap.Message)
	assert.False(t, snap.StartedAt.IsZero())

	out.Claim.Release()
	assert.Equal(t, status.StateIdle, h.svc.Status(linux).State)
}

func TestEvictionRemovesBuildRoot(t *testing.T) {
	h := newHarness(t, nil, harnessOptions{ttl: 100 * time.Millisecond, reap: 10 * time.Millisecond})
	ctx := context.Background()

	first, err := h.svc.LookupOrBuild(ctx, linux)
	require.NoError(t, err)
	assert.DirExists(t, first.BuildRoot)

	require.Eventually(t, func() bool {
		_, statErr := os.Stat(first.BuildRoot)
		return !h.cache.Contains(linux) && errors.Is(statErr, os.ErrNotExist)
	}, 2*time.Second, 10*time.Millisecond)

	second, err := h.svc.LookupOrBuild(ctx, linux)
	require.NoError(t, err)
	assert.NotEqual(t, first.BuildID, second.BuildID)
	assert.FileExists(t, second.Path)
	assert.Equal(t, int32(2), h.toolchain.calls.Load())
}

func TestStatusFollowsBuild(t *testing.T) {
	h := newHarness(t, nil, harnessOptions{})

	assert.Equal(t, status.StateIdle, h.svc.Status(linux).State)

	art, err := h.svc.LookupOrBuild(context.Background(), linux)
	require.NoError(t, err)

	snap := h.svc.Status(linux)
	assert.Equal(t, status.StateSucceeded, snap.State)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, art.BuildID, snap.BuildID)
	assert.Equal(t, []string{"   Compiling demo v0.1.0"}, snap.Tail)
}

func TestCheckTarget(t *testing.T) {
	for _, ok := range []string{linux, "aarch64-apple-darwin", "thumbv7em-none-eabihf", "wasm32-wasi", "x86_64-pc-windows-gnu"} {
		assert.NoError(t, CheckTarget(ok), ok)
	}
	long := make([]byte, 129)
	for i := range long {
		long[i] = 'a'
	}
	for _, bad := range []string{"", ".", "..", "a/b", "a b", string(long)} {
		assert.ErrorIs(t, CheckTarget(bad), ErrInvalidTarget, bad)
	}
}

func TestBuildError(t *testing.T) {
	err := &BuildError{Stage: status.StageCompile, Target: linux, ExitCode: 101, Err: errors.New("cross failed")}
	assert.Equal(t, "build of x86_64-unknown-linux-gnu failed at compile (exit status 101): cross failed", err.Error())
	assert.ErrorIs(t, err, ErrToolchainFailed)
	assert.NotErrorIs(t, err, ErrFetchFailed)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "toolchain", err.Kind())

	wrapped := fmt.Errorf("request: %w", &BuildError{Stage: status.StageFetch, Target: linux, Err: context.DeadlineExceeded})
	assert.ErrorIs(t, wrapped, ErrFetchFailed)
	assert.ErrorIs(t, wrapped, ErrTimeout)

	assert.Equal(t, "unknown", (&BuildError{Stage: "other"}).Kind())

	rejected := &BuildError{Stage: status.StageValidate, Target: linux, Err: &toolchain.UnknownTargetError{Target: linux}}
	assert.ErrorIs(t, rejected, ErrInvalidTarget)
	assert.Equal(t, KindInvalidTarget, rejected.Kind())

	flaky := &BuildError{Stage: status.StageValidate, Target: linux, Err: errors.New("rustup: network unreachable")}
	assert.ErrorIs(t, flaky, ErrValidateFailed)
	assert.NotErrorIs(t, flaky, ErrInvalidTarget)
	assert.Equal(t, KindValidate, flaky.Kind())
}
