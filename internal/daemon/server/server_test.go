// internal/daemon/server/server_test.go
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altuslabsxyz/binserve/internal/daemon/config"
	"github.com/altuslabsxyz/binserve/internal/daemon/status"
	"github.com/altuslabsxyz/binserve/internal/daemon/toolchain"
)

const linuxTarget = "x86_64-unknown-linux-gnu"

type allowAll struct{}

func (allowAll) ValidateTarget(ctx context.Context, target string) error { return nil }

type mkdirFetcher struct{}

func (mkdirFetcher) FetchSource(ctx context.Context, target, dest string) error {
	return os.MkdirAll(dest, 0755)
}

// fakeCompiler leaves <root>/target/<T>/release/demo behind, or fails with err.
type fakeCompiler struct {
	calls atomic.Int32
	err   error
}

func (f *fakeCompiler) RunToolchain(ctx context.Context, target, sourceDir string, onLine func(stream, line string)) (string, error) {
	f.calls.Add(1)
	onLine("stderr", "   Compiling demo v0.1.0 (/src)")
	if f.err != nil {
		return "", f.err
	}
	dir := filepath.Join(sourceDir, "target", target, "release")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return "demo", os.WriteFile(filepath.Join(dir, "demo"), []byte("demo-binary"), 0755)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Build.Repo = "https://github.com/example/demo.git"
	cfg.Timeouts.Shutdown = 5 * time.Second
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, compiler *fakeCompiler) *Server {
	t.Helper()
	s, err := newServer(cfg, Toolchain{
		Validator: allowAll{},
		Fetcher:   mkdirFetcher{},
		Compiler:  compiler,
		Resolver:  toolchain.Layout{},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestServerBuildsOnceAndServes(t *testing.T) {
	compiler := &fakeCompiler{}
	s := newTestServer(t, testConfig(t), compiler)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	for i := 0; i < 2; i++ {
		resp, body := get(t, ts.URL+"/binary/"+linuxTarget)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "demo-binary", string(body))
		assert.Equal(t, "attachment; filename=demo", resp.Header.Get("Content-Disposition"))
	}
	assert.Equal(t, int32(1), compiler.calls.Load())

	resp, body := get(t, ts.URL+"/status/"+linuxTarget)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap status.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, status.StateSucceeded, snap.State)
	assert.Equal(t, 100, snap.Progress)

	resp, body = get(t, ts.URL+"/builds")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var builds BuildsResponse
	require.NoError(t, json.Unmarshal(body, &builds))
	require.Len(t, builds.Builds, 1)
	assert.Equal(t, linuxTarget, builds.Builds[0].Target)
	assert.NotEmpty(t, builds.Builds[0].Path)

	resp, body = get(t, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), linuxTarget)
}

func TestServerToolchainFailure(t *testing.T) {
	compiler := &fakeCompiler{err: &toolchain.ExitError{Program: "cross", Code: 101}}
	s := newTestServer(t, testConfig(t), compiler)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/binary/"+linuxTarget)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, KindToolchain, errResp.Kind)
	assert.Equal(t, 101, errResp.ExitCode)
	assert.Equal(t, status.StageCompile, errResp.Stage)

	// Failures are not cached.
	resp, _ = get(t, ts.URL+"/binary/"+linuxTarget)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(2), compiler.calls.Load())

	resp, body = get(t, ts.URL+"/status/"+linuxTarget+"?format=text")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "build failed;100", string(body))
}

func TestServerRestoresWorkDir(t *testing.T) {
	cfg := testConfig(t)
	workDir := cfg.EffectiveWorkDir()
	stale := filepath.Join(workDir, linuxTarget, "old-build", "Cargo.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("[package]"), 0644))

	newTestServer(t, cfg, &fakeCompiler{})

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale build root should be removed")
	info, err := os.Stat(workDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRestoreWorkDirRefusesDataDir(t *testing.T) {
	dataDir := t.TempDir()
	keep := filepath.Join(dataDir, DBFileName)
	require.NoError(t, os.WriteFile(keep, nil, 0644))

	require.Error(t, restoreWorkDir(dataDir, dataDir))
	require.Error(t, restoreWorkDir(string(filepath.Separator), dataDir))

	_, err := os.Stat(keep)
	assert.NoError(t, err)
}

func TestServerRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg, &fakeCompiler{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	pidPath := filepath.Join(cfg.Server.DataDir, PIDFileName)
	require.Eventually(t, func() bool {
		_, err := os.Stat(pidPath)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, err := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err), "pid file should be removed")

	// Shutdown after Run is a no-op.
	assert.NoError(t, s.Shutdown())
}

func TestServerRunListenError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Listen = "256.0.0.1:1"
	s := newTestServer(t, cfg, &fakeCompiler{})

	require.Error(t, s.Run(context.Background()))
}

func TestNewToolchain(t *testing.T) {
	cfg := testConfig(t)
	cfg.Build.BinaryName = "demo-cli"
	cfg.Build.DebugOutput = true
	cfg.Build.CloneDepth = 1
	cfg.Validate.Retries = 5

	tc := NewToolchain(cfg, nil)

	rustup, ok := tc.Validator.(*toolchain.Rustup)
	require.True(t, ok)
	assert.Equal(t, uint(5), rustup.Attempts)
	assert.Equal(t, cfg.Validate.RetryDelay, rustup.Delay)

	git, ok := tc.Fetcher.(*toolchain.Git)
	require.True(t, ok)
	assert.Equal(t, cfg.Build.Repo, git.Repo)
	assert.Equal(t, 1, git.Depth)

	cross, ok := tc.Compiler.(*toolchain.Cross)
	require.True(t, ok)
	assert.Equal(t, "demo-cli", cross.BinaryName)
	assert.True(t, cross.Debug)

	assert.IsType(t, toolchain.Layout{}, tc.Resolver)
}
