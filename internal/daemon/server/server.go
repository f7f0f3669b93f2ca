// internal/daemon/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/altuslabsxyz/binserve/internal/daemon/builder"
	"github.com/altuslabsxyz/binserve/internal/daemon/cache"
	"github.com/altuslabsxyz/binserve/internal/daemon/config"
	"github.com/altuslabsxyz/binserve/internal/daemon/inflight"
	"github.com/altuslabsxyz/binserve/internal/daemon/status"
	"github.com/altuslabsxyz/binserve/internal/daemon/store"
	"github.com/altuslabsxyz/binserve/internal/daemon/toolchain"
)

// File names under the data directory.
const (
	LogFileName = "binserved.log"
	DBFileName  = "binserved.db"
	PIDFileName = "binserved.pid"
)

// Toolchain groups the external collaborators a build needs.
type Toolchain struct {
	Validator builder.TargetValidator
	Fetcher   builder.SourceFetcher
	Compiler  builder.Toolchain
	Resolver  builder.ArtifactResolver
}

// NewToolchain returns the rustup/git/cross collaborators described by cfg.
func NewToolchain(cfg *config.Config, logger *slog.Logger) Toolchain {
	return Toolchain{
		Validator: &toolchain.Rustup{
			Attempts: uint(cfg.Validate.Retries),
			Delay:    cfg.Validate.RetryDelay,
			Logger:   logger,
		},
		Fetcher: &toolchain.Git{
			Repo:  cfg.Build.Repo,
			Depth: cfg.Build.CloneDepth,
		},
		Compiler: &toolchain.Cross{
			BinaryName: cfg.Build.BinaryName,
			Debug:      cfg.Build.DebugOutput,
			Logger:     logger,
		},
		Resolver: toolchain.Layout{},
	}
}

// Server is the binserved daemon server.
type Server struct {
	config     *config.Config
	store      store.Store
	cache      *cache.Cache[builder.Artifact]
	janitor    *builder.Janitor
	service    *builder.Service
	httpServer *http.Server
	logger     *slog.Logger
	logFile    io.Closer // rotated log file, nil when logging to a caller-supplied logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a server that builds with the real toolchain.
func New(cfg *config.Config) (*Server, error) {
	// Ensure data directory exists first (needed for log file)
	if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	level := slog.LevelInfo
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Server.DataDir, LogFileName),
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}

	// Write logs to both stdout and file
	multiWriter := io.MultiWriter(os.Stdout, logFile)
	logger := slog.New(slog.NewTextHandler(multiWriter, &slog.HandlerOptions{Level: level}))

	s, err := newServer(cfg, NewToolchain(cfg, logger), logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	s.logFile = logFile
	return s, nil
}

// newServer wires the daemon around tc.
func newServer(cfg *config.Config, tc Toolchain, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	workDir := cfg.EffectiveWorkDir()
	if err := restoreWorkDir(workDir, cfg.Server.DataDir); err != nil {
		return nil, err
	}

	// Open history store
	dbPath := filepath.Join(cfg.Server.DataDir, DBFileName)
	st, err := store.NewBoltStore(dbPath, cfg.History.KeepPerTarget)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	metrics, err := builder.NewMetrics(nil)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	tracker, err := status.NewTracker(cfg.Status.Capacity, cfg.Status.TailLines)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create status tracker: %w", err)
	}

	janitor := builder.NewJanitor(logger, metrics)
	artifacts := cache.New(cache.Config[builder.Artifact]{
		TTL:      cfg.Cache.TTL,
		Interval: cfg.Cache.ReapInterval,
		OnEvict:  janitor.Evict,
	})

	svc, err := builder.NewService(builder.ServiceConfig{
		WorkDir:      workDir,
		BuildTimeout: cfg.Timeouts.Build,
		WaitTimeout:  cfg.Timeouts.Wait,
		Validator:    tc.Validator,
		Fetcher:      tc.Fetcher,
		Toolchain:    tc.Compiler,
		Resolver:     tc.Resolver,
		Cache:        artifacts,
		InFlight:     inflight.New[builder.Artifact](),
		Status:       tracker,
		History:      st,
		Metrics:      metrics,
		Logger:       logger,
	})
	if err != nil {
		artifacts.Close()
		st.Close()
		return nil, fmt.Errorf("failed to create build service: %w", err)
	}

	s := &Server{
		config:  cfg,
		store:   st,
		cache:   artifacts,
		janitor: janitor,
		service: svc,
		logger:  logger,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           newHandler(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// restoreWorkDir empties the work directory left by a previous run.
func restoreWorkDir(workDir, dataDir string) error {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("failed to resolve work directory: %w", err)
	}
	if dataAbs, err := filepath.Abs(dataDir); err == nil && abs == dataAbs {
		return fmt.Errorf("work directory %s must not be the data directory", workDir)
	}
	if abs == filepath.Dir(abs) {
		return fmt.Errorf("refusing to use %s as work directory", workDir)
	}

	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("failed to clean work directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	return nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the server and blocks until ctx is done, a termination signal
// arrives, or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Server.Listen)
	if err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to listen: %w", err)
	}

	// Write PID file
	pidPath := filepath.Join(s.config.Server.DataDir, PIDFileName)
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
		listener.Close()
		s.Shutdown()
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer os.Remove(pidPath)

	s.logger.Info("binserved started",
		"listen", listener.Addr().String(),
		"repo", s.config.Build.Repo,
		"workDir", s.config.EffectiveWorkDir(),
		"ttl", s.config.Cache.TTL,
		"pid", os.Getpid())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-gctx.Done():
			s.logger.Info("context cancelled, shutting down")
		case sig := <-sigCh:
			s.logger.Info("received signal, shutting down", "signal", sig)
		}
		return s.Shutdown()
	})

	return g.Wait()
}

// Shutdown stops accepting requests, lets running ones finish within the
// shutdown timeout, then cancels builds and releases resources. It is safe
// to call more than once.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown()
	})
	return s.shutdownErr
}

func (s *Server) shutdown() error {
	s.logger.Info("shutting down")

	ctx := context.Background()
	if timeout := s.config.Timeouts.Shutdown; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var errs []error

	// Running builds are cancelled only after in-flight requests had their
	// chance to finish.
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown timed out, cancelling builds", "error", err)
		s.service.Close()
		if err := s.httpServer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.service.Close()
	s.cache.Close()
	s.janitor.Wait()

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close history store: %w", err))
	}

	s.logger.Info("binserved stopped")

	if s.logFile != nil {
		s.logFile.Close()
	}
	return errors.Join(errs...)
}
