// internal/daemon/server/handler.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/altuslabsxyz/binserve/internal/daemon/builder"
	"github.com/altuslabsxyz/binserve/internal/daemon/status"
	"github.com/altuslabsxyz/binserve/internal/daemon/store"
	"github.com/altuslabsxyz/binserve/internal/version"
)

// DefaultBuildsLimit is the number of history records returned when the
// request does not ask for a limit.
const DefaultBuildsLimit = 20

const usage = `binserved: compiles the configured repository on demand.

  GET /binary/{target}              download the binary built for {target}
  GET /status/{target}              progress of the last build of {target}
  GET /status/{target}?format=text  same, as "message;progress"
  GET /builds?target=&limit=        recent build attempts
  GET /healthz                      liveness and cache contents

Example: curl -OJ http://localhost:3000/binary/x86_64-unknown-linux-gnu
`

// Service is the part of builder.Service the handler uses.
type Service interface {
	LookupOrBuild(ctx context.Context, target string) (builder.Artifact, error)
	Status(target string) status.Snapshot
	History(ctx context.Context, target string, limit int) ([]*store.BuildRecord, error)
	Building() []string
	Cached() []string
}

// BuildsResponse is the body of GET /builds.
type BuildsResponse struct {
	Builds []*store.BuildRecord `json:"builds"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string   `json:"status"`
	Building []string `json:"building"`
	Cached   []string `json:"cached"`
}

type handler struct {
	service Service
	logger  *slog.Logger
}

func newHandler(svc Service, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{service: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", h.handleUsage)
	r.Get("/binary/{target}", h.handleBinary)
	r.Get("/status/{target}", h.handleStatus)
	r.Get("/builds", h.handleBuilds)
	r.Get("/healthz", h.handleHealth)
	return logRequests(r, logger)
}

func (h *handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, usage)
}

func (h *handler) handleBinary(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")

	// The artifact can be evicted between lookup and open; one more lookup
	// rebuilds it.
	for attempt := 0; attempt < 2; attempt++ {
		art, err := h.service.LookupOrBuild(r.Context(), target)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		f, err := os.Open(art.Path)
		if errors.Is(err, fs.ErrNotExist) {
			h.logger.Warn("artifact vanished before it was served", "target", target, "path", art.Path)
			continue
		}
		if err != nil {
			h.writeError(w, r, fmt.Errorf("failed to open artifact: %w", err))
			return
		}
		h.serveArtifact(w, r, f, art)
		return
	}
	h.writeError(w, r, fmt.Errorf("%w: %s was evicted while being served", builder.ErrArtifactNotFound, target))
}

func (h *handler) serveArtifact(w http.ResponseWriter, r *http.Request, f *os.File, art builder.Artifact) {
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.writeError(w, r, fmt.Errorf("failed to stat artifact: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Name}))
	if art.BuildID != "" {
		w.Header().Set("X-Build-Id", art.BuildID)
	}
	http.ServeContent(w, r, art.Name, info.ModTime(), f)
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	if err := builder.CheckTarget(target); err != nil {
		h.writeError(w, r, err)
		return
	}

	snap := h.service.Status(target)
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, snap.Text())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) handleBuilds(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	target := query.Get("target")
	if target != "" {
		if err := builder.CheckTarget(target); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	limit := DefaultBuildsLimit
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: fmt.Sprintf("invalid limit %q", v),
				Kind:  KindBadRequest,
			})
			return
		}
		limit = n
	}

	builds, err := h.service.History(r.Context(), target, limit)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("failed to list builds: %w", err))
		return
	}
	if builds == nil {
		builds = []*store.BuildRecord{}
	}
	writeJSON(w, http.StatusOK, BuildsResponse{Builds: builds})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Building: nonNil(h.service.Building()),
		Cached:   nonNil(h.service.Cached()),
	})
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, resp := toErrorResponse(err)
	if code == StatusClientClosedRequest {
		// Nobody is listening; record the outcome only.
		w.WriteHeader(code)
		return
	}
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "status", code, "error", err)
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w.Header().Set("Server", version.UserAgent("binserved"))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"agent", r.UserAgent(),
			"duration", time.Since(start))
	})
}
