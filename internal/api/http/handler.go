package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deportes-escolares/inscripciones/internal/cache"
	"github.com/deportes-escolares/inscripciones/internal/catalog"
	"github.com/deportes-escolares/inscripciones/internal/dashboard"
	dberrors "github.com/deportes-escolares/inscripciones/internal/errors"
	"github.com/deportes-escolares/inscripciones/internal/logging"
	"github.com/deportes-escolares/inscripciones/internal/observability"
)

// Snapshots provides the current dashboard snapshot.
type Snapshots interface {
	GetOrBuild(ctx context.Context) (*cache.Snapshot, error)
	Rebuild(ctx context.Context) (*cache.Snapshot, error)
	Current() *cache.Snapshot
}

// BuildHistory lists recent snapshot builds.
type BuildHistory interface {
	RecentBuilds(ctx context.Context, limit int) ([]*catalog.BuildRecord, error)
}

// Options configures the HTTP handler. Builds, Filters, Metrics and Gatherer
// are optional.
type Options struct {
	Snapshots  Snapshots
	Builds     BuildHistory
	Filters    *observability.FilterStats
	Metrics    *observability.Metrics
	Gatherer   prometheus.Gatherer
	SportTypes []string
	Palette    dashboard.Palette
	Logger     *logging.Logger
}

// Handler serves the dashboard API.
type Handler struct {
	opts   Options
	logger *logging.Logger
}

// NewHandler creates a handler.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{opts: opts, logger: logger.With("component", "http")}
}

// Routes returns the router wrapped in the default middleware chain. Extra
// middleware runs innermost.
func (h *Handler) Routes(extra ...func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	h.handle(mux, "GET /v1/summary", h.handleSummary)
	h.handle(mux, "GET /v1/dashboard", h.handleDashboard)
	h.handle(mux, "GET /v1/municipios", h.handleMunicipalities)
	h.handle(mux, "GET /v1/builds", h.handleBuilds)
	h.handle(mux, "POST /v1/refresh", h.handleRefresh)
	h.handle(mux, "GET /v1/stats/filters", h.handleFilterStats)
	h.handle(mux, "GET /health", h.handleHealth)
	if h.opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	chain := append([]func(http.Handler) http.Handler{
		RecoveryMiddleware(h.logger),
		RequestIDMiddleware,
		LoggingMiddleware(h.logger),
	}, extra...)
	return ChainMiddleware(chain...)(mux)
}

func (h *Handler) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	route := pattern[strings.IndexByte(pattern, ' ')+1:]
	mux.Handle(pattern, instrument(h.opts.Metrics, route, fn))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	etag := `"` + snap.Fingerprint + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", snap.LastUpdate.UTC().Format(http.TimeFormat))
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, snap.Summary())
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := dashboard.Filter{
		Departments:    nonEmpty(q["departamento"]),
		Municipalities: nonEmpty(q["municipio"]),
	}

	all := h.opts.SportTypes
	selected := all
	if values, present := q["tipo"]; present {
		selected = nonEmpty(values)
	}
	if toggle := strings.TrimSpace(q.Get("toggle")); toggle != "" {
		selected = dashboard.ToggleSportType(selected, toggle, all)
	}
	if len(selected) == 0 {
		selected = dashboard.ToggleSportType(nil, "", all)
	}

	if h.opts.Filters != nil {
		h.opts.Filters.RecordSelection(observability.DimensionDepartment, filter.Departments)
		h.opts.Filters.RecordSelection(observability.DimensionMunicipality, filter.Municipalities)
		h.opts.Filters.RecordSelection(observability.DimensionSportType, selected)
	}

	writeJSON(w, http.StatusOK, dashboard.Build(snap.Table, filter, selected, all, h.opts.Palette))
}

// MunicipalitiesResponse lists the municipality options of a selection.
type MunicipalitiesResponse struct {
	Departments    []string `json:"departamentos"`
	Municipalities []string `json:"municipios"`
}

func (h *Handler) handleMunicipalities(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	deps := nonEmpty(r.URL.Query()["departamento"])
	writeJSON(w, http.StatusOK, MunicipalitiesResponse{
		Departments:    deps,
		Municipalities: dashboard.MunicipalityOptions(snap.Table, deps),
	})
}

func (h *Handler) handleBuilds(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if h.opts.Builds == nil {
		writeError(w, http.StatusNotFound, "build catalog is disabled", "", requestID)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", dberrors.CodeInvalidFilter, requestID)
			return
		}
		limit = n
	}

	builds, err := h.opts.Builds.RecentBuilds(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"builds": builds})
}

// RefreshResponse describes the snapshot produced by a forced rebuild.
type RefreshResponse struct {
	Fingerprint string `json:"fingerprint"`
	Rows        int    `json:"rows"`
	LastUpdate  string `json:"last_update"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.opts.Snapshots.Rebuild(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{
		Fingerprint: snap.Fingerprint,
		Rows:        snap.Table.Len(),
		LastUpdate:  snap.LastUpdate.UTC().Format("2006-01-02T15:04:05Z"),
	})
}

func (h *Handler) handleFilterStats(w http.ResponseWriter, r *http.Request) {
	if h.opts.Filters == nil {
		writeJSON(w, http.StatusOK, map[string][]observability.ValueStats{})
		return
	}
	n := 10
	if v, err := strconv.Atoi(r.URL.Query().Get("n")); err == nil && v > 0 {
		n = v
	}
	writeJSON(w, http.StatusOK, h.opts.Filters.Snapshot(n))
}

// HealthResponse reports whether a snapshot is loaded.
type HealthResponse struct {
	Status     string `json:"status"`
	Loaded     bool   `json:"snapshot_loaded"`
	Rows       int    `json:"rows"`
	LastUpdate string `json:"last_update,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if snap := h.opts.Snapshots.Current(); snap != nil {
		resp.Loaded = true
		resp.Rows = snap.Table.Len()
		resp.LastUpdate = snap.LastUpdate.UTC().Format("2006-01-02T15:04:05Z")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) (*cache.Snapshot, bool) {
	snap, err := h.opts.Snapshots.GetOrBuild(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return nil, false
	}
	return snap, true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := GetRequestID(r.Context())
	status := statusFor(err)
	if status >= 500 {
		h.logger.Error("request failed", "path", r.URL.Path, "request_id", requestID, "error", err)
	}
	writeError(w, status, err.Error(), dberrors.GetCode(err), requestID)
}

func statusFor(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	switch dberrors.GetCategory(err) {
	case dberrors.ErrCategoryValidation:
		return http.StatusBadRequest
	case dberrors.ErrCategorySource:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
