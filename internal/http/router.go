// Package httpx exposes the generation pipeline over HTTP.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/manifestor/internal/manifest"
	"github.com/splax/manifestor/internal/refine"
	"github.com/splax/manifestor/internal/repository"
	"github.com/splax/manifestor/internal/service/generate"
	"github.com/splax/manifestor/pkg/jwt"
)

const (
	healthCheckTimeout = 2 * time.Second
	maxBodyBytes       = 8 << 20
)

// Generator is the pipeline the router drives.
type Generator interface {
	Analyze(ctx context.Context, req generate.Request) (generate.Analysis, error)
	Generate(ctx context.Context, req generate.Request) (generate.Result, error)
	Refine(ctx context.Context, id string, edits []refine.EditOperation) (generate.Result, error)
	Get(ctx context.Context, id string) (generate.Result, error)
	Revisions(ctx context.Context, id string) ([]repository.Revision, error)
}

// Options configures a Router.
type Options struct {
	Logger     *slog.Logger
	Limiter    RateLimiter
	JWTSecret  string
	RateLimit  int
	RateWindow time.Duration
	// Health reports the state of backing services; nil means always healthy.
	Health func(context.Context) error
}

// Router wires HTTP endpoints to the generation service.
type Router struct {
	mux                *http.ServeMux
	logger             *slog.Logger
	svc                Generator
	limiter            RateLimiter
	jwtSecret          string
	rateLimit          int
	rateWindow         time.Duration
	health             func(context.Context) error
	metricsOnce        sync.Once
	metricsInitialized bool
	metrics            metrics
}

// New assembles routes with dependencies.
func New(svc Generator, opts Options) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     opts.Logger,
		svc:        svc,
		limiter:    opts.Limiter,
		jwtSecret:  strings.TrimSpace(opts.JWTSecret),
		rateLimit:  opts.RateLimit,
		rateWindow: opts.RateWindow,
		health:     opts.Health,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.routes()
	return r
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) routes() {
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealth))
	r.mux.HandleFunc("/analyze", r.instrument("/analyze", r.requireScope(jwt.ScopeGenerate, r.withRateLimit("/analyze", r.handleAnalyze))))
	r.mux.HandleFunc("/generate", r.instrument("/generate", r.requireScope(jwt.ScopeGenerate, r.withRateLimit("/generate", r.handleGenerate))))
	r.mux.HandleFunc("/generations/", r.instrument("/generations/:id", r.handleGenerations))
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.health != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.health(ctx); err != nil {
			status = "degraded"
			components["storage"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["storage"] = map[string]any{"status": "up"}
		}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	payload, ok := r.decodeRequest(w, req)
	if !ok {
		return
	}
	analysis, err := r.svc.Analyze(req.Context(), payload)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	r.recordWarnings(codes(analysis.Report))
	writeJSON(w, http.StatusOK, analysis)
}

func (r *Router) handleGenerate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	payload, ok := r.decodeRequest(w, req)
	if !ok {
		return
	}
	result, err := r.svc.Generate(req.Context(), payload)
	if err != nil {
		r.recordGeneration("", "failure")
		r.writeServiceError(w, err)
		return
	}
	r.recordGeneration(string(result.Classification.Language), "success")
	r.recordWarnings(codes(result.Report))
	writeJSON(w, http.StatusCreated, result)
}

// handleGenerations serves GET /generations/{id}, GET
// /generations/{id}/revisions and POST /generations/{id}/edits.
func (r *Router) handleGenerations(w http.ResponseWriter, req *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(req.URL.Path, "/generations/"), "/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		r.notFound(w)
		return
	}
	switch sub {
	case "":
		r.requireScope(jwt.ScopeGenerate, r.withRateLimit("/generations/:id", func(w http.ResponseWriter, req *http.Request) {
			if req.Method != http.MethodGet {
				r.methodNotAllowed(w)
				return
			}
			result, err := r.svc.Get(req.Context(), id)
			if err != nil {
				r.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
		}))(w, req)
	case "revisions":
		r.requireScope(jwt.ScopeGenerate, r.withRateLimit("/generations/:id", func(w http.ResponseWriter, req *http.Request) {
			if req.Method != http.MethodGet {
				r.methodNotAllowed(w)
				return
			}
			revs, err := r.svc.Revisions(req.Context(), id)
			if err != nil {
				r.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, revisionViews(revs))
		}))(w, req)
	case "edits":
		r.requireScope(jwt.ScopeRefine, r.withRateLimit("/generations/:id", func(w http.ResponseWriter, req *http.Request) {
			if req.Method != http.MethodPost {
				r.methodNotAllowed(w)
				return
			}
			r.handleEdits(w, req, id)
		}))(w, req)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleEdits(w http.ResponseWriter, req *http.Request, id string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large")
		return
	}
	edits, err := refine.ParseEdits(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(edits) == 0 {
		writeError(w, http.StatusBadRequest, "edits are required")
		return
	}
	result, err := r.svc.Refine(req.Context(), id, edits)
	var verr *refine.ValidationError
	if errors.As(err, &verr) {
		r.recordEdits("rejected")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      verr.Error(),
			"index":      verr.Index,
			"path":       verr.Path,
			"reason":     verr.Reason,
			"generation": result,
		})
		return
	}
	if err != nil {
		r.recordEdits("failure")
		r.writeServiceError(w, err)
		return
	}
	r.recordEdits("accepted")
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) decodeRequest(w http.ResponseWriter, req *http.Request) (generate.Request, bool) {
	var payload generate.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return generate.Request{}, false
	}
	// The server never reads its own filesystem for a caller.
	if payload.Dir != "" {
		writeError(w, http.StatusBadRequest, "dir sources are not accepted over HTTP")
		return generate.Request{}, false
	}
	return payload, true
}

func (r *Router) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, generate.ErrInvalidRequest), errors.Is(err, manifest.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "generation not found")
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		r.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

type revisionView struct {
	Number    int                    `json:"number"`
	Edits     []refine.EditOperation `json:"edits"`
	CreatedAt time.Time              `json:"createdAt"`
}

func revisionViews(revs []repository.Revision) []revisionView {
	out := make([]revisionView, 0, len(revs))
	for _, rev := range revs {
		edits := rev.Edits
		if edits == nil {
			edits = []refine.EditOperation{}
		}
		out = append(out, revisionView{Number: rev.Number, Edits: edits, CreatedAt: rev.CreatedAt})
	}
	return out
}

func codes(report generate.Report) []string {
	out := make([]string, 0, len(report.Warnings))
	for _, w := range report.Warnings {
		out = append(out, w.Code)
	}
	return out
}
