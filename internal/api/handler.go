// Package api serves the daemon's HTTP API and its MCP tools over the
// record store and the orchestrator.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/painel/internal/analyzers"
	"github.com/kalambet/painel/internal/metrics"
	"github.com/kalambet/painel/internal/orchestrator"
	"github.com/kalambet/painel/internal/records"
)

const (
	maxRequestBodySize    = 1 << 20 // 1MB
	defaultMaxUploadBytes = 100 << 20
)

// RecordStore is the record store as seen by the API.
type RecordStore interface {
	List(ctx context.Context) ([]records.AnalysisRecord, error)
	Get(ctx context.Context, id int64) (records.AnalysisRecord, error)
	FindByHash(ctx context.Context, sha256 string) ([]records.AnalysisRecord, error)
	Notes(ctx context.Context) (string, error)
	SaveNotes(ctx context.Context, text string) (string, error)
	Credentials(ctx context.Context) (records.Credentials, error)
	SaveCredentials(ctx context.Context, c records.Credentials) error
	Export(ctx context.Context, opts records.ExportOptions) (records.Export, error)
	ClearAll(ctx context.Context) error
}

// Submitter runs a sample submission.
type Submitter interface {
	Submit(ctx context.Context, s *orchestrator.Sample, creds records.Credentials) (records.AnalysisRecord, error)
}

// HashLookup asks VirusTotal what it knows about a hash.
type HashLookup interface {
	HashReport(ctx context.Context, key, sha256 string) (analyzers.FileReport, error)
}

// Deps holds the API's dependencies. Lookup and Metrics are optional.
type Deps struct {
	Records        RecordStore
	Submitter      Submitter
	Lookup         HashLookup
	Metrics        *metrics.Metrics
	Token          string
	MaxUploadBytes int64
}

type handler struct {
	Deps
	logger *slog.Logger
}

// NewHandler returns the daemon's HTTP handler. /health and /metrics are
// public, everything else requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	h := &handler{Deps: deps, logger: slog.Default()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/analyses", h.handleSubmit)
		r.Get("/analyses", h.handleListAnalyses)
		r.Get("/analyses/{id}", h.handleGetAnalysis)
		r.Get("/analyses/hash/{sha256}", h.handleLookupHash)
		r.Get("/dashboard", h.handleDashboard)

		r.Get("/notes", h.handleGetNotes)
		r.Put("/notes", h.handleSaveNotes)
		r.Get("/credentials", h.handleGetCredentials)
		r.Put("/credentials", h.handleSaveCredentials)
		r.Get("/export", h.handleExport)
		r.Post("/reset", h.handleReset)
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func parseBoolParam(r *http.Request, key string, defaultVal bool) bool {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return v
}
