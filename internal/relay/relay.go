// Package relay is the server side of the proxy boundary. It holds the
// provider credentials, accepts the JSON action protocol on
// /functions/{hybrid-analysis,virustotal} and forwards each action to the
// provider's REST API, returning the provider JSON unchanged.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/kalambet/painel/internal/metrics"
)

const (
	DefaultHybridBaseURL     = "https://www.hybrid-analysis.com/api/v2"
	DefaultVirusTotalBaseURL = "https://www.virustotal.com/api/v3"

	// Windows 10 64-bit.
	DefaultEnvironmentID = 120

	defaultMaxBodyBytes = 64 << 20
	providerTimeout     = 120 * time.Second
)

// KeyHeader lets a caller supply its own provider key when the relay has
// none configured for that provider.
const KeyHeader = "X-Api-Key"

// Config configures the relay.
type Config struct {
	HybridKey         string
	VirusTotalKey     string
	HybridBaseURL     string
	VirusTotalBaseURL string
	EnvironmentID     int
	MaxBodyBytes      int64
}

// Server forwards relay actions to the providers.
type Server struct {
	cfg        Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a relay server. Zero Config fields take their defaults.
func New(cfg Config, m *metrics.Metrics) *Server {
	if cfg.HybridBaseURL == "" {
		cfg.HybridBaseURL = DefaultHybridBaseURL
	}
	if cfg.VirusTotalBaseURL == "" {
		cfg.VirusTotalBaseURL = DefaultVirusTotalBaseURL
	}
	cfg.HybridBaseURL = strings.TrimRight(cfg.HybridBaseURL, "/")
	cfg.VirusTotalBaseURL = strings.TrimRight(cfg.VirusTotalBaseURL, "/")
	if cfg.EnvironmentID == 0 {
		cfg.EnvironmentID = DefaultEnvironmentID
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Server{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: providerTimeout},
		metrics:    m,
		logger:     slog.Default(),
	}
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "X-Client-Info", "Apikey", "Content-Type", KeyHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/functions/hybrid-analysis", s.handle(hybridFunction, s.hybrid))
	r.Post("/functions/virustotal", s.handle(virusTotalFunction, s.virusTotal))
	return r
}

// Request is the relay's JSON action protocol.
type Request struct {
	Action     string `json:"action"`
	File       *File  `json:"file,omitempty"`
	JobID      string `json:"jobId,omitempty"`
	ResourceID string `json:"resourceId,omitempty"`
	Hash       string `json:"hash,omitempty"`
}

// File is a base64-encoded upload.
type File struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

// relayError is reported to the caller as {"error": msg}.
type relayError struct {
	status int
	msg    string
}

func (e *relayError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &relayError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

type actionFunc func(r *http.Request, req Request, key string) ([]byte, error)

const (
	hybridFunction     = "hybrid-analysis"
	virusTotalFunction = "virustotal"
)

func (s *Server) handle(function string, fn actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		defer r.Body.Close()

		var req Request
		action := "invalid"
		body, err := func() ([]byte, error) {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				return nil, badRequest("invalid request body: %v", err)
			}
			action = req.Action
			key := s.keyFor(function, r)
			if key == "" {
				return nil, badRequest("%s API key not configured", providerName(function))
			}
			return fn(r, req, key)
		}()

		status := http.StatusOK
		if err != nil {
			status = http.StatusBadRequest
			var re *relayError
			if errors.As(err, &re) {
				status = re.status
			}
			s.logger.Warn("relay request failed", "function", function, "action", action, "status", status, "error", err)
			writeJSON(w, status, map[string]string{"error": err.Error()})
		} else {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			w.Write(body)
		}
		s.metrics.ObserveRelay(function, action, strconv.Itoa(status), time.Since(start).Seconds())
	}
}

// keyFor prefers the relay's own secret and falls back to the caller's.
func (s *Server) keyFor(function string, r *http.Request) string {
	var key string
	switch function {
	case hybridFunction:
		key = s.cfg.HybridKey
	case virusTotalFunction:
		key = s.cfg.VirusTotalKey
	}
	if key == "" {
		key = strings.TrimSpace(r.Header.Get(KeyHeader))
	}
	return key
}

func providerName(function string) string {
	if function == hybridFunction {
		return "Hybrid Analysis"
	}
	return "VirusTotal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
