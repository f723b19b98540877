package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/painel/internal/analyzers"
	"github.com/kalambet/painel/internal/orchestrator"
	"github.com/kalambet/painel/internal/records"
)

const recentOnDashboard = 5

var sha256Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// AnalysisView is a record with its derived classification.
type AnalysisView struct {
	records.AnalysisRecord
	records.Classification
}

func viewOf(r records.AnalysisRecord) AnalysisView {
	return AnalysisView{AnalysisRecord: r, Classification: records.Classify(r)}
}

// newestFirst returns views of list in reverse insertion order, keeping only
// records whose verdict matches when verdict is non-empty.
func newestFirst(list []records.AnalysisRecord, verdict string) []AnalysisView {
	out := make([]AnalysisView, 0, len(list))
	for _, r := range slices.Backward(list) {
		v := viewOf(r)
		if verdict != "" && !strings.EqualFold(string(v.Verdict), verdict) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (h *handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+maxRequestBodySize)
	defer r.Body.Close()

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "upload exceeds %d bytes", h.MaxUploadBytes)
			return
		}
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	var sample *orchestrator.Sample
	f, hdr, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// Left nil; the orchestrator reports it as an input error.
	case err != nil:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "reading file field: %v", err)
		return
	default:
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, h.MaxUploadBytes+1))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}
		if int64(len(data)) > h.MaxUploadBytes {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "upload exceeds %d bytes", h.MaxUploadBytes)
			return
		}
		sample = &orchestrator.Sample{
			Name:        hdr.Filename,
			ContentType: hdr.Header.Get("Content-Type"),
			Data:        data,
		}
	}

	creds, err := h.Records.Credentials(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to read credentials: %v", err)
		return
	}

	rec, err := h.Submitter.Submit(r.Context(), sample, creds)
	var inputErr *orchestrator.InputError
	if errors.As(err, &inputErr) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", inputErr)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "submission failed: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(rec))
}

func (h *handler) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50, 500)
	offset := parseIntParam(r, "offset", 0, 0)

	list, err := h.Records.List(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to list analyses: %v", err)
		return
	}

	views := newestFirst(list, r.URL.Query().Get("verdict"))
	if offset > len(views) {
		offset = len(views)
	}
	views = views[offset:]
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid analysis id")
		return
	}

	rec, err := h.Records.Get(r.Context(), id)
	if errors.Is(err, records.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "analysis not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get analysis: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

// HashLookupResult combines local records and VirusTotal's knowledge of a
// hash.
type HashLookupResult struct {
	SHA256          string                `json:"sha256"`
	Records         []AnalysisView        `json:"records"`
	VirusTotal      *analyzers.FileReport `json:"virusTotal,omitempty"`
	VirusTotalError string                `json:"virusTotalError,omitempty"`
}

var errInvalidHash = errors.New("sha256 must be 64 hexadecimal characters")

// lookupHash never fails on the VirusTotal side: a failed or skipped remote
// lookup is reported in VirusTotalError.
func lookupHash(ctx context.Context, deps Deps, sha256 string) (HashLookupResult, error) {
	sha256 = strings.ToLower(strings.TrimSpace(sha256))
	if !sha256Pattern.MatchString(sha256) {
		return HashLookupResult{}, errInvalidHash
	}

	local, err := deps.Records.FindByHash(ctx, sha256)
	if err != nil {
		return HashLookupResult{}, fmt.Errorf("searching records: %w", err)
	}
	res := HashLookupResult{SHA256: sha256, Records: newestFirst(local, "")}

	if deps.Lookup == nil {
		return res, nil
	}
	creds, err := deps.Records.Credentials(ctx)
	if err != nil {
		return HashLookupResult{}, fmt.Errorf("reading credentials: %w", err)
	}
	if creds.VirusTotalKey == "" {
		res.VirusTotalError = "VirusTotal API key not configured"
		return res, nil
	}
	report, err := deps.Lookup.HashReport(ctx, creds.VirusTotalKey, sha256)
	if err != nil {
		res.VirusTotalError = err.Error()
		return res, nil
	}
	res.VirusTotal = &report
	return res, nil
}

func (h *handler) handleLookupHash(w http.ResponseWriter, r *http.Request) {
	res, err := lookupHash(r.Context(), h.Deps, chi.URLParam(r, "sha256"))
	if errors.Is(err, errInvalidHash) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "hash lookup failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Dashboard is the overview shown on the landing page.
type Dashboard struct {
	Summary records.Summary `json:"summary"`
	Recent  []AnalysisView  `json:"recent"`
}

func dashboard(ctx context.Context, rs RecordStore) (Dashboard, error) {
	list, err := rs.List(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	recent := newestFirst(list, "")
	if len(recent) > recentOnDashboard {
		recent = recent[:recentOnDashboard]
	}
	return Dashboard{Summary: records.Summarize(list), Recent: recent}, nil
}

func (h *handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := dashboard(r.Context(), h.Records)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to build dashboard: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
