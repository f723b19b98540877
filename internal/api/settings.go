package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kalambet/painel/internal/records"
)

type notesBody struct {
	Notes string `json:"notes"`
}

func (h *handler) handleGetNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.Records.Notes(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to read notes: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, notesBody{Notes: notes})
}

func (h *handler) handleSaveNotes(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req notesBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	saved, err := h.Records.SaveNotes(r.Context(), req.Notes)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to save notes: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, notesBody{Notes: saved})
}

// CredentialStatus says which analyzer keys are configured. Keys are never
// returned by the API.
type CredentialStatus struct {
	HybridAnalysis bool `json:"hybridAnalysis"`
	VirusTotal     bool `json:"virusTotal"`
}

func statusOf(c records.Credentials) CredentialStatus {
	return CredentialStatus{HybridAnalysis: c.HybridKey != "", VirusTotal: c.VirusTotalKey != ""}
}

// credentialsUpdate changes only the keys present in the body. An empty
// string removes a key.
type credentialsUpdate struct {
	HybridAnalysis *string `json:"hybridAnalysis"`
	VirusTotal     *string `json:"virusTotal"`
}

func (h *handler) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	c, err := h.Records.Credentials(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to read credentials: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, statusOf(c))
}

func (h *handler) handleSaveCredentials(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req credentialsUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}

	c, err := h.Records.Credentials(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to read credentials: %v", err)
		return
	}
	if req.HybridAnalysis != nil {
		c.HybridKey = strings.TrimSpace(*req.HybridAnalysis)
	}
	if req.VirusTotal != nil {
		c.VirusTotalKey = strings.TrimSpace(*req.VirusTotal)
	}
	if err := h.Records.SaveCredentials(r.Context(), c); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to save credentials: %v", err)
		return
	}
	h.logger.Info("credentials updated", "hybrid", c.HybridKey != "", "virustotal", c.VirusTotalKey != "")
	writeJSON(w, http.StatusOK, statusOf(c))
}

func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	def := records.DefaultExportOptions()
	opts := records.ExportOptions{
		IncludeKeys:    parseBoolParam(r, "keys", def.IncludeKeys),
		IncludeResults: parseBoolParam(r, "results", def.IncludeResults),
		IncludeNotes:   parseBoolParam(r, "notes", def.IncludeNotes),
	}

	doc, err := h.Records.Export(r.Context(), opts)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to export: %v", err)
		return
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="painel-backup-%s.json"`, doc.Timestamp.Format("2006-01-02")))
	writeJSON(w, http.StatusOK, doc)
}

func (h *handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if !parseBoolParam(r, "confirm", false) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "reset requires confirm=true")
		return
	}
	if err := h.Records.ClearAll(r.Context()); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to reset: %v", err)
		return
	}
	h.logger.Warn("all local data cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
