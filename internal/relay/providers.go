package relay

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

const maxProviderResponse = 16 << 20

func (s *Server) hybrid(r *http.Request, req Request, key string) ([]byte, error) {
	headers := map[string]string{
		"api-key":    key,
		"User-Agent": "Falcon Sandbox",
	}
	switch req.Action {
	case "submit":
		fields := map[string]string{"environment_id": strconv.Itoa(s.cfg.EnvironmentID)}
		body, contentType, err := multipartFile(req.File, fields)
		if err != nil {
			return nil, err
		}
		headers["Content-Type"] = contentType
		return s.forward(r, http.MethodPost, s.cfg.HybridBaseURL+"/submit/file", body, headers, "Hybrid Analysis error", true)
	case "report":
		if req.JobID == "" {
			return nil, badRequest("jobId is required")
		}
		u := s.cfg.HybridBaseURL + "/report/" + url.PathEscape(req.JobID) + "/summary"
		return s.forward(r, http.MethodGet, u, nil, headers, "Failed to get Hybrid Analysis report", false)
	default:
		return nil, badRequest("Invalid action")
	}
}

func (s *Server) virusTotal(r *http.Request, req Request, key string) ([]byte, error) {
	headers := map[string]string{"X-Apikey": key}
	switch req.Action {
	case "submit":
		body, contentType, err := multipartFile(req.File, nil)
		if err != nil {
			return nil, err
		}
		headers["Content-Type"] = contentType
		return s.forward(r, http.MethodPost, s.cfg.VirusTotalBaseURL+"/files", body, headers, "VirusTotal error", true)
	case "report":
		if req.ResourceID == "" {
			return nil, badRequest("resourceId is required")
		}
		u := s.cfg.VirusTotalBaseURL + "/analyses/" + url.PathEscape(req.ResourceID)
		return s.forward(r, http.MethodGet, u, nil, headers, "Failed to get VirusTotal report", false)
	case "hash-report":
		if req.Hash == "" {
			return nil, badRequest("hash is required")
		}
		u := s.cfg.VirusTotalBaseURL + "/files/" + url.PathEscape(strings.ToLower(req.Hash))
		return s.forward(r, http.MethodGet, u, nil, headers, "Hash not found in VirusTotal", false)
	default:
		return nil, badRequest("Invalid action")
	}
}

// multipartFile builds the upload form the providers expect: the decoded
// file under "file" plus any extra fields.
func multipartFile(f *File, fields map[string]string) ([]byte, string, error) {
	if f == nil || f.Name == "" {
		return nil, "", badRequest("file is required")
	}
	data, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, "", badRequest("file data is not valid base64: %v", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
	ct := f.Type
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("creating file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("writing file part: %w", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// forward performs one provider call. On failure the error message is
// prefix, followed by the provider's body when includeBody is set. A
// provider 429 is passed through so callers can back off.
func (s *Server) forward(r *http.Request, method, u string, body []byte, headers map[string]string, prefix string, includeBody bool) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(r.Context(), method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("creating provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, badRequest("%s: %v", prefix, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponse))
	if err != nil {
		return nil, badRequest("%s: reading response: %v", prefix, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := prefix
		if includeBody {
			msg = fmt.Sprintf("%s: %s", prefix, strings.TrimSpace(string(data)))
		}
		status := http.StatusBadRequest
		if resp.StatusCode == http.StatusTooManyRequests {
			status = http.StatusTooManyRequests
		}
		return nil, &relayError{status: status, msg: msg}
	}
	return data, nil
}
