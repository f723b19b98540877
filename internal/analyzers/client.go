// Package analyzers talks to the Hybrid Analysis sandbox and to VirusTotal
// through the relay, and fabricates synthetic reports when either is
// unavailable.
package analyzers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxResponse    = 16 << 20
)

// Analyzer names, used in logs, metrics and errors.
const (
	NameHybrid     = "hybrid"
	NameVirusTotal = "virustotal"
)

// Relay function paths.
const (
	FunctionHybrid     = "hybrid-analysis"
	FunctionVirusTotal = "virustotal"
)

// KeyHeader carries the caller's provider key to the relay.
const KeyHeader = "X-Api-Key"

// ErrReportNotReady is returned by Report while the provider is still
// analyzing the sample.
var ErrReportNotReady = errors.New("report not ready")

// UpstreamError is any failure talking to an analyzer: transport errors,
// non-2xx relay responses and unusable payloads.
type UpstreamError struct {
	Analyzer string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: upstream error (HTTP %d): %s", e.Analyzer, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: upstream error: %s", e.Analyzer, e.Message)
}

// IsUpstream reports whether err is or wraps an *UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// File is a sample to submit.
type File struct {
	Name string
	Type string
	Data []byte
}

// Handle identifies a submission on the provider side.
type Handle struct {
	ID     string `json:"id"`
	SHA256 string `json:"sha256,omitempty"`
}

// Client posts relay requests. It is shared by both analyzers.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a relay client for the relay at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
}

type relayFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

type relayRequest struct {
	Action     string     `json:"action"`
	File       *relayFile `json:"file,omitempty"`
	JobID      string     `json:"jobId,omitempty"`
	ResourceID string     `json:"resourceId,omitempty"`
	Hash       string     `json:"hash,omitempty"`
}

func encodeFile(f File) *relayFile {
	typ := f.Type
	if typ == "" {
		typ = "application/octet-stream"
	}
	return &relayFile{Name: f.Name, Type: typ, Data: base64.StdEncoding.EncodeToString(f.Data)}
}

// call sends one relay request and returns the provider's JSON. Rate-limited
// responses are retried with exponential backoff only when retry is set;
// submissions must not be retried since the provider may already have
// accepted them.
func (c *Client) call(ctx context.Context, analyzer, function, key string, req relayRequest, retry bool) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling relay request: %w", err)
	}

	attempts := 1
	if retry {
		attempts = maxRetries
	}

	var lastErr error
	for attempt := range attempts {
		data, err := c.do(ctx, analyzer, function, key, body)
		if err == nil {
			return data, nil
		}
		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < attempts-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			c.logger.Debug("relay rate limited, backing off", "analyzer", analyzer, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, lastErr
}

func isRateLimit(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Status == http.StatusTooManyRequests
}

func (c *Client) do(ctx context.Context, analyzer, function, key string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/functions/"+function, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key != "" {
		httpReq.Header.Set(KeyHeader, key)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &UpstreamError{Analyzer: analyzer, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, &UpstreamError{Analyzer: analyzer, Status: resp.StatusCode, Message: "reading response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Analyzer: analyzer, Status: resp.StatusCode, Message: relayErrorMessage(data)}
	}
	return data, nil
}

// relayErrorMessage extracts {"error": "..."} from a relay error body.
func relayErrorMessage(data []byte) string {
	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Error != "" {
		return env.Error
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "empty response"
	}
	return msg
}
