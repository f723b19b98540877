package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/painel/internal/records"
)

// HybridAnalyzer submits samples to the Hybrid Analysis sandbox.
type HybridAnalyzer struct {
	client *Client
}

// NewHybridAnalyzer creates a sandbox analyzer over the relay client.
func NewHybridAnalyzer(c *Client) *HybridAnalyzer {
	return &HybridAnalyzer{client: c}
}

// Name returns the analyzer name.
func (h *HybridAnalyzer) Name() string { return NameHybrid }

type hybridSubmission struct {
	JobID  string `json:"job_id"`
	SHA256 string `json:"sha256"`
}

// Submit uploads f for detonation. It is never retried.
func (h *HybridAnalyzer) Submit(ctx context.Context, key string, f File) (Handle, error) {
	data, err := h.client.call(ctx, NameHybrid, FunctionHybrid, key, relayRequest{Action: "submit", File: encodeFile(f)}, false)
	if err != nil {
		return Handle{}, err
	}

	var sub hybridSubmission
	if err := json.Unmarshal(data, &sub); err != nil {
		return Handle{}, &UpstreamError{Analyzer: NameHybrid, Message: "decoding submission: " + err.Error()}
	}
	if sub.JobID == "" {
		return Handle{}, &UpstreamError{Analyzer: NameHybrid, Message: "submission response has no job_id"}
	}
	return Handle{ID: sub.JobID, SHA256: strings.ToLower(sub.SHA256)}, nil
}

type hybridSummary struct {
	JobID       string `json:"job_id"`
	SHA256      string `json:"sha256"`
	State       string `json:"state"`
	ThreatScore *int   `json:"threat_score"`
	Verdict     string `json:"verdict"`
	MitreAttcks []struct {
		AttckID string `json:"attck_id"`
	} `json:"mitre_attcks"`
	Tags []string `json:"tags"`
}

// Report fetches the summary for a job. ErrReportNotReady is returned while
// the job is queued or running.
func (h *HybridAnalyzer) Report(ctx context.Context, key string, handle Handle) (*records.HybridReport, error) {
	data, err := h.client.call(ctx, NameHybrid, FunctionHybrid, key, relayRequest{Action: "report", JobID: handle.ID}, true)
	if err != nil {
		return nil, err
	}
	return parseHybridSummary(data, handle)
}

func parseHybridSummary(data []byte, handle Handle) (*records.HybridReport, error) {
	var sum hybridSummary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, &UpstreamError{Analyzer: NameHybrid, Message: "decoding report: " + err.Error()}
	}

	switch strings.ToUpper(sum.State) {
	case "IN_QUEUE", "IN_PROGRESS":
		return nil, ErrReportNotReady
	case "ERROR":
		return nil, &UpstreamError{Analyzer: NameHybrid, Message: fmt.Sprintf("job %s ended in error state", handle.ID)}
	}

	report := &records.HybridReport{
		Source:        records.SourceProvider,
		JobID:         handle.ID,
		SHA256:        strings.ToLower(sum.SHA256),
		Verdict:       normalizeHybridVerdict(sum.Verdict),
		TechniqueTags: []string{},
	}
	if report.SHA256 == "" {
		report.SHA256 = handle.SHA256
	}
	if sum.ThreatScore != nil {
		report.ThreatScore = min(max(*sum.ThreatScore, 0), 100)
	}

	seen := make(map[string]bool)
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag != "" && !seen[tag] {
			seen[tag] = true
			report.TechniqueTags = append(report.TechniqueTags, tag)
		}
	}
	for _, m := range sum.MitreAttcks {
		add(m.AttckID)
	}
	if len(report.TechniqueTags) == 0 {
		for _, t := range sum.Tags {
			add(t)
		}
	}
	return report, nil
}

func normalizeHybridVerdict(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "malicious":
		return records.HybridMalicious
	case "no specific threat", "no-specific-threat", "whitelisted":
		return records.HybridNoSpecificThreat
	default:
		return records.HybridUnknown
	}
}
