package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kalambet/painel/internal/metrics"
	"github.com/kalambet/painel/internal/records"
)

const defaultHashCacheSize = 256

// VirusTotalAnalyzer submits samples to VirusTotal and looks up hashes.
type VirusTotalAnalyzer struct {
	client  *Client
	cache   *lru.Cache[string, FileReport]
	metrics *metrics.Metrics
}

// NewVirusTotalAnalyzer creates a reputation analyzer over the relay client.
// Hash lookups are cached in an LRU of cacheSize entries (256 if <= 0).
func NewVirusTotalAnalyzer(c *Client, cacheSize int, m *metrics.Metrics) *VirusTotalAnalyzer {
	if cacheSize <= 0 {
		cacheSize = defaultHashCacheSize
	}
	cache, _ := lru.New[string, FileReport](cacheSize)
	return &VirusTotalAnalyzer{client: c, cache: cache, metrics: m}
}

// Name returns the analyzer name.
func (v *VirusTotalAnalyzer) Name() string { return NameVirusTotal }

// Submit uploads f for scanning. It is never retried.
func (v *VirusTotalAnalyzer) Submit(ctx context.Context, key string, f File) (Handle, error) {
	data, err := v.client.call(ctx, NameVirusTotal, FunctionVirusTotal, key, relayRequest{Action: "submit", File: encodeFile(f)}, false)
	if err != nil {
		return Handle{}, err
	}

	var sub struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &sub); err != nil {
		return Handle{}, &UpstreamError{Analyzer: NameVirusTotal, Message: "decoding submission: " + err.Error()}
	}
	if sub.Data.ID == "" {
		return Handle{}, &UpstreamError{Analyzer: NameVirusTotal, Message: "submission response has no analysis id"}
	}
	return Handle{ID: sub.Data.ID}, nil
}

// Report fetches an analysis. ErrReportNotReady is returned until its
// status is "completed".
func (v *VirusTotalAnalyzer) Report(ctx context.Context, key string, handle Handle) (*records.VirusTotalReport, error) {
	data, err := v.client.call(ctx, NameVirusTotal, FunctionVirusTotal, key, relayRequest{Action: "report", ResourceID: handle.ID}, true)
	if err != nil {
		return nil, err
	}

	var an struct {
		Data struct {
			Attributes struct {
				Status string   `json:"status"`
				Stats  *vtStats `json:"stats"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &an); err != nil {
		return nil, &UpstreamError{Analyzer: NameVirusTotal, Message: "decoding report: " + err.Error()}
	}
	if status := an.Data.Attributes.Status; status != "completed" {
		if status == "" {
			return nil, &UpstreamError{Analyzer: NameVirusTotal, Message: "report has no status"}
		}
		return nil, ErrReportNotReady
	}
	if an.Data.Attributes.Stats == nil {
		return nil, &UpstreamError{Analyzer: NameVirusTotal, Message: "completed report has no stats"}
	}

	return &records.VirusTotalReport{
		Source:     records.SourceProvider,
		AnalysisID: handle.ID,
		Stats:      an.Data.Attributes.Stats.toRecord(),
	}, nil
}

// FileReport is VirusTotal's current knowledge about a file hash.
type FileReport struct {
	SHA256         string        `json:"sha256"`
	MeaningfulName string        `json:"meaningfulName,omitempty"`
	ThreatLabel    string        `json:"threatLabel,omitempty"`
	Stats          records.Stats `json:"stats"`
}

// HashReport looks up a sha256 hash. Successful lookups are cached.
func (v *VirusTotalAnalyzer) HashReport(ctx context.Context, key, sha256 string) (FileReport, error) {
	sha256 = strings.ToLower(strings.TrimSpace(sha256))
	if r, ok := v.cache.Get(sha256); ok {
		v.metrics.ObserveHashCache(true)
		return r, nil
	}
	v.metrics.ObserveHashCache(false)

	data, err := v.client.call(ctx, NameVirusTotal, FunctionVirusTotal, key, relayRequest{Action: "hash-report", Hash: sha256}, true)
	if err != nil {
		return FileReport{}, err
	}

	var file struct {
		Data struct {
			Attributes struct {
				SHA256                string   `json:"sha256"`
				MeaningfulName        string   `json:"meaningful_name"`
				LastAnalysisStats     *vtStats `json:"last_analysis_stats"`
				PopularThreatClassify struct {
					SuggestedThreatLabel string `json:"suggested_threat_label"`
				} `json:"popular_threat_classification"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return FileReport{}, &UpstreamError{Analyzer: NameVirusTotal, Message: "decoding file report: " + err.Error()}
	}
	attrs := file.Data.Attributes
	if attrs.LastAnalysisStats == nil {
		return FileReport{}, &UpstreamError{Analyzer: NameVirusTotal, Message: fmt.Sprintf("no analysis stats for %s", sha256)}
	}

	r := FileReport{
		SHA256:         strings.ToLower(attrs.SHA256),
		MeaningfulName: attrs.MeaningfulName,
		ThreatLabel:    attrs.PopularThreatClassify.SuggestedThreatLabel,
		Stats:          attrs.LastAnalysisStats.toRecord(),
	}
	if r.SHA256 == "" {
		r.SHA256 = sha256
	}
	v.cache.Add(sha256, r)
	return r, nil
}

// PurgeCache drops every cached hash lookup.
func (v *VirusTotalAnalyzer) PurgeCache() {
	v.cache.Purge()
}

type vtStats struct {
	Harmless   int `json:"harmless"`
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Undetected int `json:"undetected"`
}

func (s vtStats) toRecord() records.Stats {
	return records.Stats{
		Harmless:   max(s.Harmless, 0),
		Malicious:  max(s.Malicious, 0),
		Suspicious: max(s.Suspicious, 0),
		Undetected: max(s.Undetected, 0),
	}
}
