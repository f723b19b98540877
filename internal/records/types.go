package records

import "time"

// Source says where a sub-report's data came from.
type Source string

const (
	// SourcePending marks a submitted analysis whose report has not resolved.
	SourcePending Source = "pending"
	// SourceSynthetic marks fabricated placeholder data used when a provider
	// was unavailable or not configured.
	SourceSynthetic Source = "synthetic"
	// SourceProvider marks data returned by the real provider.
	SourceProvider Source = "provider"
)

// Sandbox verdicts reported by Hybrid Analysis.
const (
	HybridMalicious        = "malicious"
	HybridNoSpecificThreat = "no-specific-threat"
	HybridUnknown          = "unknown"
)

// HybridReport is the sandbox analyzer's result for one sample.
type HybridReport struct {
	Source        Source   `json:"source"`
	JobID         string   `json:"jobId,omitempty"`
	SHA256        string   `json:"sha256,omitempty"`
	ThreatScore   int      `json:"threatScore"`
	Verdict       string   `json:"verdict"`
	TechniqueTags []string `json:"techniqueTags"`
	Error         string   `json:"error,omitempty"`
}

// Stats are VirusTotal per-engine verdict counts.
type Stats struct {
	Harmless   int `json:"harmless"`
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Undetected int `json:"undetected"`
}

// VirusTotalReport is the reputation analyzer's result for one sample.
type VirusTotalReport struct {
	Source     Source `json:"source"`
	AnalysisID string `json:"analysisId,omitempty"`
	Stats      Stats  `json:"stats"`
	Error      string `json:"error,omitempty"`
}

// AnalysisRecord is one tracked analysis case, merging both analyzers'
// results.
type AnalysisRecord struct {
	ID         int64     `json:"id"`
	FileName   string    `json:"fileName"`
	FileSize   int64     `json:"fileSize"`
	Hash       string    `json:"hash,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	MimeType   string    `json:"mimeType,omitempty"`
	MD5        string    `json:"md5,omitempty"`
	PDFPages   int       `json:"pdfPages,omitempty"`
	ArchiveKey string    `json:"archiveKey,omitempty"`

	HybridReport     *HybridReport     `json:"hybridReport,omitempty"`
	VirusTotalReport *VirusTotalReport `json:"virusTotalReport,omitempty"`
}

// HasHybrid reports whether a resolved sandbox report is attached.
func (r AnalysisRecord) HasHybrid() bool {
	return r.HybridReport != nil && r.HybridReport.Source != SourcePending
}

// HasVirusTotal reports whether a resolved reputation report is attached.
func (r AnalysisRecord) HasVirusTotal() bool {
	return r.VirusTotalReport != nil && r.VirusTotalReport.Source != SourcePending
}

// Complete reports whether both reports have resolved.
func (r AnalysisRecord) Complete() bool {
	return r.HasHybrid() && r.HasVirusTotal()
}

// Pending reports whether neither report has resolved.
func (r AnalysisRecord) Pending() bool {
	return !r.HasHybrid() && !r.HasVirusTotal()
}

// Synthetic reports whether any resolved report holds fabricated data.
func (r AnalysisRecord) Synthetic() bool {
	return (r.HasHybrid() && r.HybridReport.Source == SourceSynthetic) ||
		(r.HasVirusTotal() && r.VirusTotalReport.Source == SourceSynthetic)
}

// Credentials are the user's analyzer API keys. Either may be empty, which
// disables that analyzer.
type Credentials struct {
	HybridKey     string `json:"hybridAnalysis"`
	VirusTotalKey string `json:"virusTotal"`
}

// Empty reports whether no key is configured.
func (c Credentials) Empty() bool {
	return c.HybridKey == "" && c.VirusTotalKey == ""
}
