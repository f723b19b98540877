package analyzers

import (
	"crypto/sha256"
	"slices"

	"github.com/kalambet/painel/internal/records"
)

// syntheticEngines is the engine count a synthetic VirusTotal report
// pretends to have consulted.
const syntheticEngines = 70

var syntheticTechniques = []string{
	"T1055", "T1059", "T1071", "T1082", "T1105", "T1486",
	"T1547", "T1562", "T1027", "T1036", "T1053", "T1112",
}

// seed expands an arbitrary identity (normally the sample sha256) into a
// fixed pseudo-random byte sequence.
func seed(identity string) [32]byte {
	return sha256.Sum256([]byte("painel-synthetic:" + identity))
}

// SyntheticHybrid fabricates a sandbox report for a sample. The same hash
// always produces the same report. reason is recorded in the report's error
// field.
func SyntheticHybrid(hash, reason string) *records.HybridReport {
	b := seed(hash)
	score := int(b[0]) % 101

	verdict := records.HybridUnknown
	switch {
	case score > 70:
		verdict = records.HybridMalicious
	case score <= 30:
		verdict = records.HybridNoSpecificThreat
	}

	tags := []string{}
	for i := 0; i < score/25; i++ {
		tag := syntheticTechniques[int(b[1+i])%len(syntheticTechniques)]
		if !slices.Contains(tags, tag) {
			tags = append(tags, tag)
		}
	}

	return &records.HybridReport{
		Source:        records.SourceSynthetic,
		JobID:         "synthetic-" + shortID(hash),
		SHA256:        hash,
		ThreatScore:   score,
		Verdict:       verdict,
		TechniqueTags: tags,
		Error:         reason,
	}
}

// SyntheticVirusTotal fabricates reputation stats for a sample. The same
// hash always produces the same stats.
func SyntheticVirusTotal(hash, reason string) *records.VirusTotalReport {
	b := seed(hash)
	malicious := int(b[8]) % 16
	suspicious := int(b[9]) % 4
	harmless := int(b[10]) % 10
	return &records.VirusTotalReport{
		Source:     records.SourceSynthetic,
		AnalysisID: "synthetic-" + shortID(hash),
		Stats: records.Stats{
			Harmless:   harmless,
			Malicious:  malicious,
			Suspicious: suspicious,
			Undetected: syntheticEngines - malicious - suspicious - harmless,
		},
		Error: reason,
	}
}

func shortID(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	if hash == "" {
		return "unknown"
	}
	return hash
}
