package records

// Verdict is the overall classification of a record.
type Verdict string

const (
	VerdictPending    Verdict = "Pendente"
	VerdictMalware    Verdict = "Malware"
	VerdictSuspicious Verdict = "Suspeito"
	VerdictSafe       Verdict = "Seguro"
)

// Score thresholds. Comparisons are strict: a threat score of exactly 70 is
// suspicious, not malware.
const (
	malwareScore      = 70
	malwareEngines    = 5
	suspiciousScore   = 30
	suspiciousEngines = 0
)

// Classification is derived from a record on read and never stored.
type Classification struct {
	Verdict     Verdict `json:"verdict"`
	ThreatLevel string  `json:"threatLevel"`
}

// Classify derives the verdict and threat level of a record. A report that
// has not resolved contributes zero to its side of the comparison.
func Classify(r AnalysisRecord) Classification {
	if r.Pending() {
		return Classification{Verdict: VerdictPending, ThreatLevel: ThreatLevel(VerdictPending)}
	}

	var score, malicious int
	if r.HasHybrid() {
		score = r.HybridReport.ThreatScore
	}
	if r.HasVirusTotal() {
		malicious = r.VirusTotalReport.Stats.Malicious
	}

	v := ClassifyScores(score, malicious)
	return Classification{Verdict: v, ThreatLevel: ThreatLevel(v)}
}

// ClassifyScores applies the verdict thresholds to a sandbox threat score and
// a count of engines flagging the sample as malicious.
func ClassifyScores(threatScore, vtMalicious int) Verdict {
	switch {
	case threatScore > malwareScore || vtMalicious > malwareEngines:
		return VerdictMalware
	case threatScore > suspiciousScore || vtMalicious > suspiciousEngines:
		return VerdictSuspicious
	default:
		return VerdictSafe
	}
}

// ThreatLevel maps a verdict to its display level.
func ThreatLevel(v Verdict) string {
	switch v {
	case VerdictMalware:
		return "Nível 5"
	case VerdictSuspicious:
		return "Nível 3"
	case VerdictSafe:
		return "Nível 1"
	default:
		return "Nível 0"
	}
}
