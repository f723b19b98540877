package records

// Summary holds the dashboard counters.
type Summary struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Threats    int `json:"threats"`
	Suspicious int `json:"suspicious"`
	Complete   int `json:"complete"`
	Synthetic  int `json:"synthetic"`
}

// Summarize counts records by completion and verdict. Active records are
// those still waiting on at least one report.
func Summarize(list []AnalysisRecord) Summary {
	var s Summary
	for _, r := range list {
		s.Total++
		if r.Complete() {
			s.Complete++
		} else {
			s.Active++
		}
		if r.Synthetic() {
			s.Synthetic++
		}
		switch Classify(r).Verdict {
		case VerdictMalware:
			s.Threats++
		case VerdictSuspicious:
			s.Suspicious++
		}
	}
	return s
}
