package records

import "testing"

func TestClassifyScores(t *testing.T) {
	tests := []struct {
		score, malicious int
		want             Verdict
	}{
		{0, 0, VerdictSafe},
		{30, 0, VerdictSafe},
		{31, 0, VerdictSuspicious},
		{70, 0, VerdictSuspicious},
		{71, 0, VerdictMalware},
		{0, 1, VerdictSuspicious},
		{0, 5, VerdictSuspicious},
		{0, 6, VerdictMalware},
		{10, 6, VerdictMalware},
		{100, 0, VerdictMalware},
	}
	for _, tt := range tests {
		if got := ClassifyScores(tt.score, tt.malicious); got != tt.want {
			t.Errorf("ClassifyScores(%d, %d) = %q, want %q", tt.score, tt.malicious, got, tt.want)
		}
	}
}

func TestThreatLevel(t *testing.T) {
	want := map[Verdict]string{
		VerdictMalware:    "Nível 5",
		VerdictSuspicious: "Nível 3",
		VerdictSafe:       "Nível 1",
		VerdictPending:    "Nível 0",
	}
	for v, level := range want {
		if got := ThreatLevel(v); got != level {
			t.Errorf("ThreatLevel(%q) = %q, want %q", v, got, level)
		}
	}
}

func hybrid(source Source, score int) *HybridReport {
	return &HybridReport{Source: source, ThreatScore: score, Verdict: HybridUnknown, TechniqueTags: []string{}}
}

func virusTotal(source Source, malicious int) *VirusTotalReport {
	return &VirusTotalReport{Source: source, Stats: Stats{Malicious: malicious}}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		rec  AnalysisRecord
		want Verdict
	}{
		{"no reports", AnalysisRecord{}, VerdictPending},
		{"both pending", AnalysisRecord{HybridReport: hybrid(SourcePending, 0), VirusTotalReport: virusTotal(SourcePending, 0)}, VerdictPending},
		{"pending score ignored", AnalysisRecord{HybridReport: hybrid(SourcePending, 99), VirusTotalReport: virusTotal(SourceProvider, 0)}, VerdictSafe},
		{"sandbox only", AnalysisRecord{HybridReport: hybrid(SourceProvider, 85)}, VerdictMalware},
		{"reputation only", AnalysisRecord{VirusTotalReport: virusTotal(SourceProvider, 2)}, VerdictSuspicious},
		{"synthetic counts", AnalysisRecord{HybridReport: hybrid(SourceSynthetic, 40), VirusTotalReport: virusTotal(SourceSynthetic, 0)}, VerdictSuspicious},
		{"clean", AnalysisRecord{HybridReport: hybrid(SourceProvider, 10), VirusTotalReport: virusTotal(SourceProvider, 0)}, VerdictSafe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.rec)
			if c.Verdict != tt.want {
				t.Errorf("Verdict = %q, want %q", c.Verdict, tt.want)
			}
			if c.ThreatLevel != ThreatLevel(tt.want) {
				t.Errorf("ThreatLevel = %q, want %q", c.ThreatLevel, ThreatLevel(tt.want))
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	list := []AnalysisRecord{
		{HybridReport: hybrid(SourcePending, 0), VirusTotalReport: virusTotal(SourcePending, 0)},
		{HybridReport: hybrid(SourceProvider, 90), VirusTotalReport: virusTotal(SourceProvider, 12)},
		{HybridReport: hybrid(SourceSynthetic, 45), VirusTotalReport: virusTotal(SourceProvider, 0)},
		{HybridReport: hybrid(SourceProvider, 5), VirusTotalReport: virusTotal(SourcePending, 0)},
	}
	got := Summarize(list)
	want := Summary{Total: 4, Active: 2, Threats: 1, Suspicious: 1, Complete: 2, Synthetic: 1}
	if got != want {
		t.Errorf("Summarize = %+v, want %+v", got, want)
	}
	if (Summarize(nil) != Summary{}) {
		t.Error("Summarize(nil) is not zero")
	}
}
