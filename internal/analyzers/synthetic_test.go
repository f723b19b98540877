package analyzers

import (
	"reflect"
	"testing"

	"github.com/kalambet/painel/internal/records"
)

func TestSyntheticHybrid_Deterministic(t *testing.T) {
	a := SyntheticHybrid("aabbcc", "no key")
	b := SyntheticHybrid("aabbcc", "no key")
	if !reflect.DeepEqual(a, b) {
		t.Errorf("same hash gave different reports: %+v vs %+v", a, b)
	}
	if a.Source != records.SourceSynthetic || a.Error != "no key" {
		t.Errorf("report = %+v", a)
	}
}

func TestSyntheticHybrid_WellFormed(t *testing.T) {
	for _, hash := range []string{"", "00", "ff", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", "x"} {
		r := SyntheticHybrid(hash, "")
		if r.ThreatScore < 0 || r.ThreatScore > 100 {
			t.Errorf("hash %q: score %d out of range", hash, r.ThreatScore)
		}
		switch r.Verdict {
		case records.HybridMalicious, records.HybridNoSpecificThreat, records.HybridUnknown:
		default:
			t.Errorf("hash %q: verdict %q", hash, r.Verdict)
		}
		if r.TechniqueTags == nil {
			t.Errorf("hash %q: nil tags", hash)
		}
		if r.JobID == "" {
			t.Errorf("hash %q: empty job id", hash)
		}
	}
}

func TestSyntheticVirusTotal(t *testing.T) {
	for _, hash := range []string{"", "a", "abc", "ffff"} {
		r := SyntheticVirusTotal(hash, "upstream down")
		s := r.Stats
		if s.Harmless < 0 || s.Malicious < 0 || s.Suspicious < 0 || s.Undetected < 0 {
			t.Errorf("hash %q: negative stats %+v", hash, s)
		}
		if sum := s.Harmless + s.Malicious + s.Suspicious + s.Undetected; sum != syntheticEngines {
			t.Errorf("hash %q: engines sum to %d", hash, sum)
		}
		if r.Source != records.SourceSynthetic {
			t.Errorf("source = %q", r.Source)
		}
		if !reflect.DeepEqual(r, SyntheticVirusTotal(hash, "upstream down")) {
			t.Errorf("hash %q: not deterministic", hash)
		}
	}
}
