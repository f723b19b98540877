package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.ObserveSubmission("hybrid", "synthetic")
	a.ObserveSubmission("hybrid", "synthetic")
	b.ObserveSubmission("hybrid", "synthetic")

	if got := testutil.ToFloat64(a.Submissions.WithLabelValues("hybrid", "synthetic")); got != 2 {
		t.Errorf("a submissions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(b.Submissions.WithLabelValues("hybrid", "synthetic")); got != 1 {
		t.Errorf("b submissions = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSubmission("virustotal", "provider")
	m.ObserveReport("virustotal", "provider")
	m.IncrementUpstreamErrors("virustotal")
	m.ObserveHashCache(true)
	m.CountRecordsWith(func() float64 { return 3 })
	m.ObserveRelay("virustotal", "submit", "200", 0.1)
	if m.Registry() != nil {
		t.Error("nil Metrics returned a registry")
	}
}

func TestHandler_ExposesCounters(t *testing.T) {
	m := New()
	m.ObserveHashCache(false)
	m.CountRecordsWith(func() float64 { return 4 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`painel_hash_lookup_cache_total{result="miss"} 1`,
		"painel_records 4",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
