package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/painel/internal/analyzers"
	"github.com/kalambet/painel/internal/metrics"
	"github.com/kalambet/painel/internal/orchestrator"
	"github.com/kalambet/painel/internal/records"
	"github.com/kalambet/painel/internal/storage"
)

const testToken = "test-token-12345"

type fakeSubmitter struct {
	handle analyzers.Handle
	err    error
}

func (f fakeSubmitter) Submit(context.Context, string, analyzers.File) (analyzers.Handle, error) {
	return f.handle, f.err
}

type nopScheduler struct{}

func (nopScheduler) Schedule(context.Context, string, int64, string, analyzers.Handle, time.Duration) error {
	return nil
}

type fakeLookup struct {
	report analyzers.FileReport
	err    error
	keys   []string
}

func (f *fakeLookup) HashReport(_ context.Context, key, sha256 string) (analyzers.FileReport, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return analyzers.FileReport{}, f.err
	}
	r := f.report
	r.SHA256 = sha256
	return r, nil
}

type testEnv struct {
	handler http.Handler
	store   *records.Store
	lookup  *fakeLookup
	deps    Deps
}

func setup(t *testing.T, maxUpload int64) *testEnv {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := records.NewStore(db.Namespace("painel"))
	orch := orchestrator.New(orchestrator.Options{
		Hybrid:     fakeSubmitter{handle: analyzers.Handle{ID: "job-1"}},
		VirusTotal: fakeSubmitter{handle: analyzers.Handle{ID: "an-1"}},
		Store:      store,
		Scheduler:  nopScheduler{},
	})
	lookup := &fakeLookup{report: analyzers.FileReport{ThreatLabel: "trojan.emotet", Stats: records.Stats{Malicious: 40}}}
	deps := Deps{
		Records:        store,
		Submitter:      orch,
		Lookup:         lookup,
		Metrics:        metrics.New(),
		Token:          testToken,
		MaxUploadBytes: maxUpload,
	}
	return &testEnv{handler: NewHandler(deps), store: store, lookup: lookup, deps: deps}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func uploadReq(t *testing.T, field, name string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	} else {
		mw.WriteField("comment", "no file here")
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/analyses", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
	return v
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	return env.Error.Message
}

func seed(t *testing.T, store *records.Store, name string, score, malicious int) records.AnalysisRecord {
	t.Helper()
	rec, err := store.Append(context.Background(), records.AnalysisRecord{
		FileName: name,
		FileSize: 10,
		Hash:     strings.Repeat("a", 64),
		HybridReport: &records.HybridReport{
			Source: records.SourceProvider, ThreatScore: score, Verdict: records.HybridUnknown, TechniqueTags: []string{},
		},
		VirusTotalReport: &records.VirusTotalReport{
			Source: records.SourceProvider, Stats: records.Stats{Malicious: malicious},
		},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return rec
}

func TestAuth(t *testing.T) {
	env := setup(t, 0)

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"health is public", "/health", "", http.StatusOK},
		{"metrics is public", "/metrics", "", http.StatusOK},
		{"no token", "/analyses", "", http.StatusUnauthorized},
		{"wrong token", "/analyses", "nope", http.StatusUnauthorized},
		{"valid token", "/analyses", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(env.handler, authReq(http.MethodGet, tt.path, "", tt.token))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestBearerAuth_EmptyTokenRejectsAll(t *testing.T) {
	h := BearerAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := serve(h, authReq(http.MethodGet, "/", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestSubmit_Multipart(t *testing.T) {
	env := setup(t, 0)
	if err := env.store.SaveCredentials(context.Background(), records.Credentials{VirusTotalKey: "vt"}); err != nil {
		t.Fatal(err)
	}

	rr := serve(env.handler, uploadReq(t, "file", "../evil<script>.exe", bytes.Repeat([]byte("MZ"), 1024)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", rr.Code, rr.Body.String())
	}

	got := decode[AnalysisView](t, rr)
	if strings.Contains(got.FileName, "..") || strings.Contains(got.FileName, "<script") {
		t.Errorf("FileName = %q", got.FileName)
	}
	if got.HybridReport == nil || got.HybridReport.Source != records.SourceSynthetic {
		t.Errorf("hybrid report = %+v, want synthetic", got.HybridReport)
	}
	if got.VirusTotalReport == nil || got.VirusTotalReport.Source != records.SourcePending {
		t.Errorf("vt report = %+v, want pending", got.VirusTotalReport)
	}
	if got.Verdict == "" || got.ThreatLevel == "" {
		t.Errorf("classification missing: %+v", got.Classification)
	}

	list, _ := env.store.List(context.Background())
	if len(list) != 1 || list[0].ID != got.ID {
		t.Errorf("stored = %+v", list)
	}
}

func TestSubmit_InputErrors(t *testing.T) {
	env := setup(t, 0)

	rr := serve(env.handler, uploadReq(t, "", "", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing file: status = %d, want 400", rr.Code)
	}
	if msg := errorMessage(t, rr); msg != orchestrator.ErrNoFileSelected.Error() {
		t.Errorf("message = %q", msg)
	}

	rr = serve(env.handler, uploadReq(t, "file", "a.bin", []byte("abc")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("no credentials: status = %d, want 400", rr.Code)
	}
	if msg := errorMessage(t, rr); msg != orchestrator.ErrNoCredentialsConfigured.Error() {
		t.Errorf("message = %q", msg)
	}

	rr = serve(env.handler, authReq(http.MethodPost, "/analyses", `{"file":"x"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("non-multipart body: status = %d, want 400", rr.Code)
	}
}

func TestSubmit_TooLarge(t *testing.T) {
	env := setup(t, 16)
	env.store.SaveCredentials(context.Background(), records.Credentials{HybridKey: "h"})

	rr := serve(env.handler, uploadReq(t, "file", "big.bin", bytes.Repeat([]byte{1}, 64)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413; body = %s", rr.Code, rr.Body.String())
	}
}

func TestListAnalyses(t *testing.T) {
	env := setup(t, 0)
	first := seed(t, env.store, "clean.txt", 5, 0)
	second := seed(t, env.store, "dropper.exe", 95, 30)
	third := seed(t, env.store, "macro.doc", 50, 0)

	rr := serve(env.handler, authReq(http.MethodGet, "/analyses", "", testToken))
	got := decode[[]AnalysisView](t, rr)
	if len(got) != 3 || got[0].ID != third.ID || got[2].ID != first.ID {
		t.Fatalf("order = %+v, want newest first", got)
	}

	rr = serve(env.handler, authReq(http.MethodGet, "/analyses?verdict=malware", "", testToken))
	got = decode[[]AnalysisView](t, rr)
	if len(got) != 1 || got[0].ID != second.ID || got[0].ThreatLevel != "Nível 5" {
		t.Errorf("verdict filter = %+v", got)
	}

	rr = serve(env.handler, authReq(http.MethodGet, "/analyses?limit=1&offset=1", "", testToken))
	got = decode[[]AnalysisView](t, rr)
	if len(got) != 1 || got[0].ID != second.ID {
		t.Errorf("paging = %+v", got)
	}
}

func TestGetAnalysis(t *testing.T) {
	env := setup(t, 0)
	rec := seed(t, env.store, "a.exe", 80, 0)

	rr := serve(env.handler, authReq(http.MethodGet, "/analyses/"+itoa(rec.ID), "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if got := decode[AnalysisView](t, rr); got.Verdict != records.VerdictMalware {
		t.Errorf("verdict = %q", got.Verdict)
	}

	if rr := serve(env.handler, authReq(http.MethodGet, "/analyses/42", "", testToken)); rr.Code != http.StatusNotFound {
		t.Errorf("missing id: status = %d, want 404", rr.Code)
	}
	if rr := serve(env.handler, authReq(http.MethodGet, "/analyses/abc", "", testToken)); rr.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rr.Code)
	}
}

func TestLookupHash(t *testing.T) {
	env := setup(t, 0)
	seed(t, env.store, "a.exe", 80, 0)
	seed(t, env.store, "b.exe", 10, 0)
	hash := strings.Repeat("a", 64)

	rr := serve(env.handler, authReq(http.MethodGet, "/analyses/hash/"+strings.ToUpper(hash), "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	got := decode[HashLookupResult](t, rr)
	if len(got.Records) != 2 {
		t.Errorf("records = %d, want 2", len(got.Records))
	}
	if got.VirusTotal != nil || !strings.Contains(got.VirusTotalError, "not configured") {
		t.Errorf("lookup without key = %+v / %q", got.VirusTotal, got.VirusTotalError)
	}

	env.store.SaveCredentials(context.Background(), records.Credentials{VirusTotalKey: "vt-key"})
	rr = serve(env.handler, authReq(http.MethodGet, "/analyses/hash/"+hash, "", testToken))
	got = decode[HashLookupResult](t, rr)
	if got.VirusTotal == nil || got.VirusTotal.ThreatLabel != "trojan.emotet" {
		t.Errorf("virusTotal = %+v", got.VirusTotal)
	}
	if len(env.lookup.keys) != 1 || env.lookup.keys[0] != "vt-key" {
		t.Errorf("lookup keys = %v", env.lookup.keys)
	}

	env.lookup.err = &analyzers.UpstreamError{Analyzer: "virustotal", Status: 404, Message: "not found"}
	rr = serve(env.handler, authReq(http.MethodGet, "/analyses/hash/"+hash, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("upstream failure: status = %d", rr.Code)
	}
	if got = decode[HashLookupResult](t, rr); got.VirusTotalError == "" || len(got.Records) != 2 {
		t.Errorf("upstream failure result = %+v", got)
	}

	if rr := serve(env.handler, authReq(http.MethodGet, "/analyses/hash/xyz", "", testToken)); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid hash: status = %d, want 400", rr.Code)
	}
}

func TestDashboard(t *testing.T) {
	env := setup(t, 0)
	for i := 0; i < 7; i++ {
		seed(t, env.store, "s.bin", 95, 0)
	}

	rr := serve(env.handler, authReq(http.MethodGet, "/dashboard", "", testToken))
	got := decode[Dashboard](t, rr)
	if got.Summary.Total != 7 || got.Summary.Threats != 7 {
		t.Errorf("summary = %+v", got.Summary)
	}
	if len(got.Recent) != recentOnDashboard {
		t.Errorf("recent = %d, want %d", len(got.Recent), recentOnDashboard)
	}
}

func TestNotes(t *testing.T) {
	env := setup(t, 0)

	rr := serve(env.handler, authReq(http.MethodPut, "/notes", `{"notes":"IOC list <script>alert(1)</script>"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if got := decode[notesBody](t, rr); got.Notes != "IOC list" {
		t.Errorf("saved notes = %q", got.Notes)
	}

	rr = serve(env.handler, authReq(http.MethodGet, "/notes", "", testToken))
	if got := decode[notesBody](t, rr); got.Notes != "IOC list" {
		t.Errorf("notes = %q", got.Notes)
	}

	if rr := serve(env.handler, authReq(http.MethodPut, "/notes", `not json`, testToken)); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid body: status = %d, want 400", rr.Code)
	}
}

func TestCredentials_PartialUpdate(t *testing.T) {
	env := setup(t, 0)

	rr := serve(env.handler, authReq(http.MethodPut, "/credentials", `{"virusTotal":" vt-secret "}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "vt-secret") {
		t.Error("response leaks the key")
	}

	serve(env.handler, authReq(http.MethodPut, "/credentials", `{"hybridAnalysis":"ha-secret"}`, testToken))

	rr = serve(env.handler, authReq(http.MethodGet, "/credentials", "", testToken))
	if got := decode[CredentialStatus](t, rr); !got.HybridAnalysis || !got.VirusTotal {
		t.Errorf("status = %+v, want both configured", got)
	}

	c, _ := env.store.Credentials(context.Background())
	if c.VirusTotalKey != "vt-secret" || c.HybridKey != "ha-secret" {
		t.Errorf("stored = %+v", c)
	}

	serve(env.handler, authReq(http.MethodPut, "/credentials", `{"virusTotal":""}`, testToken))
	c, _ = env.store.Credentials(context.Background())
	if c.VirusTotalKey != "" || c.HybridKey != "ha-secret" {
		t.Errorf("after clearing = %+v", c)
	}
}

func TestExport(t *testing.T) {
	env := setup(t, 0)
	seed(t, env.store, "a.exe", 10, 0)
	env.store.SaveCredentials(context.Background(), records.Credentials{HybridKey: "ha-secret"})

	rr := serve(env.handler, authReq(http.MethodGet, "/export", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, `attachment; filename="painel-backup-`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if strings.Contains(rr.Body.String(), "ha-secret") {
		t.Error("default export includes credentials")
	}
	doc := decode[records.Export](t, rr)
	if len(doc.AnalysisResults) != 1 || doc.UserNotes == nil {
		t.Errorf("export = %+v", doc)
	}

	rr = serve(env.handler, authReq(http.MethodGet, "/export?keys=true&results=false", "", testToken))
	doc = decode[records.Export](t, rr)
	if doc.APIKeys == nil || doc.APIKeys.HybridKey != "ha-secret" {
		t.Errorf("apiKeys = %+v", doc.APIKeys)
	}
	if doc.AnalysisResults != nil {
		t.Errorf("results included despite results=false")
	}
}

func TestReset(t *testing.T) {
	env := setup(t, 0)
	seed(t, env.store, "a.exe", 10, 0)
	env.store.SaveNotes(context.Background(), "keep?")

	var hookRan bool
	env.store.OnReset(func(context.Context) { hookRan = true })

	if rr := serve(env.handler, authReq(http.MethodPost, "/reset", "", testToken)); rr.Code != http.StatusBadRequest {
		t.Errorf("unconfirmed reset: status = %d, want 400", rr.Code)
	}
	if list, _ := env.store.List(context.Background()); len(list) != 1 {
		t.Fatal("unconfirmed reset cleared data")
	}

	if rr := serve(env.handler, authReq(http.MethodPost, "/reset?confirm=true", "", testToken)); rr.Code != http.StatusOK {
		t.Fatalf("reset: status = %d", rr.Code)
	}
	list, _ := env.store.List(context.Background())
	notes, _ := env.store.Notes(context.Background())
	if len(list) != 0 || notes != "" {
		t.Errorf("after reset: %d records, notes %q", len(list), notes)
	}
	if !hookRan {
		t.Error("reset hook did not run")
	}
}

func TestSubmit_StoreFailure(t *testing.T) {
	env := setup(t, 0)
	env.deps.Records = failingCreds{RecordStore: env.store}
	h := NewHandler(env.deps)

	rr := serve(h, uploadReq(t, "file", "a.bin", []byte("abc")))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

type failingCreds struct {
	RecordStore
}

func (failingCreds) Credentials(context.Context) (records.Credentials, error) {
	return records.Credentials{}, errors.New("disk on fire")
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
