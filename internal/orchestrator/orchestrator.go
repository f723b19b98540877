// Package orchestrator runs a sample submission: triage, fan-out to both
// analyzers, the initial record and the deferred report fetches.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/painel/internal/analyzers"
	"github.com/kalambet/painel/internal/metrics"
	"github.com/kalambet/painel/internal/records"
	"github.com/kalambet/painel/internal/reports"
	"github.com/kalambet/painel/internal/triage"
)

const (
	DefaultHybridDelay     = 8 * time.Second
	DefaultVirusTotalDelay = 12 * time.Second
)

var (
	ErrNoFileSelected          = errors.New("no file selected")
	ErrNoCredentialsConfigured = errors.New("no analyzer API key configured")
)

// InputError rejects a submission before any network call is made.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return e.Err.Error() }
func (e *InputError) Unwrap() error { return e.Err }

// Sample is a file selected for analysis.
type Sample struct {
	Name        string
	ContentType string
	Data        []byte
}

// Submitter submits a sample to one analyzer.
type Submitter interface {
	Submit(ctx context.Context, key string, f analyzers.File) (analyzers.Handle, error)
}

// Scheduler defers a report fetch.
type Scheduler interface {
	Schedule(ctx context.Context, jobType string, recordID int64, hash string, h analyzers.Handle, delay time.Duration) error
}

// RecordStore persists records.
type RecordStore interface {
	Append(ctx context.Context, rec records.AnalysisRecord) (records.AnalysisRecord, error)
	Update(ctx context.Context, id int64, fn func(*records.AnalysisRecord) error) (records.AnalysisRecord, error)
}

// Archiver keeps a copy of the sample.
type Archiver interface {
	Put(ctx context.Context, sha256 string, data []byte, contentType string) (string, error)
}

// Options configures an Orchestrator. Hybrid, VirusTotal, Store and
// Scheduler are required.
type Options struct {
	Hybrid          Submitter
	VirusTotal      Submitter
	Store           RecordStore
	Scheduler       Scheduler
	Archive         Archiver
	Metrics         *metrics.Metrics
	HybridDelay     time.Duration
	VirusTotalDelay time.Duration
}

// Orchestrator submits samples.
type Orchestrator struct {
	hybrid     Submitter
	virusTotal Submitter
	store      RecordStore
	scheduler  Scheduler
	archive    Archiver
	metrics    *metrics.Metrics
	hybridWait time.Duration
	vtWait     time.Duration
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.HybridDelay <= 0 {
		opts.HybridDelay = DefaultHybridDelay
	}
	if opts.VirusTotalDelay <= 0 {
		opts.VirusTotalDelay = DefaultVirusTotalDelay
	}
	return &Orchestrator{
		hybrid:     opts.Hybrid,
		virusTotal: opts.VirusTotal,
		store:      opts.Store,
		scheduler:  opts.Scheduler,
		archive:    opts.Archive,
		metrics:    opts.Metrics,
		hybridWait: opts.HybridDelay,
		vtWait:     opts.VirusTotalDelay,
		logger:     slog.Default(),
	}
}

// Submit sends the sample to both analyzers concurrently and stores the
// initial record. An analyzer without a key, or whose submission fails, gets
// a synthetic report; every accepted submission gets a deferred report fetch.
// Submissions are never retried. The returned record is the one persisted.
func (o *Orchestrator) Submit(ctx context.Context, s *Sample, creds records.Credentials) (records.AnalysisRecord, error) {
	if s == nil || (s.Name == "" && len(s.Data) == 0) {
		return records.AnalysisRecord{}, &InputError{Err: ErrNoFileSelected}
	}
	if creds.Empty() {
		return records.AnalysisRecord{}, &InputError{Err: ErrNoCredentialsConfigured}
	}

	tri := triage.Inspect(s.Data)
	contentType := s.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = tri.MimeType
	}

	rec := records.AnalysisRecord{
		FileName: s.Name,
		FileSize: int64(len(s.Data)),
		Hash:     tri.SHA256,
		MD5:      tri.MD5,
		MimeType: tri.MimeType,
		PDFPages: tri.PDFPages,
	}

	if o.archive != nil {
		key, err := o.archive.Put(ctx, tri.SHA256, s.Data, contentType)
		if err != nil {
			o.logger.Warn("archiving sample failed", "sha256", tri.SHA256, "error", err)
		} else {
			rec.ArchiveKey = key
		}
	}

	file := analyzers.File{Name: s.Name, Type: contentType, Data: s.Data}
	var hybridHandle, vtHandle *analyzers.Handle

	var g errgroup.Group
	g.Go(func() error {
		h, err := o.submit(ctx, o.hybrid, analyzers.NameHybrid, creds.HybridKey, file)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rec.HybridReport = analyzers.SyntheticHybrid(tri.SHA256, err.Error())
			return nil
		}
		hybridHandle = &h
		sha := h.SHA256
		if sha == "" {
			sha = tri.SHA256
		}
		rec.HybridReport = &records.HybridReport{
			Source:        records.SourcePending,
			JobID:         h.ID,
			SHA256:        sha,
			Verdict:       records.HybridUnknown,
			TechniqueTags: []string{},
		}
		return nil
	})
	g.Go(func() error {
		h, err := o.submit(ctx, o.virusTotal, analyzers.NameVirusTotal, creds.VirusTotalKey, file)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rec.VirusTotalReport = analyzers.SyntheticVirusTotal(tri.SHA256, err.Error())
			return nil
		}
		vtHandle = &h
		rec.VirusTotalReport = &records.VirusTotalReport{
			Source:     records.SourcePending,
			AnalysisID: h.ID,
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return records.AnalysisRecord{}, err
	}

	saved, err := o.store.Append(ctx, rec)
	if err != nil {
		return records.AnalysisRecord{}, fmt.Errorf("saving record: %w", err)
	}
	o.logger.Info("sample submitted",
		"record_id", saved.ID,
		"sha256", saved.Hash,
		"size", saved.FileSize,
		"hybrid", hybridHandle != nil,
		"virustotal", vtHandle != nil,
	)

	if hybridHandle != nil {
		saved = o.schedule(ctx, saved, reports.JobHybridReport, *hybridHandle, o.hybridWait)
	}
	if vtHandle != nil {
		saved = o.schedule(ctx, saved, reports.JobVirusTotalReport, *vtHandle, o.vtWait)
	}
	return saved, nil
}

// errMissingKey is recorded on synthetic reports of unconfigured analyzers.
type errMissingKey string

func (e errMissingKey) Error() string { return string(e) + " API key not configured" }

func (o *Orchestrator) submit(ctx context.Context, sub Submitter, analyzer, key string, f analyzers.File) (analyzers.Handle, error) {
	if key == "" {
		o.metrics.ObserveSubmission(analyzer, "synthetic")
		return analyzers.Handle{}, errMissingKey(displayName(analyzer))
	}

	h, err := sub.Submit(ctx, key, f)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Warn("submission failed, using synthetic report", "analyzer", analyzer, "error", err)
			o.metrics.IncrementUpstreamErrors(analyzer)
			o.metrics.ObserveSubmission(analyzer, "synthetic")
		}
		return analyzers.Handle{}, err
	}
	o.metrics.ObserveSubmission(analyzer, "provider")
	return h, nil
}

// schedule enqueues a deferred fetch. If that fails the report would never
// resolve, so it is replaced with synthetic data right away.
func (o *Orchestrator) schedule(ctx context.Context, rec records.AnalysisRecord, jobType string, h analyzers.Handle, delay time.Duration) records.AnalysisRecord {
	err := o.scheduler.Schedule(ctx, jobType, rec.ID, rec.Hash, h, delay)
	if err == nil {
		return rec
	}

	o.logger.Error("scheduling report fetch failed", "record_id", rec.ID, "type", jobType, "error", err)
	reason := "scheduling report fetch: " + err.Error()
	updated, uerr := o.store.Update(ctx, rec.ID, func(r *records.AnalysisRecord) error {
		switch jobType {
		case reports.JobHybridReport:
			r.HybridReport = analyzers.SyntheticHybrid(r.Hash, reason)
		case reports.JobVirusTotalReport:
			r.VirusTotalReport = analyzers.SyntheticVirusTotal(r.Hash, reason)
		}
		return nil
	})
	if uerr != nil {
		o.logger.Error("storing synthetic fallback failed", "record_id", rec.ID, "error", uerr)
		return rec
	}
	return updated
}

func displayName(analyzer string) string {
	if analyzer == analyzers.NameHybrid {
		return "Hybrid Analysis"
	}
	return "VirusTotal"
}
