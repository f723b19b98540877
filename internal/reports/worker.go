// Package reports runs the deferred report fetches. Each submission that
// returned a provider handle becomes a job in the SQLite queue; the worker
// claims due jobs, asks the provider for the report and merges the result
// into the record. Jobs that keep failing end with a synthetic report.
package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/painel/internal/analyzers"
	"github.com/kalambet/painel/internal/metrics"
	"github.com/kalambet/painel/internal/records"
	"github.com/kalambet/painel/internal/storage"
)

// Job types.
const (
	JobHybridReport     = "hybrid_report"
	JobVirusTotalReport = "virustotal_report"
)

var jobTypes = []string{JobHybridReport, JobVirusTotalReport}

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	CancelJobs(types []string) (int64, error)
}

// RecordStore is the part of the record store the worker writes through.
type RecordStore interface {
	Update(ctx context.Context, id int64, fn func(*records.AnalysisRecord) error) (records.AnalysisRecord, error)
	Credentials(ctx context.Context) (records.Credentials, error)
}

// HybridReporter fetches sandbox reports.
type HybridReporter interface {
	Report(ctx context.Context, key string, h analyzers.Handle) (*records.HybridReport, error)
}

// VirusTotalReporter fetches reputation reports.
type VirusTotalReporter interface {
	Report(ctx context.Context, key string, h analyzers.Handle) (*records.VirusTotalReport, error)
}

// Options tunes the worker.
type Options struct {
	// PollInterval defaults to 500ms.
	PollInterval time.Duration
	// MaxAttempts is the number of report fetches before falling back to
	// synthetic data. Defaults to 3.
	MaxAttempts int
	Metrics     *metrics.Metrics
}

// Worker processes report jobs from the SQLite job queue.
type Worker struct {
	jobs        JobStore
	records     RecordStore
	hybrid      HybridReporter
	virusTotal  VirusTotalReporter
	poll        time.Duration
	maxAttempts int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
func NewWorker(jobs JobStore, recs RecordStore, hybrid HybridReporter, vt VirusTotalReporter, opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Worker{
		jobs:        jobs,
		records:     recs,
		hybrid:      hybrid,
		virusTotal:  vt,
		poll:        opts.PollInterval,
		maxAttempts: opts.MaxAttempts,
		metrics:     opts.Metrics,
		logger:      slog.Default(),
	}
}

type reportPayload struct {
	RecordID int64            `json:"record_id"`
	Hash     string           `json:"hash"`
	Handle   analyzers.Handle `json:"handle"`
}

// Schedule enqueues a report fetch for recordID that becomes due after delay.
func (w *Worker) Schedule(_ context.Context, jobType string, recordID int64, hash string, h analyzers.Handle, delay time.Duration) error {
	if jobType != JobHybridReport && jobType != JobVirusTotalReport {
		return fmt.Errorf("unknown report job type %q", jobType)
	}
	payload, err := json.Marshal(reportPayload{RecordID: recordID, Hash: hash, Handle: h})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		PayloadJSON: string(payload),
		MaxAttempts: w.maxAttempts,
		RunAfter:    time.Now().Add(delay),
	}
	if err := w.jobs.EnqueueJob(job); err != nil {
		return fmt.Errorf("enqueueing %s job: %w", jobType, err)
	}
	w.logger.Debug("report fetch scheduled", "job_id", job.ID, "type", jobType, "record_id", recordID, "delay", delay)
	return nil
}

// CancelAll cancels every pending report fetch. It is registered as a
// store reset hook.
func (w *Worker) CancelAll(ctx context.Context) {
	n, err := w.jobs.CancelJobs(jobTypes)
	if err != nil {
		w.logger.Error("cancelling report jobs", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("cancelled pending report fetches", "count", n)
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single report job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob(jobTypes)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("report job failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1, "error", err)
		if failErr := w.jobs.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.jobs.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var p reportPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	creds, err := w.records.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	var (
		analyzer string
		fetchErr error
		merge    func(*records.AnalysisRecord)
	)
	switch job.Type {
	case JobHybridReport:
		analyzer = analyzers.NameHybrid
		var rep *records.HybridReport
		rep, fetchErr = w.hybrid.Report(ctx, creds.HybridKey, p.Handle)
		if fetchErr == nil {
			merge = func(r *records.AnalysisRecord) { r.HybridReport = rep }
		} else if job.LastAttempt() {
			syn := analyzers.SyntheticHybrid(p.Hash, fallbackReason(fetchErr))
			syn.JobID = p.Handle.ID
			merge = func(r *records.AnalysisRecord) { r.HybridReport = syn }
		}
	case JobVirusTotalReport:
		analyzer = analyzers.NameVirusTotal
		var rep *records.VirusTotalReport
		rep, fetchErr = w.virusTotal.Report(ctx, creds.VirusTotalKey, p.Handle)
		if fetchErr == nil {
			merge = func(r *records.AnalysisRecord) { r.VirusTotalReport = rep }
		} else if job.LastAttempt() {
			syn := analyzers.SyntheticVirusTotal(p.Hash, fallbackReason(fetchErr))
			syn.AnalysisID = p.Handle.ID
			merge = func(r *records.AnalysisRecord) { r.VirusTotalReport = syn }
		}
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}

	if fetchErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	switch {
	case fetchErr == nil:
		w.metrics.ObserveReport(analyzer, "provider")
	case errors.Is(fetchErr, analyzers.ErrReportNotReady):
		w.metrics.ObserveReport(analyzer, "not_ready")
	default:
		w.metrics.ObserveReport(analyzer, "error")
		w.metrics.IncrementUpstreamErrors(analyzer)
	}

	if merge != nil {
		if err := w.merge(ctx, p.RecordID, merge); err != nil {
			return err
		}
		if fetchErr != nil {
			w.metrics.ObserveReport(analyzer, "synthetic")
			w.logger.Warn("report unavailable, stored synthetic data", "record_id", p.RecordID, "analyzer", analyzer, "error", fetchErr)
		} else {
			w.logger.Info("report merged", "record_id", p.RecordID, "analyzer", analyzer)
		}
	}
	return fetchErr
}

func (w *Worker) merge(ctx context.Context, recordID int64, fn func(*records.AnalysisRecord)) error {
	_, err := w.records.Update(ctx, recordID, func(r *records.AnalysisRecord) error {
		fn(r)
		return nil
	})
	if errors.Is(err, records.ErrNotFound) {
		// Cleared by a reset while the fetch was in flight.
		w.logger.Info("record gone, dropping report", "record_id", recordID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("merging report into record %d: %w", recordID, err)
	}
	return nil
}

func fallbackReason(err error) string {
	if errors.Is(err, analyzers.ErrReportNotReady) {
		return "report not ready after all attempts"
	}
	return err.Error()
}
