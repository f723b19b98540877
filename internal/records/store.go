// Package records is the local record store: analysis records, the notes
// string and the user's analyzer credentials, persisted in one key-value
// namespace.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/painel/internal/sanitize"
)

// Persisted keys.
const (
	KeyHybrid     = "hybridAnalysisKey"
	KeyVirusTotal = "virusTotalKey"
	KeyResults    = "analysisResults"
	KeyNotes      = "userNotes"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("record not found")

// KV is the persisted key-value namespace the store writes through.
// storage.Namespace implements it.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Store owns the analysis records, the notes and the credentials. Every
// write holds mu, so concurrent updates of different fields of the same
// record cannot overwrite each other.
type Store struct {
	kv     KV
	mu     sync.Mutex
	hooks  []func(context.Context)
	now    func() time.Time
	logger *slog.Logger
}

// NewStore creates a Store over kv.
func NewStore(kv KV) *Store {
	return &Store{
		kv:     kv,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// OnReset registers fn to run on every ClearAll, before the data is erased.
func (s *Store) OnReset(fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Append sanitizes rec, assigns its id and creation time when absent and
// appends it. Malformed sub-reports are dropped with a warning. Only storage
// failures are returned.
func (s *Store) Append(ctx context.Context, rec AnalysisRecord) (AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx)
	if err != nil {
		return AnalysisRecord{}, err
	}

	now := s.now().UTC()
	if rec.ID == 0 {
		rec.ID = nextID(now, list)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec = s.clean(rec)

	list = append(list, rec)
	if err := s.save(ctx, list); err != nil {
		return AnalysisRecord{}, err
	}
	return rec, nil
}

// nextID derives an id from the submission time in milliseconds, bumped
// past every existing id so ids stay strictly increasing.
func nextID(now time.Time, list []AnalysisRecord) int64 {
	id := now.UnixMilli()
	for _, r := range list {
		if r.ID >= id {
			id = r.ID + 1
		}
	}
	return id
}

// List returns every record, oldest first. Corrupt stored data yields the
// well-formed subset (possibly empty) and a logged warning.
func (s *Store) List(ctx context.Context) ([]AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id int64) (AnalysisRecord, error) {
	list, err := s.List(ctx)
	if err != nil {
		return AnalysisRecord{}, err
	}
	for _, r := range list {
		if r.ID == id {
			return r, nil
		}
	}
	return AnalysisRecord{}, ErrNotFound
}

// FindByHash returns every record whose hash matches sha256, oldest first.
// Identical samples submitted twice produce two records.
func (s *Store) FindByHash(ctx context.Context, sha256 string) ([]AnalysisRecord, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	sha256 = strings.ToLower(strings.TrimSpace(sha256))
	var out []AnalysisRecord
	for _, r := range list {
		if r.Hash != "" && strings.EqualFold(r.Hash, sha256) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Update applies fn to the record with the given id and persists the result
// atomically with respect to every other store write. The id and creation
// time cannot be changed by fn. If fn returns an error nothing is written.
func (s *Store) Update(ctx context.Context, id int64, fn func(*AnalysisRecord) error) (AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx)
	if err != nil {
		return AnalysisRecord{}, err
	}

	idx := -1
	for i := range list {
		if list[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return AnalysisRecord{}, ErrNotFound
	}

	rec := list[idx]
	if err := fn(&rec); err != nil {
		return AnalysisRecord{}, err
	}
	rec.ID = list[idx].ID
	rec.CreatedAt = list[idx].CreatedAt
	list[idx] = s.clean(rec)

	if err := s.save(ctx, list); err != nil {
		return AnalysisRecord{}, err
	}
	return list[idx], nil
}

// ClearAll erases every key of the namespace: records, notes and
// credentials. Registered reset hooks run first, and writes stay blocked
// until both the hooks and the erase have finished, so nothing appended
// after a reset can be caught by a hook. Hooks must not call back into
// the Store.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, fn := range s.hooks {
		fn(ctx)
	}
	if err := s.kv.Clear(ctx); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}
	s.logger.Info("store cleared")
	return nil
}

// SaveNotes sanitizes and stores the notes, replacing any previous text.
func (s *Store) SaveNotes(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text = sanitize.Text(text)
	if err := s.kv.Set(ctx, KeyNotes, text); err != nil {
		return "", fmt.Errorf("saving notes: %w", err)
	}
	return text, nil
}

// Notes returns the stored notes or the empty string.
func (s *Store) Notes(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, _, err := s.kv.Get(ctx, KeyNotes)
	if err != nil {
		return "", fmt.Errorf("reading notes: %w", err)
	}
	return v, nil
}

// SaveCredentials replaces both stored keys. An empty key is removed.
func (s *Store) SaveCredentials(ctx context.Context, c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, val := range map[string]string{KeyHybrid: c.HybridKey, KeyVirusTotal: c.VirusTotalKey} {
		val = strings.TrimSpace(sanitize.Text(val))
		var err error
		if val == "" {
			err = s.kv.Delete(ctx, key)
		} else {
			err = s.kv.Set(ctx, key, val)
		}
		if err != nil {
			return fmt.Errorf("saving credential %s: %w", key, err)
		}
	}
	return nil
}

// Credentials returns the stored keys; absent keys are empty.
func (s *Store) Credentials(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Credentials
	var err error
	if c.HybridKey, _, err = s.kv.Get(ctx, KeyHybrid); err != nil {
		return Credentials{}, fmt.Errorf("reading credentials: %w", err)
	}
	if c.VirusTotalKey, _, err = s.kv.Get(ctx, KeyVirusTotal); err != nil {
		return Credentials{}, fmt.Errorf("reading credentials: %w", err)
	}
	return c, nil
}

// storedRecord decodes sub-reports lazily so a malformed report can be
// dropped without losing the rest of the record.
type storedRecord struct {
	AnalysisRecord
	HybridReport     json.RawMessage `json:"hybridReport,omitempty"`
	VirusTotalReport json.RawMessage `json:"virusTotalReport,omitempty"`
}

func (s *Store) load(ctx context.Context) ([]AnalysisRecord, error) {
	raw, ok, err := s.kv.Get(ctx, KeyResults)
	if err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}
	if !ok {
		return []AnalysisRecord{}, nil
	}

	stored := sanitize.SafeParseList[storedRecord]([]byte(raw), recordSchema)
	list := make([]AnalysisRecord, 0, len(stored))
	for _, sr := range stored {
		rec := sr.AnalysisRecord
		rec.HybridReport = decodeReport[HybridReport](s.logger, sr.HybridReport, hybridSchema, rec.ID, "hybrid")
		rec.VirusTotalReport = decodeReport[VirusTotalReport](s.logger, sr.VirusTotalReport, virusTotalSchema, rec.ID, "virustotal")
		list = append(list, rec)
	}
	return list, nil
}

func (s *Store) save(ctx context.Context, list []AnalysisRecord) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}
	if err := s.kv.Set(ctx, KeyResults, string(data)); err != nil {
		return fmt.Errorf("writing records: %w", err)
	}
	return nil
}

// clean sanitizes every free-text field and drops sub-reports that do not
// validate.
func (s *Store) clean(rec AnalysisRecord) AnalysisRecord {
	rec.FileName = sanitize.RecordName(rec.FileName)
	rec.Hash = strings.ToLower(sanitize.Text(rec.Hash))
	rec.MD5 = strings.ToLower(sanitize.Text(rec.MD5))
	rec.MimeType = sanitize.Text(rec.MimeType)
	rec.ArchiveKey = sanitize.Text(rec.ArchiveKey)
	if rec.FileSize < 0 {
		rec.FileSize = 0
	}
	if rec.PDFPages < 0 {
		rec.PDFPages = 0
	}

	if rec.HybridReport != nil {
		h := *rec.HybridReport
		h.JobID = sanitize.Text(h.JobID)
		h.SHA256 = sanitize.Text(h.SHA256)
		h.Error = sanitize.Text(h.Error)
		tags := make([]string, 0, len(h.TechniqueTags))
		for _, t := range h.TechniqueTags {
			if t = sanitize.Text(t); t != "" {
				tags = append(tags, t)
			}
		}
		h.TechniqueTags = tags
		rec.HybridReport = revalidate(s.logger, &h, hybridSchema, rec.ID, "hybrid")
	}
	if rec.VirusTotalReport != nil {
		v := *rec.VirusTotalReport
		v.AnalysisID = sanitize.Text(v.AnalysisID)
		v.Error = sanitize.Text(v.Error)
		rec.VirusTotalReport = revalidate(s.logger, &v, virusTotalSchema, rec.ID, "virustotal")
	}
	return rec
}
