package records

import (
	"context"
	"time"
)

// ExportOptions selects what goes into an export. Credentials are excluded
// unless explicitly requested.
type ExportOptions struct {
	IncludeKeys    bool
	IncludeResults bool
	IncludeNotes   bool
}

// DefaultExportOptions exports records and notes but not credentials.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{IncludeResults: true, IncludeNotes: true}
}

// Export is a point-in-time backup document.
type Export struct {
	Timestamp       time.Time        `json:"timestamp"`
	APIKeys         *Credentials     `json:"apiKeys,omitempty"`
	AnalysisResults []AnalysisRecord `json:"analysisResults,omitempty"`
	UserNotes       *string          `json:"userNotes,omitempty"`
}

// Export builds a backup document according to opts.
func (s *Store) Export(ctx context.Context, opts ExportOptions) (Export, error) {
	doc := Export{Timestamp: s.now().UTC()}

	if opts.IncludeKeys {
		c, err := s.Credentials(ctx)
		if err != nil {
			return Export{}, err
		}
		doc.APIKeys = &c
	}
	if opts.IncludeResults {
		list, err := s.List(ctx)
		if err != nil {
			return Export{}, err
		}
		doc.AnalysisResults = list
	}
	if opts.IncludeNotes {
		notes, err := s.Notes(ctx)
		if err != nil {
			return Export{}, err
		}
		doc.UserNotes = &notes
	}
	return doc, nil
}
