package records

import (
	"encoding/json"
	"log/slog"

	"github.com/kalambet/painel/internal/sanitize"
	"github.com/xeipuuv/gojsonschema"
)

// decodeReport validates and decodes a stored sub-report. Missing or null
// data and malformed reports yield nil; the latter are logged.
func decodeReport[T any](logger *slog.Logger, raw json.RawMessage, schema *gojsonschema.Schema, recordID int64, analyzer string) *T {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := sanitize.Validate(raw, schema); err != nil {
		logger.Warn("dropping malformed stored report", "record_id", recordID, "analyzer", analyzer, "error", err)
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		logger.Warn("dropping undecodable stored report", "record_id", recordID, "analyzer", analyzer, "error", err)
		return nil
	}
	return &v
}

// revalidate checks an in-memory sub-report against its schema and returns
// nil, with a warning, when it does not conform.
func revalidate[T any](logger *slog.Logger, report *T, schema *gojsonschema.Schema, recordID int64, analyzer string) *T {
	data, err := json.Marshal(report)
	if err != nil {
		logger.Warn("dropping unencodable report", "record_id", recordID, "analyzer", analyzer, "error", err)
		return nil
	}
	if err := sanitize.Validate(data, schema); err != nil {
		logger.Warn("dropping malformed report", "record_id", recordID, "analyzer", analyzer, "error", err)
		return nil
	}
	return report
}
