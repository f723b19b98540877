package sanitize

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// MustSchema compiles a JSON Schema document and panics if it is invalid.
// Intended for package-level schema variables.
func MustSchema(doc string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("sanitize: compiling schema: %v", err))
	}
	return s
}

// Validate checks data against schema and returns a single error listing
// every violation.
func Validate(data []byte, schema *gojsonschema.Schema) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("schema violations: %s", strings.Join(msgs, "; "))
}

// SafeParse decodes data into a T after validating it against schema. On a
// syntax error, a schema violation or a decode failure it logs a warning and
// returns fallback. It never panics on bad input.
func SafeParse[T any](data []byte, schema *gojsonschema.Schema, fallback T) T {
	if !json.Valid(data) {
		slog.Warn("discarding malformed JSON", "bytes", len(data))
		return fallback
	}
	if schema != nil {
		if err := Validate(data, schema); err != nil {
			slog.Warn("discarding JSON that does not match schema", "error", err)
			return fallback
		}
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		slog.Warn("discarding undecodable JSON", "error", err)
		return fallback
	}
	return v
}

// SafeParseList decodes a JSON array element by element. Elements that fail
// itemSchema or do not decode are dropped with a warning; the rest are kept in
// order. Anything that is not a JSON array yields an empty list.
func SafeParseList[T any](data []byte, itemSchema *gojsonschema.Schema) []T {
	raw := SafeParse[[]json.RawMessage](data, nil, nil)
	out := make([]T, 0, len(raw))
	for i, elem := range raw {
		if itemSchema != nil {
			if err := Validate(elem, itemSchema); err != nil {
				slog.Warn("dropping malformed list element", "index", i, "error", err)
				continue
			}
		}
		var v T
		if err := json.Unmarshal(elem, &v); err != nil {
			slog.Warn("dropping undecodable list element", "index", i, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out
}
