package records

import "github.com/kalambet/painel/internal/sanitize"

// Stored documents are validated before use; unknown fields are tolerated.
var (
	recordSchema = sanitize.MustSchema(`{
		"type": "object",
		"required": ["id", "fileName", "fileSize"],
		"properties": {
			"id":         {"type": "integer", "minimum": 1},
			"fileName":   {"type": "string"},
			"fileSize":   {"type": "integer", "minimum": 0},
			"hash":       {"type": "string"},
			"createdAt":  {"type": "string"},
			"mimeType":   {"type": "string"},
			"md5":        {"type": "string"},
			"pdfPages":   {"type": "integer", "minimum": 0},
			"archiveKey": {"type": "string"}
		}
	}`)

	hybridSchema = sanitize.MustSchema(`{
		"type": "object",
		"required": ["source", "threatScore", "verdict"],
		"properties": {
			"source":        {"enum": ["pending", "synthetic", "provider"]},
			"jobId":         {"type": "string"},
			"sha256":        {"type": "string"},
			"threatScore":   {"type": "integer", "minimum": 0, "maximum": 100},
			"verdict":       {"enum": ["malicious", "no-specific-threat", "unknown"]},
			"techniqueTags": {"type": ["array", "null"], "items": {"type": "string"}},
			"error":         {"type": "string"}
		}
	}`)

	virusTotalSchema = sanitize.MustSchema(`{
		"type": "object",
		"required": ["source", "stats"],
		"properties": {
			"source":     {"enum": ["pending", "synthetic", "provider"]},
			"analysisId": {"type": "string"},
			"stats": {
				"type": "object",
				"required": ["harmless", "malicious", "suspicious", "undetected"],
				"properties": {
					"harmless":   {"type": "integer", "minimum": 0},
					"malicious":  {"type": "integer", "minimum": 0},
					"suspicious": {"type": "integer", "minimum": 0},
					"undetected": {"type": "integer", "minimum": 0}
				}
			},
			"error": {"type": "string"}
		}
	}`)
)
