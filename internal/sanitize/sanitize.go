// Package sanitize guards data entering and leaving the record store: it
// strips executable markup from free text, unsafe characters from file names,
// and parses stored JSON tolerantly against a JSON Schema.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	scriptBlock  = regexp.MustCompile(`(?is)<script\b.*?</script\s*>`)
	scriptTag    = regexp.MustCompile(`(?i)</?script[^>]*>?`)
	scriptScheme = regexp.MustCompile(`(?i)(?:java|vb)script\s*:`)
	// Only attributes inside a tag count as handlers, so text such as
	// "onboarding=1" is left alone.
	eventHandler  = regexp.MustCompile(`(?i)(<[^>]*?)\s*\bon\w+\s*=\s*`)
	unsafeNameChr = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\x7f]`)
)

// Text removes script blocks, stray script tags, script URI schemes and
// inline event handler attributes of tags, then trims surrounding whitespace.
// Removal is repeated until the string stops changing, so
// Text(Text(s)) == Text(s) and the result never contains "<script".
func Text(s string) string {
	return fixpoint(s, func(v string) string {
		v = scriptBlock.ReplaceAllString(v, "")
		v = scriptTag.ReplaceAllString(v, "")
		v = scriptScheme.ReplaceAllString(v, "")
		v = eventHandler.ReplaceAllString(v, "${1} ")
		return strings.TrimSpace(v)
	})
}

// FileName removes path traversal sequences, characters that are invalid in
// file names on common filesystems and control characters. A name that is
// already safe is returned unchanged.
func FileName(s string) string {
	return fixpoint(s, func(v string) string {
		v = unsafeNameChr.ReplaceAllString(v, "")
		v = strings.ReplaceAll(v, "..", "")
		return strings.TrimSpace(v)
	})
}

// RecordName applies both FileName and Text, which is what a stored file
// name goes through.
func RecordName(s string) string {
	return fixpoint(s, func(v string) string {
		return Text(FileName(v))
	})
}

func fixpoint(s string, step func(string) string) string {
	for {
		next := step(s)
		if next == s {
			return s
		}
		s = next
	}
}
