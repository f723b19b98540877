// Package triage computes the local facts recorded for every sample before
// it leaves the machine: digests, sniffed MIME type and, for PDFs, the page
// count.
package triage

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

const mimePDF = "application/pdf"

// Result holds the triage facts of one sample.
type Result struct {
	SHA256   string
	MD5      string
	MimeType string
	PDFPages int
}

// Inspect triages data. It never fails: a PDF that cannot be parsed simply
// reports zero pages.
func Inspect(data []byte) Result {
	sum := sha256.Sum256(data)
	md := md5.Sum(data)

	mt := mimetype.Detect(data)
	res := Result{
		SHA256:   hex.EncodeToString(sum[:]),
		MD5:      hex.EncodeToString(md[:]),
		MimeType: mt.String(),
	}

	if mt.Is(mimePDF) {
		pages, err := PDFPages(data)
		if err != nil {
			slog.Warn("could not count PDF pages", "sha256", res.SHA256, "error", err)
		}
		res.PDFPages = pages
	}
	return res
}

// PDFPages returns the page count of a PDF document.
func PDFPages(data []byte) (n int, err error) {
	// The parser panics on some malformed inputs; samples are hostile by nature.
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("parsing pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("opening pdf: %w", err)
	}
	return r.NumPage(), nil
}
