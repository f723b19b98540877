package triage

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// buildPDF assembles a minimal PDF with the given number of blank pages and
// a correct cross-reference table.
func buildPDF(pages int) []byte {
	var objs []string
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestInspect_Digests(t *testing.T) {
	res := Inspect([]byte("hello"))
	if res.SHA256 != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("SHA256 = %s", res.SHA256)
	}
	if res.MD5 != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("MD5 = %s", res.MD5)
	}
	if !strings.HasPrefix(res.MimeType, "text/plain") {
		t.Errorf("MimeType = %s", res.MimeType)
	}
	if res.PDFPages != 0 {
		t.Errorf("PDFPages = %d for non-PDF", res.PDFPages)
	}
}

func TestInspect_Executable(t *testing.T) {
	data := append([]byte("MZ"), make([]byte, 256)...)
	res := Inspect(data)
	if res.MimeType == "" || strings.HasPrefix(res.MimeType, "text/") {
		t.Errorf("MimeType = %q for MZ header", res.MimeType)
	}
}

func TestInspect_PDF(t *testing.T) {
	res := Inspect(buildPDF(3))
	if res.MimeType != "application/pdf" {
		t.Fatalf("MimeType = %q", res.MimeType)
	}
	if res.PDFPages != 3 {
		t.Errorf("PDFPages = %d, want 3", res.PDFPages)
	}
}

func TestInspect_TruncatedPDF(t *testing.T) {
	data := []byte("%PDF-1.7\n1 0 obj << /Type /Catalog")
	res := Inspect(data)
	if res.MimeType != "application/pdf" {
		t.Errorf("MimeType = %q", res.MimeType)
	}
	if res.PDFPages != 0 {
		t.Errorf("PDFPages = %d for truncated PDF", res.PDFPages)
	}
	if _, err := PDFPages(data); err == nil {
		t.Error("PDFPages returned no error for truncated PDF")
	}
}

func TestInspect_Empty(t *testing.T) {
	res := Inspect(nil)
	if res.SHA256 != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("SHA256 of empty = %s", res.SHA256)
	}
}
