package piidetect

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// plainTextExtensions read directly as UTF-8 text; no format parsing
// needed beyond the file's own bytes.
var plainTextExtensions = map[string]bool{
	".txt": true, ".md": true, ".log": true, ".csv": true, ".tsv": true,
	".json": true, ".xml": true, ".html": true, ".htm": true,
	".eml": true, ".msg": true,
}

// extractText dispatches by extension. Office-document formats
// (.docx .doc .rtf .xlsx .xls .pptx .ppt) fall back to a weak
// best-effort scrape of whatever printable text is embedded in the
// container bytes — deliberately not a real document parser, since a
// complete one is out of scope (spec §1); it exists only so the
// end-to-end pipeline has something to scan for those extensions.
func extractText(path string, ext string) (string, error) {
	switch {
	case ext == ".pdf":
		return extractPDFText(path)
	case plainTextExtensions[ext]:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return string(data), nil
	default:
		return extractWeakFallback(path)
	}
}

// extractPDFText extracts text content from a PDF file. Recovers from
// panics (e.g. zlib: invalid header) caused by corrupt PDFs.
func extractPDFText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("panic during PDF extraction: %v", r)
		}
	}()

	f, r, openErr := pdf.Open(path)
	if openErr != nil {
		return "", fmt.Errorf("open PDF %s: %w", path, openErr)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, pageErr := page.GetPlainText(nil)
		if pageErr != nil {
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// extractWeakFallback scrapes contiguous runs of printable ASCII out of
// an arbitrary binary container, good enough to exercise the recognizer
// pipeline on office-document formats without implementing their layout.
func extractWeakFallback(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	var sb strings.Builder
	var run []byte
	flush := func() {
		if len(run) >= 4 {
			sb.Write(run)
			sb.WriteByte(' ')
		}
		run = run[:0]
	}
	for _, b := range data {
		if b >= 0x20 && b < 0x7f {
			run = append(run, b)
		} else {
			flush()
		}
	}
	flush()
	return sb.String(), nil
}

// extensionOf lowercases and normalizes a path's extension the way the
// Store and discovery walker both record it.
func extensionOf(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
