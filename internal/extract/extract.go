// Package extract reads plain text out of supported file formats.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupportedFormat is returned for extensions with no reader.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrExtractionFailed is returned when a supported file cannot be read.
	ErrExtractionFailed = errors.New("text extraction failed")
)

// Extractor returns the text content of a file.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// plainTextExts are read verbatim.
var plainTextExts = map[string]bool{
	"":      true,
	".txt":  true,
	".md":   true,
	".csv":  true,
	".json": true,
	".html": true,
	".py":   true,
}

// Files extracts text from files on the local filesystem.
type Files struct{}

// New returns a filesystem extractor.
func New() *Files {
	return &Files{}
}

// Extract dispatches on the lowercased file extension.
func (f *Files) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := Ext(path)
	switch {
	case plainTextExts[ext]:
		return readPlainText(path)
	case ext == ".docx":
		return readDocx(path)
	case ext == ".pdf":
		return readPDF(ctx, path)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func readPlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrExtractionFailed, path)
	}
	return string(data), nil
}

// Ext returns the lowercased extension of path including the leading dot.
// Leading dots of the base name are not treated as an extension separator,
// so ".bashrc" has no extension.
func Ext(path string) string {
	base := strings.TrimLeft(filepath.Base(path), ".")
	return strings.ToLower(filepath.Ext(base))
}
