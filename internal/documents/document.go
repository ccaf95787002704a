// Package documents discovers source documents and extracts their text.
package documents

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrExtraction marks data that could not be turned into text
	ErrExtraction = errors.New("extraction failed")

	// ErrUnsupportedPlatform marks a format whose extractor cannot run here
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrEmptyDocument marks a document that yielded no text
	ErrEmptyDocument = fmt.Errorf("%w: document has no text", ErrExtraction)
)

// Format is the closed set of supported source formats
type Format int

const (
	FormatStructured Format = iota + 1 // .docx
	FormatPortable                     // .pdf
	FormatLegacy                       // .doc
)

func (f Format) String() string {
	switch f {
	case FormatStructured:
		return "docx"
	case FormatPortable:
		return "pdf"
	case FormatLegacy:
		return "doc"
	default:
		return "unknown"
	}
}

// Outranks reports whether f wins a same-stem conflict against other
func (f Format) Outranks(other Format) bool {
	return f < other
}

// FormatFromPath returns the format for a file extension
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		return FormatStructured, true
	case ".pdf":
		return FormatPortable, true
	case ".doc":
		return FormatLegacy, true
	default:
		return 0, false
	}
}

// Document is a source file discovered by a scan
type Document struct {
	ID       string // slash separated path relative to the source root
	Path     string
	Format   Format
	Category string
	ModTime  time.Time
	Size     int64
}

// Load reads the document bytes and returns them with their fingerprint
func (d Document) Load() ([]byte, string, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read document: %w", err)
	}
	return data, Fingerprint(data), nil
}

// Fingerprint returns the SHA-256 hex digest of data
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
