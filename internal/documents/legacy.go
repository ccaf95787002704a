package documents

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// converterNames are probed in order when no converter path is configured
var converterNames = []string{"soffice", "libreoffice"}

// Converter turns legacy .doc files into .docx with a headless office suite
type Converter struct {
	path string
}

// DetectConverter looks up the converter binary. An empty configured path
// probes the well-known names on PATH.
func DetectConverter(configured string) (*Converter, error) {
	candidates := converterNames
	if configured != "" {
		candidates = []string{configured}
	}

	for _, name := range candidates {
		path, err := exec.LookPath(name)
		if err == nil {
			return &Converter{path: path}, nil
		}
	}

	return nil, fmt.Errorf("%w: no legacy document converter found", ErrUnsupportedPlatform)
}

// Path returns the resolved converter binary
func (c *Converter) Path() string {
	return c.path
}

// Convert returns the .docx rendition of a .doc file
func (c *Converter) Convert(ctx context.Context, data []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "rag-legacy-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.doc")
	if err := os.WriteFile(input, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write input: %w", err)
	}

	// A private profile lets several conversions run at once
	profile := "-env:UserInstallation=file://" + filepath.ToSlash(filepath.Join(dir, "profile"))

	cmd := exec.CommandContext(ctx, c.path,
		profile,
		"--headless",
		"--convert-to", "docx",
		"--outdir", dir,
		input,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: converter failed: %v: %s", ErrExtraction, err, stderr.String())
	}

	out, err := os.ReadFile(filepath.Join(dir, "input.docx"))
	if err != nil {
		return nil, fmt.Errorf("%w: converter produced no output: %v", ErrExtraction, err)
	}

	return out, nil
}

// LegacyExtractor converts .doc to .docx and extracts that
type LegacyExtractor struct {
	converter *Converter
	docx      Extractor
}

// NewLegacyExtractor creates an extractor; a nil converter makes every
// extraction fail with ErrUnsupportedPlatform
func NewLegacyExtractor(converter *Converter, docx Extractor) *LegacyExtractor {
	return &LegacyExtractor{
		converter: converter,
		docx:      docx,
	}
}

func (p *LegacyExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	if p.converter == nil {
		return "", fmt.Errorf("%w: legacy .doc needs soffice or libreoffice", ErrUnsupportedPlatform)
	}

	converted, err := p.converter.Convert(ctx, data)
	if err != nil {
		return "", err
	}

	return p.docx.Extract(ctx, converted)
}
