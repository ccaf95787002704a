package documents

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// Extractor turns the bytes of one format into plain text
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Registry dispatches extraction by format
type Registry struct {
	extractors map[Format]Extractor
}

// NewRegistry creates a registry with the built-in extractors. A nil
// converter leaves legacy documents unsupported.
func NewRegistry(converter *Converter) *Registry {
	docx := &DocxExtractor{}

	return &Registry{
		extractors: map[Format]Extractor{
			FormatStructured: docx,
			FormatPortable:   &PDFExtractor{},
			FormatLegacy:     NewLegacyExtractor(converter, docx),
		},
	}
}

// Register replaces the extractor for a format
func (r *Registry) Register(format Format, e Extractor) {
	r.extractors[format] = e
}

// Extract returns the normalized text of data. A document without text
// fails with ErrEmptyDocument.
func (r *Registry) Extract(ctx context.Context, format Format, data []byte) (string, error) {
	e, ok := r.extractors[format]
	if !ok {
		return "", fmt.Errorf("%w: no extractor for %s", ErrUnsupportedPlatform, format)
	}

	text, err := e.Extract(ctx, data)
	if err != nil {
		return "", err
	}

	text = Normalize(text)
	if text == "" {
		return "", ErrEmptyDocument
	}

	return text, nil
}

var (
	trailingSpace = regexp.MustCompile(`[ \t\r\f\v]+\n`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// Normalize cleans extractor output before chunking
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// PDFExtractor extracts page text with MuPDF
type PDFExtractor struct{}

// Extract returns the text of every page that has any, pages separated by
// blank lines
func (p *PDFExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open PDF: %v", ErrExtraction, err)
	}
	defer doc.Close()

	var textParts []string

	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := doc.Text(i)
		if err == nil && strings.TrimSpace(text) != "" {
			textParts = append(textParts, text)
		}
	}

	return strings.Join(textParts, "\n\n"), nil
}

// DocxExtractor reads word/document.xml of an Office Open XML package
type DocxExtractor struct{}

// Extract returns paragraphs separated by blank lines. Tables are emitted one
// row per line with cells joined by " | ".
func (p *DocxExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: failed to open DOCX as zip: %v", ErrExtraction, err)
	}

	var body *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}

	if body == nil {
		return "", fmt.Errorf("%w: word/document.xml not found", ErrExtraction)
	}

	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("%w: failed to open document body: %v", ErrExtraction, err)
	}
	defer rc.Close()

	return extractDocxBody(ctx, rc)
}

func extractDocxBody(ctx context.Context, r io.Reader) (string, error) {
	var (
		blocks     []string
		para       strings.Builder
		cell       []string
		row        []string
		rows       []string
		tableDepth int
		inText     bool
	)

	dec := xml.NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: malformed document body: %v", ErrExtraction, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			case "tbl":
				tableDepth++
				if tableDepth == 1 {
					rows = nil
				}
			case "tr":
				if tableDepth == 1 {
					row = nil
				}
			case "tc":
				if tableDepth == 1 {
					cell = nil
				}
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				para.Reset()
				if text == "" {
					continue
				}
				if tableDepth > 0 {
					cell = append(cell, text)
				} else {
					blocks = append(blocks, text)
				}
			case "tc":
				if tableDepth == 1 {
					row = append(row, strings.Join(cell, " "))
				}
			case "tr":
				if tableDepth == 1 && hasText(row) {
					rows = append(rows, strings.Join(row, " | "))
				}
			case "tbl":
				tableDepth--
				if tableDepth == 0 && len(rows) > 0 {
					blocks = append(blocks, strings.Join(rows, "\n"))
				}
			}

		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}

	return strings.Join(blocks, "\n\n"), nil
}

func hasText(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}
