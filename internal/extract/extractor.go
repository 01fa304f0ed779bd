// Package extract turns book files (plain text, Markdown, PDF, DOCX) into
// plain text for ingestion.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extracted is the text of a book file plus the page count when the format has pages.
type Extracted struct {
	Text      string
	PageCount int
}

// Extractor extracts plain text from book files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// SupportedExtensions lists the extensions ExtractBytes understands natively.
// Anything else is read as plain text.
func SupportedExtensions() []string {
	return []string{".txt", ".md", ".markdown", ".pdf", ".docx"}
}

// Extract reads the file at path and returns its text content.
// Paragraph breaks are kept as blank lines so chapter headings stay on their own line.
func (e *Extractor) Extract(path string) (*Extracted, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (*Extracted, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		text, err := extractDOCX(content)
		if err != nil {
			return nil, err
		}
		return &Extracted{Text: text}, nil
	default:
		return &Extracted{Text: extractPlain(content)}, nil
	}
}
