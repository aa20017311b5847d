package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var _ Extractor = (*PDFExtractor)(nil)

// PDFExtractor extracts text page by page from PDF documents.
type PDFExtractor struct{}

// NewPDFExtractor creates a PDF extractor.
func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

// Extract returns one Page per non-empty PDF page, keeping the original
// 1-based page numbers for citation.
func (e *PDFExtractor) Extract(content []byte) ([]Page, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("empty PDF content")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var pages []Page
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = NormalizeText(pageText)
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: pageText})
	}
	return pages, nil
}
