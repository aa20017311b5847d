package ingest

import (
	"bytes"
	"fmt"
	"net/url"

	readability "github.com/go-shiori/go-readability"
)

var _ Extractor = (*HTMLExtractor)(nil)

// HTMLExtractor pulls readable article text out of HTML pages, dropping
// navigation, scripts, and boilerplate.
type HTMLExtractor struct{}

// NewHTMLExtractor creates an HTML extractor.
func NewHTMLExtractor() *HTMLExtractor { return &HTMLExtractor{} }

// Extract returns the readable text content as a single page.
func (e *HTMLExtractor) Extract(content []byte) ([]Page, error) {
	u := &url.URL{Scheme: "file", Path: "/"}
	article, err := readability.FromReader(bytes.NewReader(content), u)
	if err != nil {
		return nil, fmt.Errorf("readability: %w", err)
	}
	text := NormalizeText(article.TextContent)
	if text == "" {
		return nil, nil
	}
	return []Page{{Number: 1, Text: text}}, nil
}
