package ingest

import "strings"

// Page is one page of extracted document text. Number is 1-based; formats
// without a page concept (plain text, markdown, HTML) yield a single page.
type Page struct {
	Number int
	Text   string
}

// Extractor converts raw file content to paged plain text.
type Extractor interface {
	Extract(content []byte) ([]Page, error)
}

// ContentType identifies the MIME type of content for extraction.
type ContentType string

const (
	TypePlainText ContentType = "text/plain"
	TypeHTML      ContentType = "text/html"
	TypeMarkdown  ContentType = "text/markdown"
	TypePDF       ContentType = "application/pdf"
)

// ContentTypeFromExtension maps file extensions to content types.
func ContentTypeFromExtension(ext string) ContentType {
	switch strings.ToLower(ext) {
	case "md", "markdown":
		return TypeMarkdown
	case "html", "htm":
		return TypeHTML
	case "pdf":
		return TypePDF
	default:
		return TypePlainText
	}
}

// --- Plain text ---

// PlainTextExtractor returns content as a single page.
type PlainTextExtractor struct{}

var _ Extractor = PlainTextExtractor{}

func (PlainTextExtractor) Extract(content []byte) ([]Page, error) {
	text := NormalizeText(string(content))
	if text == "" {
		return nil, nil
	}
	return []Page{{Number: 1, Text: text}}, nil
}
