package ingest

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
)

var _ Extractor = (*MarkdownExtractor)(nil)

// MarkdownExtractor strips markdown formatting to plain text by walking the
// goldmark AST, so links, emphasis, and code fences do not leak markup into
// chunks.
type MarkdownExtractor struct {
	md goldmark.Markdown
}

// NewMarkdownExtractor creates a markdown extractor.
func NewMarkdownExtractor() *MarkdownExtractor {
	return &MarkdownExtractor{md: goldmark.New()}
}

// Extract returns the document's plain text as a single page.
func (e *MarkdownExtractor) Extract(content []byte) ([]Page, error) {
	doc := e.md.Parser().Parse(gtext.NewReader(content))

	var b strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(content))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(content))
			}
		case *ast.AutoLink:
			b.Write(v.URL(content))
		default:
			// Block boundaries become paragraph breaks.
			if n.Type() == ast.TypeBlock && b.Len() > 0 {
				b.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}

	text := NormalizeText(b.String())
	if text == "" {
		return nil, nil
	}
	return []Page{{Number: 1, Text: text}}, nil
}
