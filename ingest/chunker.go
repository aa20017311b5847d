package ingest

import (
	"log/slog"
	"sort"
	"strings"

	canopy "github.com/canopyrag/canopy"
)

// Chunker builds a multi-level chunk tree over a document. Each configured
// level is split greedily at sentence or paragraph boundaries, accumulating
// tokens until at or just above the level's target, never cutting inside a
// sentence. Children are contiguous substrings of their parent, so
// concatenating any node's children reproduces the node exactly, and
// concatenating all leaves reproduces the normalized document.
type Chunker struct {
	levels []canopy.Level
	logger *slog.Logger
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithChunkerLogger sets a structured logger for tree construction.
func WithChunkerLogger(l *slog.Logger) ChunkerOption {
	return func(c *Chunker) { c.logger = l }
}

// NewChunker creates a Chunker for the given level configuration
// (coarsest first). The configuration is validated up front; an invalid one
// fails construction rather than being silently corrected.
func NewChunker(levels []canopy.Level, opts ...ChunkerOption) (*Chunker, error) {
	if err := canopy.ValidateLevels(levels); err != nil {
		return nil, err
	}
	c := &Chunker{levels: levels}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Depth returns the number of configured levels (the leaf level).
func (c *Chunker) Depth() int { return len(c.levels) }

type span struct{ start, end int }

type pageSpan struct {
	number     int
	start, end int
}

// BuildTree chunks a document into a complete tree and returns its nodes,
// roots first in pre-order. An empty document yields no nodes and no error.
func (c *Chunker) BuildTree(documentID string, pages []Page) ([]canopy.Node, error) {
	if documentID == "" {
		return nil, &canopy.ChunkingError{DocumentID: documentID, Reason: "empty document id"}
	}

	text, pspans := joinPages(pages)
	if text == "" {
		return nil, nil
	}

	bounds := mergeBoundaries(sentenceBoundaries(text), paragraphBoundaries(text))

	var nodes []canopy.Node
	for _, sp := range c.splitSpan(text, bounds, span{0, len(text)}, c.levels[0]) {
		c.build(&nodes, text, bounds, pspans, documentID, 1, sp, "")
	}

	if c.logger != nil {
		c.logger.Debug("tree built",
			"document_id", documentID,
			"levels", len(c.levels),
			"nodes", len(nodes))
	}
	return nodes, nil
}

// build creates the node for sp at the given level and recurses into the
// next level. Returns the node's id.
func (c *Chunker) build(nodes *[]canopy.Node, text string, bounds []int, pspans []pageSpan, documentID string, level int, sp span, parentID string) string {
	id := canopy.NewID()
	pageStart, pageEnd := pageRange(pspans, sp)

	idx := len(*nodes)
	*nodes = append(*nodes, canopy.Node{
		ID:          id,
		Level:       level,
		Text:        text[sp.start:sp.end],
		TokenCount:  EstimateTokens(text[sp.start:sp.end]),
		ParentID:    parentID,
		StartOffset: sp.start,
		Source: canopy.SourceMetadata{
			DocumentID: documentID,
			PageStart:  pageStart,
			PageEnd:    pageEnd,
		},
	})

	if level < len(c.levels) {
		// A span already under the next level's target still produces a
		// single degenerate child, so every level is fully populated.
		childSpans := c.splitSpan(text, bounds, sp, c.levels[level])
		childIDs := make([]string, 0, len(childSpans))
		for _, cs := range childSpans {
			childIDs = append(childIDs, c.build(nodes, text, bounds, pspans, documentID, level+1, cs, id))
		}
		(*nodes)[idx].ChildrenIDs = childIDs
	}
	return id
}

// splitSpan partitions text[sp.start:sp.end] into consecutive segments for
// one level: greedy accumulation to the target at sentence/paragraph
// boundaries, with word boundaries as a fallback when a single sentence
// exceeds the target, and a trailing fragment below the minimum merged into
// its preceding sibling. A span with no usable boundary (a single long word)
// stays whole.
func (c *Chunker) splitSpan(text string, bounds []int, sp span, lv canopy.Level) []span {
	if sp.start >= sp.end {
		return nil
	}
	if EstimateTokens(text[sp.start:sp.end]) <= lv.TargetTokens {
		return []span{sp}
	}

	cuts := boundariesWithin(bounds, sp.start, sp.end)
	if len(cuts) == 0 {
		cuts = wordBoundaries(text, sp.start, sp.end)
	}
	if len(cuts) == 0 {
		return []span{sp}
	}

	var out []span
	cur := sp.start
	prev := sp.start
	acc := 0
	for _, cut := range cuts {
		acc += EstimateTokens(text[prev:cut])
		prev = cut
		if acc >= lv.TargetTokens {
			out = append(out, span{cur, cut})
			cur = cut
			acc = 0
		}
	}
	if cur < sp.end {
		if EstimateTokens(text[cur:sp.end]) < lv.MinTokens && len(out) > 0 {
			out[len(out)-1].end = sp.end
		} else {
			out = append(out, span{cur, sp.end})
		}
	}
	return out
}

// joinPages normalizes page texts and joins them with a blank line, keeping
// each page's byte range for source metadata.
func joinPages(pages []Page) (string, []pageSpan) {
	var b strings.Builder
	var pspans []pageSpan
	for _, p := range pages {
		t := NormalizeText(p.Text)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		start := b.Len()
		b.WriteString(t)
		pspans = append(pspans, pageSpan{number: p.Number, start: start, end: b.Len()})
	}
	return b.String(), pspans
}

// pageRange returns the inclusive page numbers covering sp. A segment that
// spans a page break records the whole covering range.
func pageRange(pspans []pageSpan, sp span) (int, int) {
	first, last := 0, 0
	for _, p := range pspans {
		if p.start < sp.end && p.end > sp.start {
			if first == 0 {
				first = p.number
			}
			last = p.number
		}
	}
	if first == 0 && len(pspans) > 0 {
		// Span falls entirely inside a page joiner; attribute it to the
		// preceding page.
		for _, p := range pspans {
			if p.end <= sp.start {
				first, last = p.number, p.number
			}
		}
	}
	return first, last
}

// paragraphBoundaries returns byte positions at which a new paragraph
// (run of blank lines) starts.
func paragraphBoundaries(text string) []int {
	var cuts []int
	i := 0
	for i < len(text) {
		j := strings.Index(text[i:], "\n\n")
		if j < 0 {
			break
		}
		k := i + j
		for k < len(text) && text[k] == '\n' {
			k++
		}
		if k < len(text) {
			cuts = append(cuts, k)
		}
		i = k
	}
	return cuts
}

// mergeBoundaries merges two sorted boundary lists, deduplicated.
func mergeBoundaries(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}
