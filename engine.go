package canopy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Citation points a consumer at the source span behind one piece of the
// assembled context.
type Citation struct {
	Source SourceMetadata `json:"source"`
	Score  float32        `json:"score"`
}

// Answer is the result of one end-to-end query.
type Answer struct {
	Text      string     `json:"text"`
	Context   string     `json:"context"`
	Citations []Citation `json:"citations"`
}

// Engine sequences a query end to end: embed the question, retrieve leaf
// hits, auto-merge them into coherent context, assemble the context within a
// token budget, and hand it to the generation provider.
type Engine struct {
	retriever Retriever
	merger    *AutoMergeEngine
	embedding EmbeddingProvider
	generator GenerationProvider

	topK             int
	maxContextTokens int
	logger           *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTopK sets how many leaf hits are requested per query (default 10).
func WithTopK(k int) EngineOption {
	return func(e *Engine) { e.topK = k }
}

// WithMaxContextTokens sets the assembled context budget (default 3000).
// When the merged set exceeds it, the lowest-scoring nodes are dropped first.
func WithMaxContextTokens(n int) EngineOption {
	return func(e *Engine) { e.maxContextTokens = n }
}

// WithRetriever replaces the default BaseRetriever, e.g. with an
// instrumented wrapper.
func WithRetriever(r Retriever) EngineOption {
	return func(e *Engine) { e.retriever = r }
}

// WithEngineLogger sets a structured logger for query-time operations.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine. threshold is the auto-merge threshold;
// generator may be nil when only Retrieve is used.
func NewEngine(store NodeStore, index VectorIndex, embedding EmbeddingProvider, generator GenerationProvider, threshold int, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		retriever:        NewBaseRetriever(index),
		embedding:        embedding,
		generator:        generator,
		topK:             10,
		maxContextTokens: 3000,
		logger:           nopLogger,
	}
	for _, o := range opts {
		o(e)
	}
	if e.topK < 1 {
		return nil, &ConfigError{Field: "top_k", Reason: "must be >= 1"}
	}
	if e.maxContextTokens < 1 {
		return nil, &ConfigError{Field: "max_context_tokens", Reason: "must be >= 1"}
	}
	merger, err := NewAutoMergeEngine(store, threshold, WithMergeLogger(e.logger))
	if err != nil {
		return nil, err
	}
	e.merger = merger
	return e, nil
}

// Retrieve embeds the question, queries the index, and runs the merge pass.
// The returned set is ordered by descending score.
func (e *Engine) Retrieve(ctx context.Context, question string) ([]ScoredNode, error) {
	start := time.Now()

	embs, err := e.embedding.Embed(ctx, []string{question})
	if err != nil {
		return nil, &EmbeddingError{Provider: e.embedding.Name(), Err: err}
	}
	if len(embs) == 0 {
		return nil, &EmbeddingError{Provider: e.embedding.Name(), Err: fmt.Errorf("no embedding returned")}
	}

	matches, err := e.retriever.Retrieve(ctx, embs[0], e.topK)
	if err != nil {
		return nil, err
	}

	merged, err := e.merger.Merge(ctx, matches)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("retrieve ok",
		"hits", len(matches),
		"merged", len(merged),
		"duration", time.Since(start))
	return merged, nil
}

// BuildContext concatenates the nodes' text in their given order, truncated
// to the token budget. Over budget, the lowest-scoring nodes are dropped
// first; the single best node always survives even if it alone exceeds the
// budget.
func (e *Engine) BuildContext(nodes []ScoredNode) (string, []Citation) {
	if len(nodes) == 0 {
		return "", nil
	}

	total := 0
	for _, n := range nodes {
		total += n.TokenCount
	}

	kept := make([]bool, len(nodes))
	for i := range kept {
		kept[i] = true
	}
	remaining := len(nodes)
	for total > e.maxContextTokens && remaining > 1 {
		lowest := -1
		for i, n := range nodes {
			if !kept[i] {
				continue
			}
			if lowest == -1 || n.Score < nodes[lowest].Score {
				lowest = i
			}
		}
		kept[lowest] = false
		total -= nodes[lowest].TokenCount
		remaining--
	}

	var b strings.Builder
	var citations []Citation
	for i, n := range nodes {
		if !kept[i] {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(n.Text)
		citations = append(citations, Citation{Source: n.Source, Score: n.Score})
	}
	return b.String(), citations
}

// Ask runs one query end to end and returns the generated answer together
// with the context it was grounded in.
func (e *Engine) Ask(ctx context.Context, question string) (Answer, error) {
	if e.generator == nil {
		return Answer{}, &ConfigError{Field: "generator", Reason: "no generation provider configured"}
	}

	nodes, err := e.Retrieve(ctx, question)
	if err != nil {
		return Answer{}, err
	}

	contextText, citations := e.BuildContext(nodes)

	text, err := e.generator.Generate(ctx, contextText, question)
	if err != nil {
		return Answer{}, fmt.Errorf("generate: %w", err)
	}

	return Answer{Text: text, Context: contextText, Citations: citations}, nil
}
