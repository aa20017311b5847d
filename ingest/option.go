package ingest

import "log/slog"

// Option configures an Indexer.
type Option func(*Indexer)

// WithChunkLevels replaces the default level configuration. The levels must
// already be valid; construct the chunker directly to get validation errors.
func WithChunkLevels(c *Chunker) Option {
	return func(ing *Indexer) { ing.chunker = c }
}

// WithBatchSize sets the number of leaves per Embed() call (default 64).
func WithBatchSize(n int) Option {
	return func(ing *Indexer) {
		if n > 0 {
			ing.batchSize = n
		}
	}
}

// WithExtractor registers an Extractor for a given ContentType.
func WithExtractor(ct ContentType, e Extractor) Option {
	return func(ing *Indexer) { ing.extractors[ct] = e }
}

// WithProgress sets a sink notified after each indexed document.
func WithProgress(p ProgressSink) Option {
	return func(ing *Indexer) { ing.progress = p }
}

// WithLogger sets a structured logger for indexing operations.
func WithLogger(l *slog.Logger) Option {
	return func(ing *Indexer) { ing.logger = l }
}
