package canopy

import "context"

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}

// GenerationProvider abstracts the answer-generation model. Prompt assembly
// and decoding behavior belong to the implementation, not to this module.
type GenerationProvider interface {
	// Generate produces an answer to question grounded in contextText.
	Generate(ctx context.Context, contextText, question string) (string, error)
	// Name returns the provider name.
	Name() string
}
