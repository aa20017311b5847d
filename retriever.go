package canopy

import (
	"context"
	"sort"
)

// Retriever returns scored leaf ids for a query embedding.
// Implementations must order results by descending similarity, breaking ties
// by id, so that repeated queries are deterministic.
type Retriever interface {
	Retrieve(ctx context.Context, queryEmbedding []float32, k int) ([]Match, error)
}

// BaseRetriever delegates nearest-neighbor search to a VectorIndex. Its own
// responsibility is narrow: validate k, issue the query, and normalize the
// ordering of the result set.
type BaseRetriever struct {
	index VectorIndex
}

var _ Retriever = (*BaseRetriever)(nil)

// NewBaseRetriever creates a Retriever over the given index.
func NewBaseRetriever(index VectorIndex) *BaseRetriever {
	return &BaseRetriever{index: index}
}

// Retrieve returns up to k leaf matches ordered by descending similarity,
// ties broken by leaf id. An unreachable index surfaces as *RetrievalError.
func (r *BaseRetriever) Retrieve(ctx context.Context, queryEmbedding []float32, k int) ([]Match, error) {
	if k < 1 {
		return nil, &ConfigError{Field: "top_k", Reason: "must be >= 1"}
	}
	matches, err := r.index.Query(ctx, queryEmbedding, k)
	if err != nil {
		return nil, &RetrievalError{Err: err}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
