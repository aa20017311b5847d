// Package memory provides an in-memory VectorIndex using exhaustive cosine
// similarity. Suitable for tests and corpora up to a few hundred thousand
// leaves; larger deployments should use the postgres index.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	canopy "github.com/canopyrag/canopy"
)

var _ canopy.VectorIndex = (*Index)(nil)

type entry struct {
	vector []float32
	meta   canopy.SourceMetadata
}

// Index holds vectors in a map guarded by a RWMutex.
type Index struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewIndex creates an empty in-memory index.
func NewIndex() *Index {
	return &Index{entries: map[string]entry{}}
}

func (ix *Index) Upsert(ctx context.Context, id string, vector []float32, meta canopy.SourceMetadata) error {
	v := make([]float32, len(vector))
	copy(v, vector)
	ix.mu.Lock()
	ix.entries[id] = entry{vector: v, meta: meta}
	ix.mu.Unlock()
	return nil
}

func (ix *Index) Query(ctx context.Context, vector []float32, k int) ([]canopy.Match, error) {
	ix.mu.RLock()
	matches := make([]canopy.Match, 0, len(ix.entries))
	for id, e := range ix.entries {
		matches = append(matches, canopy.Match{ID: id, Score: cosineSimilarity(vector, e.vector)})
	}
	ix.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (ix *Index) Delete(ctx context.Context, id string) error {
	ix.mu.Lock()
	delete(ix.entries, id)
	ix.mu.Unlock()
	return nil
}

func (ix *Index) Reset(ctx context.Context) error {
	ix.mu.Lock()
	ix.entries = map[string]entry{}
	ix.mu.Unlock()
	return nil
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
