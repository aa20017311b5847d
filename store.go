package canopy

import "context"

// NodeStore persists chunk trees: nodes keyed by id with parent/child links.
// Lookups by id are O(1) or O(log n). Sibling order within one document's
// tree is preserved exactly as constructed. Concurrent readers are safe;
// writers for the same document must be serialized by the caller (the
// ingest.Indexer holds a per-document lock).
type NodeStore interface {
	// Put inserts or replaces a single node.
	Put(ctx context.Context, node Node) error
	// Get returns the node with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (Node, error)
	// GetByIDs returns the nodes matching ids. Missing ids are silently
	// omitted so callers can tolerate stale references.
	GetByIDs(ctx context.Context, ids []string) ([]Node, error)
	// ChildrenOf returns a node's children in document order.
	ChildrenOf(ctx context.Context, id string) ([]Node, error)
	// ParentOf returns a node's parent. ok is false for roots.
	ParentOf(ctx context.Context, id string) (parent Node, ok bool, err error)
	// AllLeaves returns every leaf node across all documents.
	AllLeaves(ctx context.Context) ([]Node, error)
	// LeavesOf returns one document's leaves in document order.
	LeavesOf(ctx context.Context, documentID string) ([]Node, error)
	// ReplaceDocument atomically replaces a document's whole subtree.
	ReplaceDocument(ctx context.Context, documentID string, nodes []Node) error
	// DeleteDocument removes a document's subtree.
	DeleteDocument(ctx context.Context, documentID string) error
	// Stats reports node counts per level.
	Stats(ctx context.Context) (StoreStats, error)
	// Reset clears everything.
	Reset(ctx context.Context) error
	// Close releases underlying resources.
	Close() error
}

// VectorIndex is the external similarity index. Only leaf node ids are ever
// upserted; Query returns ids ranked by descending similarity.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, meta SourceMetadata) error
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
	Delete(ctx context.Context, id string) error
	Reset(ctx context.Context) error
}
