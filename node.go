package canopy

// --- Domain types ---

// SourceMetadata records where a node's text came from, for citation.
// PageStart and PageEnd are inclusive; a node spanning a page break covers
// the whole range.
type SourceMetadata struct {
	DocumentID string `json:"document_id"`
	PageStart  int    `json:"page_start"`
	PageEnd    int    `json:"page_end"`
}

// Node is one chunk of document text at a single level of a chunk tree.
// Level 1 is the coarsest tier; the deepest configured level holds the
// leaves. A node's text is always a contiguous span of the normalized
// document, and an internal node's text equals the concatenation of its
// children's text in order.
type Node struct {
	ID          string         `json:"id"`
	Level       int            `json:"level"`
	Text        string         `json:"text"`
	TokenCount  int            `json:"token_count"`
	ParentID    string         `json:"parent_id,omitempty"`
	ChildrenIDs []string       `json:"children_ids"`
	StartOffset int            `json:"start_offset"`
	Source      SourceMetadata `json:"source_metadata"`
	Embedding   []float32      `json:"-"`
}

// IsLeaf reports whether the node sits at the finest level of its tree.
// Only leaves carry embeddings and only leaves are indexed for search.
func (n Node) IsLeaf() bool { return len(n.ChildrenIDs) == 0 }

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool { return n.ParentID == "" }

// ScoredNode is a node paired with a retrieval or merge score. Cosine-based
// indexes produce scores in [-1, 1].
type ScoredNode struct {
	Node
	Score float32 `json:"score"`
}

// Match is a raw similarity hit from a VectorIndex: a leaf id and its score.
type Match struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

// StoreStats summarizes a NodeStore's contents.
type StoreStats struct {
	Documents    int         `json:"documents"`
	Nodes        int         `json:"nodes"`
	Leaves       int         `json:"leaves"`
	NodesByLevel map[int]int `json:"nodes_by_level"`
}
