// Package memory provides an in-memory NodeStore for tests, examples, and
// small corpora that fit in RAM. All operations are safe for concurrent use.
package memory

import (
	"context"
	"sync"

	canopy "github.com/canopyrag/canopy"
)

var _ canopy.NodeStore = (*Store)(nil)

// Store keeps chunk trees in maps guarded by a RWMutex. Per-document node
// order follows insertion order, which the chunker emits in pre-order.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]canopy.Node
	docs  map[string][]string
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		nodes: map[string]canopy.Node{},
		docs:  map[string][]string{},
	}
}

func (s *Store) Put(ctx context.Context, node canopy.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[node.ID]; !exists {
		doc := node.Source.DocumentID
		s.docs[doc] = append(s.docs[doc], node.ID)
	}
	s.nodes[node.ID] = node
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (canopy.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return canopy.Node{}, canopy.ErrNotFound
	}
	return n, nil
}

func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]canopy.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]canopy.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Store) ChildrenOf(ctx context.Context, id string) ([]canopy.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, canopy.ErrNotFound
	}
	out := make([]canopy.Node, 0, len(n.ChildrenIDs))
	for _, cid := range n.ChildrenIDs {
		if c, ok := s.nodes[cid]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) ParentOf(ctx context.Context, id string) (canopy.Node, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return canopy.Node{}, false, canopy.ErrNotFound
	}
	if n.ParentID == "" {
		return canopy.Node{}, false, nil
	}
	p, ok := s.nodes[n.ParentID]
	if !ok {
		return canopy.Node{}, false, nil
	}
	return p, true, nil
}

func (s *Store) AllLeaves(ctx context.Context) ([]canopy.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []canopy.Node
	for _, ids := range s.docs {
		for _, id := range ids {
			if n := s.nodes[id]; n.IsLeaf() {
				out = append(out, n)
			}
		}
	}
	return out, nil
}

func (s *Store) LeavesOf(ctx context.Context, documentID string) ([]canopy.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []canopy.Node
	for _, id := range s.docs[documentID] {
		if n := s.nodes[id]; n.IsLeaf() {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Store) ReplaceDocument(ctx context.Context, documentID string, nodes []canopy.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteDocumentLocked(documentID)
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		s.nodes[n.ID] = n
		ids[i] = n.ID
	}
	s.docs[documentID] = ids
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteDocumentLocked(documentID)
	return nil
}

func (s *Store) deleteDocumentLocked(documentID string) {
	for _, id := range s.docs[documentID] {
		delete(s.nodes, id)
	}
	delete(s.docs, documentID)
}

func (s *Store) Stats(ctx context.Context) (canopy.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := canopy.StoreStats{
		Documents:    len(s.docs),
		Nodes:        len(s.nodes),
		NodesByLevel: map[int]int{},
	}
	for _, n := range s.nodes {
		st.NodesByLevel[n.Level]++
		if n.IsLeaf() {
			st.Leaves++
		}
	}
	return st, nil
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = map[string]canopy.Node{}
	s.docs = map[string][]string{}
	return nil
}

func (s *Store) Close() error { return nil }
