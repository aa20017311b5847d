package canopy

import (
	"context"
	"testing"
)

// fakeStore is a minimal in-memory NodeStore for merge tests.
type fakeStore struct {
	nodes map[string]Node
}

func newFakeStore(nodes ...Node) *fakeStore {
	s := &fakeStore{nodes: map[string]Node{}}
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	return s
}

func (s *fakeStore) Put(ctx context.Context, n Node) error {
	s.nodes[n.ID] = n
	return nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, ErrNotFound
	}
	return n, nil
}

func (s *fakeStore) GetByIDs(ctx context.Context, ids []string) ([]Node, error) {
	var out []Node
	for _, id := range ids {
		if n, ok := s.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeStore) ChildrenOf(ctx context.Context, id string) ([]Node, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.GetByIDs(ctx, n.ChildrenIDs)
}

func (s *fakeStore) ParentOf(ctx context.Context, id string) (Node, bool, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return Node{}, false, err
	}
	if n.ParentID == "" {
		return Node{}, false, nil
	}
	p, ok := s.nodes[n.ParentID]
	return p, ok, nil
}

func (s *fakeStore) AllLeaves(ctx context.Context) ([]Node, error) {
	var out []Node
	for _, n := range s.nodes {
		if n.IsLeaf() {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeStore) LeavesOf(ctx context.Context, documentID string) ([]Node, error) {
	var out []Node
	for _, n := range s.nodes {
		if n.Source.DocumentID == documentID && n.IsLeaf() {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeStore) ReplaceDocument(ctx context.Context, documentID string, nodes []Node) error {
	for id, n := range s.nodes {
		if n.Source.DocumentID == documentID {
			delete(s.nodes, id)
		}
	}
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	return nil
}

func (s *fakeStore) DeleteDocument(ctx context.Context, documentID string) error {
	for id, n := range s.nodes {
		if n.Source.DocumentID == documentID {
			delete(s.nodes, id)
		}
	}
	return nil
}

func (s *fakeStore) Stats(ctx context.Context) (StoreStats, error) {
	st := StoreStats{NodesByLevel: map[int]int{}}
	for _, n := range s.nodes {
		st.Nodes++
		st.NodesByLevel[n.Level]++
		if n.IsLeaf() {
			st.Leaves++
		}
	}
	return st, nil
}

func (s *fakeStore) Reset(ctx context.Context) error {
	s.nodes = map[string]Node{}
	return nil
}

func (s *fakeStore) Close() error { return nil }

// twoLevelTree builds one document: parent P with leaves L1..L3, plus an
// unrelated parent Q with leaf L4.
func twoLevelTree() *fakeStore {
	return newFakeStore(
		Node{ID: "P", Level: 1, Text: "alpha beta gamma", ChildrenIDs: []string{"L1", "L2", "L3"}, StartOffset: 0, Source: SourceMetadata{DocumentID: "doc1"}},
		Node{ID: "L1", Level: 2, Text: "alpha", ParentID: "P", StartOffset: 0, Source: SourceMetadata{DocumentID: "doc1"}},
		Node{ID: "L2", Level: 2, Text: "beta", ParentID: "P", StartOffset: 6, Source: SourceMetadata{DocumentID: "doc1"}},
		Node{ID: "L3", Level: 2, Text: "gamma", ParentID: "P", StartOffset: 11, Source: SourceMetadata{DocumentID: "doc1"}},
		Node{ID: "Q", Level: 1, Text: "delta", ChildrenIDs: []string{"L4"}, StartOffset: 17, Source: SourceMetadata{DocumentID: "doc1"}},
		Node{ID: "L4", Level: 2, Text: "delta", ParentID: "Q", StartOffset: 17, Source: SourceMetadata{DocumentID: "doc1"}},
	)
}

func TestMergeThresholdNotMet(t *testing.T) {
	e, err := NewAutoMergeEngine(twoLevelTree(), 2)
	if err != nil {
		t.Fatal(err)
	}
	out, err := e.Merge(context.Background(), []Match{{ID: "L1", Score: 0.9}})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != "L1" {
		t.Fatalf("expected L1 returned unchanged, got %+v", out)
	}
	if out[0].Score != 0.9 {
		t.Errorf("score changed: %v", out[0].Score)
	}
}

func TestMergePromotesSiblings(t *testing.T) {
	e, err := NewAutoMergeEngine(twoLevelTree(), 2)
	if err != nil {
		t.Fatal(err)
	}
	out, err := e.Merge(context.Background(), []Match{
		{ID: "L1", Score: 0.9},
		{ID: "L2", Score: 0.85},
		{ID: "L4", Score: 0.1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(out), out)
	}
	if out[0].ID != "P" {
		t.Fatalf("expected promoted parent P first, got %s", out[0].ID)
	}
	if out[0].Score != 0.9 {
		t.Errorf("promoted score should be max of children, got %v", out[0].Score)
	}
	if out[1].ID != "L4" {
		t.Errorf("expected L4 to survive untouched, got %s", out[1].ID)
	}
}

func TestMergeExactThreshold(t *testing.T) {
	e, _ := NewAutoMergeEngine(twoLevelTree(), 2)
	out, err := e.Merge(context.Background(), []Match{
		{ID: "L1", Score: 0.5},
		{ID: "L3", Score: 0.6},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Exactly threshold children of P present: promotion fires.
	if len(out) != 1 || out[0].ID != "P" {
		t.Fatalf("expected promotion at exact threshold, got %+v", out)
	}
	if out[0].Score != 0.6 {
		t.Errorf("score = %v, want 0.6", out[0].Score)
	}
}

func TestMergeNegativeScores(t *testing.T) {
	e, _ := NewAutoMergeEngine(twoLevelTree(), 2)
	// Cosine similarity can go negative; the promoted parent must still
	// carry the maximum child score, not zero.
	out, err := e.Merge(context.Background(), []Match{
		{ID: "L1", Score: -0.2},
		{ID: "L2", Score: -0.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != "P" {
		t.Fatalf("expected promotion, got %+v", out)
	}
	if out[0].Score != -0.2 {
		t.Errorf("merged score = %v, want max of children -0.2", out[0].Score)
	}
}

func TestMergeStaleIDSkipped(t *testing.T) {
	e, _ := NewAutoMergeEngine(twoLevelTree(), 2)
	out, err := e.Merge(context.Background(), []Match{
		{ID: "gone", Score: 0.99},
		{ID: "L1", Score: 0.4},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != "L1" {
		t.Fatalf("stale id should be dropped, got %+v", out)
	}
}

func TestMergeEmptyInput(t *testing.T) {
	e, _ := NewAutoMergeEngine(twoLevelTree(), 2)
	out, err := e.Merge(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %+v", out)
	}
}

func TestMergeIdempotent(t *testing.T) {
	e, _ := NewAutoMergeEngine(twoLevelTree(), 2)
	out, err := e.Merge(context.Background(), []Match{
		{ID: "L1", Score: 0.9},
		{ID: "L2", Score: 0.85},
	})
	if err != nil {
		t.Fatal(err)
	}

	again := make([]Match, len(out))
	for i, n := range out {
		again[i] = Match{ID: n.ID, Score: n.Score}
	}
	out2, err := e.Merge(context.Background(), again)
	if err != nil {
		t.Fatal(err)
	}
	if len(out2) != len(out) {
		t.Fatalf("second pass changed the set: %+v vs %+v", out, out2)
	}
	for i := range out {
		if out2[i].ID != out[i].ID || out2[i].Score != out[i].Score {
			t.Errorf("entry %d changed: %+v vs %+v", i, out[i], out2[i])
		}
	}
}

func TestMergeNeverCrossesDocuments(t *testing.T) {
	// Same parent id shape but different documents: leaves in doc2 parent to
	// R, never to P.
	store := twoLevelTree()
	store.nodes["R"] = Node{ID: "R", Level: 1, Text: "x y", ChildrenIDs: []string{"M1", "M2"}, Source: SourceMetadata{DocumentID: "doc2"}}
	store.nodes["M1"] = Node{ID: "M1", Level: 2, Text: "x", ParentID: "R", Source: SourceMetadata{DocumentID: "doc2"}}
	store.nodes["M2"] = Node{ID: "M2", Level: 2, Text: "y", ParentID: "R", StartOffset: 2, Source: SourceMetadata{DocumentID: "doc2"}}

	e, _ := NewAutoMergeEngine(store, 2)
	out, err := e.Merge(context.Background(), []Match{
		{ID: "L1", Score: 0.9},
		{ID: "M1", Score: 0.8},
		{ID: "M2", Score: 0.7},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected L1 + promoted R, got %+v", out)
	}
	if out[0].ID != "L1" || out[1].ID != "R" {
		t.Errorf("unexpected result order/content: %s, %s", out[0].ID, out[1].ID)
	}
}

func TestMergeCascadesUpward(t *testing.T) {
	// Three levels: root covers A and B; A's leaves both retrieved and B's
	// leaves both retrieved, threshold 2. A and B promote, then regroup under
	// the root and promote again.
	store := newFakeStore(
		Node{ID: "root", Level: 1, ChildrenIDs: []string{"A", "B"}, Source: SourceMetadata{DocumentID: "d"}},
		Node{ID: "A", Level: 2, ParentID: "root", ChildrenIDs: []string{"a1", "a2"}, Source: SourceMetadata{DocumentID: "d"}},
		Node{ID: "B", Level: 2, ParentID: "root", ChildrenIDs: []string{"b1", "b2"}, StartOffset: 10, Source: SourceMetadata{DocumentID: "d"}},
		Node{ID: "a1", Level: 3, ParentID: "A", Source: SourceMetadata{DocumentID: "d"}},
		Node{ID: "a2", Level: 3, ParentID: "A", StartOffset: 5, Source: SourceMetadata{DocumentID: "d"}},
		Node{ID: "b1", Level: 3, ParentID: "B", StartOffset: 10, Source: SourceMetadata{DocumentID: "d"}},
		Node{ID: "b2", Level: 3, ParentID: "B", StartOffset: 15, Source: SourceMetadata{DocumentID: "d"}},
	)
	e, _ := NewAutoMergeEngine(store, 2)
	out, err := e.Merge(context.Background(), []Match{
		{ID: "a1", Score: 0.7},
		{ID: "a2", Score: 0.6},
		{ID: "b1", Score: 0.5},
		{ID: "b2", Score: 0.8},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != "root" {
		t.Fatalf("expected full cascade to root, got %+v", out)
	}
	if out[0].Score != 0.8 {
		t.Errorf("root score = %v, want max 0.8", out[0].Score)
	}
}

func TestMergeRootNeverPromotes(t *testing.T) {
	store := twoLevelTree()
	e, _ := NewAutoMergeEngine(store, 1)
	// Threshold 1: every group promotes immediately. P and Q are roots, so
	// the pass must stop there.
	out, err := e.Merge(context.Background(), []Match{
		{ID: "L1", Score: 0.9},
		{ID: "L4", Score: 0.3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 roots, got %+v", out)
	}
	if out[0].ID != "P" || out[1].ID != "Q" {
		t.Errorf("got %s, %s", out[0].ID, out[1].ID)
	}
}

func TestMergeDuplicateMatches(t *testing.T) {
	e, _ := NewAutoMergeEngine(twoLevelTree(), 3)
	out, err := e.Merge(context.Background(), []Match{
		{ID: "L1", Score: 0.4},
		{ID: "L1", Score: 0.7},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Score != 0.7 {
		t.Fatalf("duplicates should collapse keeping max score, got %+v", out)
	}
}

func TestMergeOrdering(t *testing.T) {
	e, _ := NewAutoMergeEngine(twoLevelTree(), 3)
	out, err := e.Merge(context.Background(), []Match{
		{ID: "L2", Score: 0.5},
		{ID: "L1", Score: 0.5},
		{ID: "L4", Score: 0.9},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d entries", len(out))
	}
	// Highest score first; equal scores fall back to document order.
	if out[0].ID != "L4" || out[1].ID != "L1" || out[2].ID != "L2" {
		t.Errorf("order = %s, %s, %s", out[0].ID, out[1].ID, out[2].ID)
	}
}

func TestNewAutoMergeEngineRejectsBadThreshold(t *testing.T) {
	if _, err := NewAutoMergeEngine(twoLevelTree(), 0); err == nil {
		t.Fatal("expected error for threshold 0")
	}
}
