package memory

import (
	"context"
	"errors"
	"testing"

	canopy "github.com/canopyrag/canopy"
)

func seedDocument(t *testing.T, s *Store, docID string) (parent, leaf1, leaf2 canopy.Node) {
	t.Helper()
	parent = canopy.Node{
		ID: docID + "-p", Level: 1, Text: "alpha beta",
		ChildrenIDs: []string{docID + "-l1", docID + "-l2"},
		Source:      canopy.SourceMetadata{DocumentID: docID},
	}
	leaf1 = canopy.Node{
		ID: docID + "-l1", Level: 2, Text: "alpha ", ParentID: parent.ID,
		Source: canopy.SourceMetadata{DocumentID: docID},
	}
	leaf2 = canopy.Node{
		ID: docID + "-l2", Level: 2, Text: "beta", ParentID: parent.ID, StartOffset: 6,
		Source: canopy.SourceMetadata{DocumentID: docID},
	}
	err := s.ReplaceDocument(context.Background(), docID, []canopy.Node{parent, leaf1, leaf2})
	if err != nil {
		t.Fatal(err)
	}
	return parent, leaf1, leaf2
}

func TestGetNotFound(t *testing.T) {
	s := NewStore()
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, canopy.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestPutAndGet(t *testing.T) {
	s := NewStore()
	n := canopy.Node{ID: "a", Level: 1, Text: "hello", Source: canopy.SourceMetadata{DocumentID: "doc1"}}
	if err := s.Put(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "hello" {
		t.Errorf("text = %q", got.Text)
	}
}

func TestGetByIDsOmitsMissing(t *testing.T) {
	s := NewStore()
	_, leaf1, leaf2 := seedDocument(t, s, "doc1")

	got, err := s.GetByIDs(context.Background(), []string{leaf2.ID, "missing", leaf1.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d nodes", len(got))
	}
	if got[0].ID != leaf2.ID || got[1].ID != leaf1.ID {
		t.Error("input order not preserved")
	}
}

func TestChildrenOf(t *testing.T) {
	s := NewStore()
	parent, leaf1, leaf2 := seedDocument(t, s, "doc1")

	children, err := s.ChildrenOf(context.Background(), parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 || children[0].ID != leaf1.ID || children[1].ID != leaf2.ID {
		t.Fatalf("children = %+v", children)
	}
	if _, err := s.ChildrenOf(context.Background(), "missing"); !errors.Is(err, canopy.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestParentOf(t *testing.T) {
	s := NewStore()
	parent, leaf1, _ := seedDocument(t, s, "doc1")

	p, ok, err := s.ParentOf(context.Background(), leaf1.ID)
	if err != nil || !ok {
		t.Fatalf("ok = %v, err = %v", ok, err)
	}
	if p.ID != parent.ID {
		t.Errorf("parent = %s", p.ID)
	}
	if _, ok, err := s.ParentOf(context.Background(), parent.ID); ok || err != nil {
		t.Errorf("root: ok = %v, err = %v", ok, err)
	}
}

func TestLeavesOfDocumentOrder(t *testing.T) {
	s := NewStore()
	_, leaf1, leaf2 := seedDocument(t, s, "doc1")
	seedDocument(t, s, "doc2")

	leaves, err := s.LeavesOf(context.Background(), "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(leaves) != 2 || leaves[0].ID != leaf1.ID || leaves[1].ID != leaf2.ID {
		t.Fatalf("leaves = %+v", leaves)
	}

	all, err := s.AllLeaves(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("all leaves = %d", len(all))
	}
}

func TestReplaceDocumentDropsOldNodes(t *testing.T) {
	s := NewStore()
	_, leaf1, _ := seedDocument(t, s, "doc1")

	fresh := canopy.Node{ID: "new-root", Level: 1, Text: "replacement", Source: canopy.SourceMetadata{DocumentID: "doc1"}}
	if err := s.ReplaceDocument(context.Background(), "doc1", []canopy.Node{fresh}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(context.Background(), leaf1.ID); !errors.Is(err, canopy.ErrNotFound) {
		t.Error("old node survived replacement")
	}
	stats, _ := s.Stats(context.Background())
	if stats.Documents != 1 || stats.Nodes != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDeleteDocument(t *testing.T) {
	s := NewStore()
	seedDocument(t, s, "doc1")
	seedDocument(t, s, "doc2")

	if err := s.DeleteDocument(context.Background(), "doc1"); err != nil {
		t.Fatal(err)
	}
	stats, _ := s.Stats(context.Background())
	if stats.Documents != 1 || stats.Nodes != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStats(t *testing.T) {
	s := NewStore()
	seedDocument(t, s, "doc1")

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Documents != 1 || stats.Nodes != 3 || stats.Leaves != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.NodesByLevel[1] != 1 || stats.NodesByLevel[2] != 2 {
		t.Errorf("by level = %v", stats.NodesByLevel)
	}
}

func TestReset(t *testing.T) {
	s := NewStore()
	seedDocument(t, s, "doc1")

	if err := s.Reset(context.Background()); err != nil {
		t.Fatal(err)
	}
	stats, _ := s.Stats(context.Background())
	if stats.Nodes != 0 || stats.Documents != 0 {
		t.Errorf("stats = %+v", stats)
	}
}
