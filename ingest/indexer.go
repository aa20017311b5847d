package ingest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	canopy "github.com/canopyrag/canopy"
)

// Result holds the outcome of indexing one document.
type Result struct {
	DocumentID string
	Source     string
	Nodes      int
	Leaves     int
}

// ProgressSink receives a notification after each document is indexed.
// Used by IndexDir to report per-file progress.
type ProgressSink interface {
	OnIndexed(Result)
}

// Indexer provides end-to-end indexing: extract → chunk tree → embed leaves
// → store → vector index. Leaf embeddings go to the vector index; interior
// nodes are stored without embeddings and only ever surface through merging.
type Indexer struct {
	store      canopy.NodeStore
	index      canopy.VectorIndex
	embedding  canopy.EmbeddingProvider
	chunker    *Chunker
	extractors map[ContentType]Extractor
	batchSize  int
	progress   ProgressSink
	logger     *slog.Logger

	// per-document write serialization
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIndexer creates an Indexer with the default level configuration and
// extractors for plain text, HTML, markdown and PDF.
func NewIndexer(store canopy.NodeStore, index canopy.VectorIndex, emb canopy.EmbeddingProvider, opts ...Option) (*Indexer, error) {
	chunker, err := NewChunker(canopy.DefaultLevels())
	if err != nil {
		return nil, err
	}
	ing := &Indexer{
		store:     store,
		index:     index,
		embedding: emb,
		chunker:   chunker,
		extractors: map[ContentType]Extractor{
			TypePlainText: PlainTextExtractor{},
			TypeHTML:      NewHTMLExtractor(),
			TypeMarkdown:  NewMarkdownExtractor(),
			TypePDF:       NewPDFExtractor(),
		},
		batchSize: 64,
		locks:     map[string]*sync.Mutex{},
	}
	for _, o := range opts {
		o(ing)
	}
	return ing, nil
}

// IndexText indexes plain text content under the given source name.
// Returns the id of the new document.
func (ing *Indexer) IndexText(ctx context.Context, text, source string) (Result, error) {
	pages, err := PlainTextExtractor{}.Extract([]byte(text))
	if err != nil {
		return Result{}, err
	}
	return ing.IndexPages(ctx, canopy.NewID(), source, pages)
}

// IndexFile indexes file content, detecting the extractor from the filename
// extension. Unknown extensions fall back to plain text.
func (ing *Indexer) IndexFile(ctx context.Context, content []byte, filename string) (Result, error) {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	ct := ContentTypeFromExtension(ext)

	extractor, ok := ing.extractors[ct]
	if !ok {
		extractor = PlainTextExtractor{}
	}

	pages, err := extractor.Extract(content)
	if err != nil {
		return Result{}, fmt.Errorf("extract %s: %w", ct, err)
	}
	return ing.IndexPages(ctx, canopy.NewID(), filename, pages)
}

// IndexReader reads all content from r and indexes it, detecting the
// extractor from filename.
func (ing *Indexer) IndexReader(ctx context.Context, r io.Reader, filename string) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("read: %w", err)
	}
	return ing.IndexFile(ctx, data, filename)
}

// IndexPages indexes already-extracted pages as one document. Re-indexing an
// existing documentID replaces its tree and index entries atomically with
// respect to other writers of the same document.
func (ing *Indexer) IndexPages(ctx context.Context, documentID, source string, pages []Page) (Result, error) {
	nodes, err := ing.chunker.BuildTree(documentID, pages)
	if err != nil {
		return Result{}, err
	}
	if len(nodes) == 0 {
		if ing.logger != nil {
			ing.logger.Debug("document empty after extraction, skipping", "source", source)
		}
		return Result{DocumentID: documentID, Source: source}, nil
	}

	leaves := make([]*canopy.Node, 0, len(nodes))
	for i := range nodes {
		if nodes[i].IsLeaf() {
			leaves = append(leaves, &nodes[i])
		}
	}

	if err := ing.batchEmbed(ctx, leaves); err != nil {
		return Result{}, err
	}

	unlock := ing.lockDocument(documentID)
	defer unlock()

	// Clear stale index entries from a previous version of this document
	// before the tree is replaced.
	old, err := ing.store.LeavesOf(ctx, documentID)
	if err != nil {
		return Result{}, fmt.Errorf("lookup previous leaves: %w", err)
	}
	for _, n := range old {
		if err := ing.index.Delete(ctx, n.ID); err != nil {
			return Result{}, fmt.Errorf("index delete %s: %w", n.ID, err)
		}
	}

	if err := ing.store.ReplaceDocument(ctx, documentID, nodes); err != nil {
		return Result{}, fmt.Errorf("store: %w", err)
	}
	for _, n := range leaves {
		if err := ing.index.Upsert(ctx, n.ID, n.Embedding, n.Source); err != nil {
			return Result{}, fmt.Errorf("index upsert %s: %w", n.ID, err)
		}
	}

	res := Result{
		DocumentID: documentID,
		Source:     source,
		Nodes:      len(nodes),
		Leaves:     len(leaves),
	}
	if ing.logger != nil {
		ing.logger.Info("document indexed",
			"document_id", documentID,
			"source", source,
			"nodes", res.Nodes,
			"leaves", res.Leaves)
	}
	if ing.progress != nil {
		ing.progress.OnIndexed(res)
	}
	return res, nil
}

// IndexDir walks a directory tree and indexes every regular file with a
// recognized extension. Files that fail to index are logged and skipped so a
// single bad file does not abort the walk. Returns the results of the files
// that succeeded.
func (ing *Indexer) IndexDir(ctx context.Context, dir string) ([]Result, error) {
	var results []Result
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		content, err := os.ReadFile(path)
		if err != nil {
			if ing.logger != nil {
				ing.logger.Warn("read failed, skipping", "path", path, "err", err)
			}
			return nil
		}
		res, err := ing.IndexFile(ctx, content, path)
		if err != nil {
			if ing.logger != nil {
				ing.logger.Warn("index failed, skipping", "path", path, "err", err)
			}
			return nil
		}
		results = append(results, res)
		return nil
	})
	if err != nil {
		return results, fmt.Errorf("walk %s: %w", dir, err)
	}
	return results, nil
}

// Remove deletes a document's tree and its index entries.
func (ing *Indexer) Remove(ctx context.Context, documentID string) error {
	unlock := ing.lockDocument(documentID)
	defer unlock()

	leaves, err := ing.store.LeavesOf(ctx, documentID)
	if err != nil {
		return fmt.Errorf("lookup leaves: %w", err)
	}
	for _, n := range leaves {
		if err := ing.index.Delete(ctx, n.ID); err != nil {
			return fmt.Errorf("index delete %s: %w", n.ID, err)
		}
	}
	if err := ing.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Reset clears the store and the vector index.
func (ing *Indexer) Reset(ctx context.Context) error {
	if err := ing.index.Reset(ctx); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}
	if err := ing.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	return nil
}

// batchEmbed embeds leaf texts in batches of ing.batchSize and assigns the
// vectors in place.
func (ing *Indexer) batchEmbed(ctx context.Context, leaves []*canopy.Node) error {
	if len(leaves) == 0 {
		return nil
	}

	for i := 0; i < len(leaves); i += ing.batchSize {
		end := i + ing.batchSize
		if end > len(leaves) {
			end = len(leaves)
		}

		batch := leaves[i:end]
		texts := make([]string, len(batch))
		for j, n := range batch {
			texts[j] = n.Text
		}

		embeddings, err := ing.embedding.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		if len(embeddings) != len(batch) {
			return &canopy.EmbeddingError{
				Provider: ing.embedding.Name(),
				Err:      fmt.Errorf("got %d vectors for %d texts", len(embeddings), len(batch)),
			}
		}

		for j := range batch {
			batch[j].Embedding = embeddings[j]
		}
	}
	return nil
}

func (ing *Indexer) lockDocument(documentID string) func() {
	ing.mu.Lock()
	l, ok := ing.locks[documentID]
	if !ok {
		l = &sync.Mutex{}
		ing.locks[documentID] = l
	}
	ing.mu.Unlock()

	l.Lock()
	return l.Unlock
}
