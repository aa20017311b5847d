// Package sqlite implements canopy.NodeStore and canopy.VectorIndex using
// pure-Go SQLite with in-process brute-force vector search. Zero CGO
// required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	canopy "github.com/canopyrag/canopy"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store persists chunk trees in a local SQLite file. Leaf embeddings are
// stored as JSON text in the same table, so the Store doubles as a
// canopy.VectorIndex with brute-force cosine search done in-process.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ canopy.NodeStore = (*Store)(nil)
var _ canopy.VectorIndex = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		level INTEGER NOT NULL,
		text TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		parent_id TEXT,
		children_ids TEXT NOT NULL DEFAULT '[]',
		start_offset INTEGER NOT NULL,
		page_start INTEGER NOT NULL DEFAULT 0,
		page_end INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL,
		embedding TEXT
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_nodes_document ON nodes(document_id, seq)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

const nodeColumns = `id, document_id, level, text, token_count, parent_id, children_ids, start_offset, page_start, page_end, embedding`

// Put inserts or replaces a single node, preserving its position within the
// document when the node already exists.
func (s *Store) Put(ctx context.Context, node canopy.Node) error {
	start := time.Now()
	s.logger.Debug("sqlite: put node", "id", node.ID, "level", node.Level, "document_id", node.Source.DocumentID)

	var seq int
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM nodes WHERE id = ?`, node.ID).Scan(&seq)
	if err == sql.ErrNoRows {
		err = s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq)+1, 0) FROM nodes WHERE document_id = ?`,
			node.Source.DocumentID).Scan(&seq)
	}
	if err != nil {
		return fmt.Errorf("node seq: %w", err)
	}

	if err := s.insertNode(ctx, s.db.ExecContext, node, seq); err != nil {
		s.logger.Error("sqlite: put node failed", "id", node.ID, "error", err, "duration", time.Since(start))
		return err
	}
	s.logger.Debug("sqlite: put node ok", "id", node.ID, "duration", time.Since(start))
	return nil
}

type execFunc func(ctx context.Context, query string, args ...any) (sql.Result, error)

func (s *Store) insertNode(ctx context.Context, exec execFunc, node canopy.Node, seq int) error {
	childJSON := []byte("[]")
	if len(node.ChildrenIDs) > 0 {
		childJSON, _ = json.Marshal(node.ChildrenIDs)
	}
	var parentID *string
	if node.ParentID != "" {
		parentID = &node.ParentID
	}
	var embJSON *string
	if len(node.Embedding) > 0 {
		v := serializeEmbedding(node.Embedding)
		embJSON = &v
	}
	_, err := exec(ctx,
		`INSERT OR REPLACE INTO nodes (`+nodeColumns+`, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, node.Source.DocumentID, node.Level, node.Text, node.TokenCount,
		parentID, string(childJSON), node.StartOffset, node.Source.PageStart, node.Source.PageEnd,
		embJSON, seq,
	)
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

// Get returns the node with the given id, or canopy.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (canopy.Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return canopy.Node{}, canopy.ErrNotFound
	}
	if err != nil {
		return canopy.Node{}, fmt.Errorf("get node: %w", err)
	}
	return n, nil
}

// GetByIDs returns the nodes matching ids. Missing ids are silently omitted.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]canopy.Node, error) {
	start := time.Now()
	if len(ids) == 0 {
		return nil, nil
	}
	s.logger.Debug("sqlite: get nodes", "count", len(ids))

	// The id list is bounded by the retrieval working set, so per-id
	// lookups through the single shared connection stay cheap.
	out := make([]canopy.Node, 0, len(ids))
	for _, id := range ids {
		n, err := s.Get(ctx, id)
		if err == canopy.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	s.logger.Debug("sqlite: get nodes ok", "requested", len(ids), "found", len(out), "duration", time.Since(start))
	return out, nil
}

// ChildrenOf returns a node's children in document order.
func (s *Store) ChildrenOf(ctx context.Context, id string) ([]canopy.Node, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	children, err := s.GetByIDs(ctx, n.ChildrenIDs)
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", id, err)
	}
	return children, nil
}

// ParentOf returns a node's parent. ok is false for roots.
func (s *Store) ParentOf(ctx context.Context, id string) (canopy.Node, bool, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return canopy.Node{}, false, err
	}
	if n.ParentID == "" {
		return canopy.Node{}, false, nil
	}
	p, err := s.Get(ctx, n.ParentID)
	if err == canopy.ErrNotFound {
		return canopy.Node{}, false, nil
	}
	if err != nil {
		return canopy.Node{}, false, err
	}
	return p, true, nil
}

// AllLeaves returns every leaf node across all documents.
func (s *Store) AllLeaves(ctx context.Context) ([]canopy.Node, error) {
	return s.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE children_ids = '[]' ORDER BY document_id, seq`)
}

// LeavesOf returns one document's leaves in document order.
func (s *Store) LeavesOf(ctx context.Context, documentID string) ([]canopy.Node, error) {
	return s.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE document_id = ? AND children_ids = '[]' ORDER BY seq`,
		documentID)
}

// ReplaceDocument atomically replaces a document's whole subtree.
func (s *Store) ReplaceDocument(ctx context.Context, documentID string, nodes []canopy.Node) error {
	start := time.Now()
	s.logger.Debug("sqlite: replace document", "document_id", documentID, "nodes", len(nodes))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete previous nodes: %w", err)
	}
	for i, n := range nodes {
		if err := s.insertNode(ctx, tx.ExecContext, n, i); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: replace document commit failed", "document_id", documentID, "error", err)
		return err
	}
	s.logger.Debug("sqlite: replace document ok", "document_id", documentID, "nodes", len(nodes), "duration", time.Since(start))
	return nil
}

// DeleteDocument removes a document's subtree.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete document", "document_id", documentID)

	if _, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	s.logger.Debug("sqlite: delete document ok", "document_id", documentID, "duration", time.Since(start))
	return nil
}

// Stats reports document and node counts.
func (s *Store) Stats(ctx context.Context) (canopy.StoreStats, error) {
	st := canopy.StoreStats{NodesByLevel: map[int]int{}}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT document_id), COUNT(*),
		        COUNT(CASE WHEN children_ids = '[]' THEN 1 END)
		 FROM nodes`).Scan(&st.Documents, &st.Nodes, &st.Leaves)
	if err != nil {
		return canopy.StoreStats{}, fmt.Errorf("stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT level, COUNT(*) FROM nodes GROUP BY level`)
	if err != nil {
		return canopy.StoreStats{}, fmt.Errorf("stats by level: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var level, count int
		if err := rows.Scan(&level, &count); err != nil {
			return canopy.StoreStats{}, fmt.Errorf("scan stats: %w", err)
		}
		st.NodesByLevel[level] = count
	}
	return st, rows.Err()
}

// Reset clears everything.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nodes`); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// --- VectorIndex ---

// Upsert attaches an embedding to an existing leaf row. The node must have
// been stored first; an unknown id returns canopy.ErrNotFound.
func (s *Store) Upsert(ctx context.Context, id string, vector []float32, meta canopy.SourceMetadata) error {
	emb := serializeEmbedding(vector)
	res, err := s.db.ExecContext(ctx, `UPDATE nodes SET embedding = ? WHERE id = ?`, emb, id)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return canopy.ErrNotFound
	}
	return nil
}

// Query scans all embedded leaves and ranks them by cosine similarity.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]canopy.Match, error) {
	start := time.Now()
	s.logger.Debug("sqlite: query", "k", k, "embedding_dim", len(vector))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM nodes WHERE children_ids = '[]' AND embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var matches []canopy.Match
	scanned := 0
	for rows.Next() {
		var id, embJSON string
		if err := rows.Scan(&id, &embJSON); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		scanned++
		emb, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
		}
		matches = append(matches, canopy.Match{ID: id, Score: cosineSimilarity(vector, emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	s.logger.Debug("sqlite: query ok", "scanned", scanned, "returned", len(matches), "duration", time.Since(start))
	return matches, nil
}

// Delete removes a leaf's embedding, leaving the node itself in place.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE nodes SET embedding = NULL WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	return nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (canopy.Node, error) {
	var n canopy.Node
	var parentID, embJSON sql.NullString
	var childJSON string
	err := row.Scan(&n.ID, &n.Source.DocumentID, &n.Level, &n.Text, &n.TokenCount,
		&parentID, &childJSON, &n.StartOffset, &n.Source.PageStart, &n.Source.PageEnd, &embJSON)
	if err != nil {
		return canopy.Node{}, err
	}
	if parentID.Valid {
		n.ParentID = parentID.String
	}
	if childJSON != "" && childJSON != "[]" {
		_ = json.Unmarshal([]byte(childJSON), &n.ChildrenIDs)
	}
	if embJSON.Valid {
		n.Embedding, _ = deserializeEmbedding(embJSON.String)
	}
	return n, nil
}

func (s *Store) queryNodes(ctx context.Context, query string, args ...any) ([]canopy.Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []canopy.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return out, nil
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
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
