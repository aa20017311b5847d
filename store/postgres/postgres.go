// Package postgres implements canopy.NodeStore and canopy.VectorIndex using
// PostgreSQL with pgvector for native vector similarity search over leaf
// embeddings.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	canopy "github.com/canopyrag/canopy"
)

// Store implements canopy.NodeStore backed by PostgreSQL with pgvector.
// Vector search uses HNSW indexes with cosine distance.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// better index optimization and catching dimension mismatches at insert time.
// Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Higher values improve index quality at the cost of
// slower builds. Default: pgvector's 64.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate list
// size). Higher values improve recall at the cost of latency. Default:
// pgvector's 40. Applied during Init().
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

var _ canopy.NodeStore = (*Store)(nil)
var _ canopy.VectorIndex = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, the nodes table, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			level INTEGER NOT NULL,
			text TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			parent_id TEXT,
			children_ids TEXT[] NOT NULL DEFAULT '{}',
			start_offset INTEGER NOT NULL,
			page_start INTEGER NOT NULL DEFAULT 0,
			page_end INTEGER NOT NULL DEFAULT 0,
			seq INTEGER NOT NULL,
			embedding %s
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS nodes_document_idx ON nodes(document_id, seq)`,
		`CREATE INDEX IF NOT EXISTS nodes_parent_idx ON nodes(parent_id)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS nodes_embedding_idx ON nodes USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return fmt.Errorf("postgres: set ef_search: %w", err)
		}
	}

	return nil
}

const nodeColumns = `id, document_id, level, text, token_count, parent_id, children_ids, start_offset, page_start, page_end`

// Put inserts or replaces a single node, appending it to its document's
// sequence when new.
func (s *Store) Put(ctx context.Context, node canopy.Node) error {
	var parentID *string
	if node.ParentID != "" {
		parentID = &node.ParentID
	}
	children := node.ChildrenIDs
	if children == nil {
		children = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO nodes (`+nodeColumns+`, seq)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		         (SELECT COALESCE(MAX(seq)+1, 0) FROM nodes WHERE document_id = $2))
		 ON CONFLICT (id) DO UPDATE SET
		   document_id = EXCLUDED.document_id,
		   level = EXCLUDED.level,
		   text = EXCLUDED.text,
		   token_count = EXCLUDED.token_count,
		   parent_id = EXCLUDED.parent_id,
		   children_ids = EXCLUDED.children_ids,
		   start_offset = EXCLUDED.start_offset,
		   page_start = EXCLUDED.page_start,
		   page_end = EXCLUDED.page_end`,
		node.ID, node.Source.DocumentID, node.Level, node.Text, node.TokenCount,
		parentID, children, node.StartOffset, node.Source.PageStart, node.Source.PageEnd)
	if err != nil {
		return fmt.Errorf("postgres: put node: %w", err)
	}
	if len(node.Embedding) > 0 {
		return s.Upsert(ctx, node.ID, node.Embedding, node.Source)
	}
	return nil
}

// Get returns the node with the given id, or canopy.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (canopy.Node, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id)
	n, err := scanNode(row)
	if err == pgx.ErrNoRows {
		return canopy.Node{}, canopy.ErrNotFound
	}
	if err != nil {
		return canopy.Node{}, fmt.Errorf("postgres: get node: %w", err)
	}
	return n, nil
}

// GetByIDs returns the nodes matching ids in the requested order.
// Missing ids are silently omitted.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]canopy.Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	nodes, err := s.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]canopy.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	out := make([]canopy.Node, 0, len(nodes))
	for _, id := range ids {
		if n, ok := byID[id]; ok {
			out = append(out, n)
			delete(byID, id)
		}
	}
	return out, nil
}

// ChildrenOf returns a node's children in document order.
func (s *Store) ChildrenOf(ctx context.Context, id string) ([]canopy.Node, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.GetByIDs(ctx, n.ChildrenIDs)
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
		`SELECT `+nodeColumns+` FROM nodes WHERE children_ids = '{}' ORDER BY document_id, seq`)
}

// LeavesOf returns one document's leaves in document order.
func (s *Store) LeavesOf(ctx context.Context, documentID string) ([]canopy.Node, error) {
	return s.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE document_id = $1 AND children_ids = '{}' ORDER BY seq`,
		documentID)
}

// ReplaceDocument atomically replaces a document's whole subtree.
func (s *Store) ReplaceDocument(ctx context.Context, documentID string, nodes []canopy.Node) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM nodes WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("postgres: delete previous nodes: %w", err)
	}
	for i, n := range nodes {
		var parentID *string
		if n.ParentID != "" {
			parentID = &n.ParentID
		}
		children := n.ChildrenIDs
		if children == nil {
			children = []string{}
		}
		var embStr *string
		if len(n.Embedding) > 0 {
			v := serializeEmbedding(n.Embedding)
			embStr = &v
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO nodes (`+nodeColumns+`, seq, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::vector)`,
			n.ID, n.Source.DocumentID, n.Level, n.Text, n.TokenCount,
			parentID, children, n.StartOffset, n.Source.PageStart, n.Source.PageEnd,
			i, embStr)
		if err != nil {
			return fmt.Errorf("postgres: insert node: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: replace document: %w", err)
	}
	return nil
}

// DeleteDocument removes a document's subtree.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM nodes WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("postgres: delete document: %w", err)
	}
	return nil
}

// Stats reports document and node counts.
func (s *Store) Stats(ctx context.Context) (canopy.StoreStats, error) {
	st := canopy.StoreStats{NodesByLevel: map[int]int{}}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT document_id), COUNT(*),
		        COUNT(*) FILTER (WHERE children_ids = '{}')
		 FROM nodes`).Scan(&st.Documents, &st.Nodes, &st.Leaves)
	if err != nil {
		return canopy.StoreStats{}, fmt.Errorf("postgres: stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT level, COUNT(*) FROM nodes GROUP BY level`)
	if err != nil {
		return canopy.StoreStats{}, fmt.Errorf("postgres: stats by level: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var level, count int
		if err := rows.Scan(&level, &count); err != nil {
			return canopy.StoreStats{}, fmt.Errorf("postgres: scan stats: %w", err)
		}
		st.NodesByLevel[level] = count
	}
	return st, rows.Err()
}

// Reset clears everything.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM nodes`); err != nil {
		return fmt.Errorf("postgres: reset: %w", err)
	}
	return nil
}

// Close is a no-op; the caller owns the pool.
func (s *Store) Close() error { return nil }

// --- VectorIndex ---

// Upsert attaches an embedding to an existing leaf row. The node must have
// been stored first; an unknown id returns canopy.ErrNotFound.
func (s *Store) Upsert(ctx context.Context, id string, vector []float32, meta canopy.SourceMetadata) error {
	embStr := serializeEmbedding(vector)
	tag, err := s.pool.Exec(ctx,
		`UPDATE nodes SET embedding = $1::vector WHERE id = $2`, embStr, id)
	if err != nil {
		return fmt.Errorf("postgres: upsert embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return canopy.ErrNotFound
	}
	return nil
}

// Query ranks embedded leaves by cosine similarity using the HNSW index.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]canopy.Match, error) {
	embStr := serializeEmbedding(vector)
	rows, err := s.pool.Query(ctx,
		`SELECT id, 1 - (embedding <=> $1::vector) AS score
		 FROM nodes
		 WHERE children_ids = '{}' AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector, id
		 LIMIT $2`,
		embStr, k)
	if err != nil {
		return nil, fmt.Errorf("postgres: query embeddings: %w", err)
	}
	defer rows.Close()

	var matches []canopy.Match
	for rows.Next() {
		var m canopy.Match
		if err := rows.Scan(&m.ID, &m.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Delete removes a leaf's embedding, leaving the node itself in place.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE nodes SET embedding = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete embedding: %w", err)
	}
	return nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (canopy.Node, error) {
	var n canopy.Node
	var parentID *string
	var children []string
	err := row.Scan(&n.ID, &n.Source.DocumentID, &n.Level, &n.Text, &n.TokenCount,
		&parentID, &children, &n.StartOffset, &n.Source.PageStart, &n.Source.PageEnd)
	if err != nil {
		return canopy.Node{}, err
	}
	if parentID != nil {
		n.ParentID = *parentID
	}
	if len(children) > 0 {
		n.ChildrenIDs = children
	}
	return n, nil
}

func (s *Store) queryNodes(ctx context.Context, query string, args ...any) ([]canopy.Node, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query nodes: %w", err)
	}
	defer rows.Close()

	var out []canopy.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// serializeEmbedding converts []float32 to pgvector's text literal.
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
