package canopy

import (
	"context"
	"log/slog"
	"sort"
)

// AutoMergeEngine collapses fine-grained retrieval hits into coherent larger
// context. Starting from the retrieved leaves it walks the tree upward,
// level by level: whenever at least threshold children of one parent are
// present in the working set, those children are replaced by the parent.
// The promoted parent carries the maximum score among the children it
// replaced.
//
// The pass is read-only against the store, idempotent (a merged set admits
// no further grouping), never merges across documents, and never promotes
// past a root.
type AutoMergeEngine struct {
	store     NodeStore
	threshold int
	logger    *slog.Logger
}

// MergeOption configures an AutoMergeEngine.
type MergeOption func(*AutoMergeEngine)

// WithMergeLogger sets a structured logger. Stale references dropped from
// the working set are logged at WARN. If not set, no output.
func WithMergeLogger(l *slog.Logger) MergeOption {
	return func(e *AutoMergeEngine) { e.logger = l }
}

// NewAutoMergeEngine creates an engine over store. threshold is the minimum
// number of one parent's children that must be simultaneously present in the
// working set to trigger promotion; it must be at least 1.
func NewAutoMergeEngine(store NodeStore, threshold int, opts ...MergeOption) (*AutoMergeEngine, error) {
	if threshold < 1 {
		return nil, &ConfigError{Field: "merge_threshold", Reason: "must be >= 1"}
	}
	e := &AutoMergeEngine{store: store, threshold: threshold, logger: nopLogger}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Threshold returns the configured merge threshold.
func (e *AutoMergeEngine) Threshold() int { return e.threshold }

type mergeEntry struct {
	node  Node
	score float32
}

// Merge runs the bottom-up merge pass over a retrieval result set and
// returns the final working set ordered by descending score, ties broken by
// document order (earliest covered offset).
//
// Ids absent from the store (stale index entries) are skipped, not fatal.
// An empty store or empty input yields an empty set.
func (e *AutoMergeEngine) Merge(ctx context.Context, matches []Match) ([]ScoredNode, error) {
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	nodes, err := e.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	working := make(map[string]*mergeEntry, len(matches))
	for _, m := range matches {
		n, ok := byID[m.ID]
		if !ok {
			e.logger.Warn("stale reference dropped", "id", m.ID)
			continue
		}
		if cur, ok := working[n.ID]; ok {
			if m.Score > cur.score {
				cur.score = m.Score
			}
			continue
		}
		working[n.ID] = &mergeEntry{node: n, score: m.Score}
	}

	// Walk upward until no group of siblings meets the threshold. Each pass
	// may enable the next one (promoted parents regroup under their own
	// parents), so iterate to a fixed point.
	for {
		groups := make(map[string][]*mergeEntry)
		for _, en := range working {
			if en.node.IsRoot() {
				continue
			}
			groups[en.node.ParentID] = append(groups[en.node.ParentID], en)
		}

		var promoteIDs []string
		for parentID, members := range groups {
			if len(members) >= e.threshold {
				promoteIDs = append(promoteIDs, parentID)
			}
		}
		if len(promoteIDs) == 0 {
			break
		}

		parents, err := e.store.GetByIDs(ctx, promoteIDs)
		if err != nil {
			return nil, err
		}
		parentByID := make(map[string]Node, len(parents))
		for _, p := range parents {
			parentByID[p.ID] = p
		}

		promoted := false
		for _, parentID := range promoteIDs {
			parent, ok := parentByID[parentID]
			if !ok {
				e.logger.Warn("stale parent reference, group left unmerged", "id", parentID)
				continue
			}
			// Seed from the first member so all-negative groups keep the
			// true maximum.
			merged := groups[parentID][0].score
			for _, m := range groups[parentID] {
				if m.score > merged {
					merged = m.score
				}
				delete(working, m.node.ID)
			}
			if cur, ok := working[parent.ID]; ok {
				// Parent already promoted through another path; keep one
				// entry with the best score.
				if merged > cur.score {
					cur.score = merged
				}
			} else {
				working[parent.ID] = &mergeEntry{node: parent, score: merged}
			}
			promoted = true
		}
		if !promoted {
			break
		}
	}

	out := make([]ScoredNode, 0, len(working))
	for _, en := range working {
		out = append(out, ScoredNode{Node: en.node, Score: en.score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		a, b := out[i], out[j]
		if a.Source.DocumentID != b.Source.DocumentID {
			return a.Source.DocumentID < b.Source.DocumentID
		}
		if a.StartOffset != b.StartOffset {
			return a.StartOffset < b.StartOffset
		}
		return a.ID < b.ID
	})
	return out, nil
}
