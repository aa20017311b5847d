// Package canopy builds multi-level chunk trees over documents and retrieves
// coherent context from them with auto-merge retrieval.
//
// Indexing splits a document into a hierarchy of nodes (coarse sections down
// to fine-grained leaves), embeds only the leaves, and stores the tree. At
// query time the fine-grained similarity hits are walked back up the tree:
// when enough siblings of one parent are present in the result set, they are
// replaced by that parent, so the generator receives whole sections instead
// of fragments.
//
// # Quick Start
//
//	store := memory.NewStore()
//	index := memindex.NewIndex()
//	embedding := openaicompat.NewEmbedding(apiKey, "text-embedding-3-small", "https://api.openai.com/v1")
//	generator := openaicompat.NewGeneration(apiKey, "gpt-4o-mini", "https://api.openai.com/v1")
//
//	indexer, _ := ingest.NewIndexer(store, index, embedding)
//	indexer.IndexFile(ctx, pdfBytes, "report.pdf")
//
//	engine, _ := canopy.NewEngine(store, index, embedding, generator, 2)
//	answer, _ := engine.Ask(ctx, "What were the Q4 results?")
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [NodeStore]: persistence for chunk trees
//   - [VectorIndex]: similarity search over leaf embeddings
//   - [EmbeddingProvider]: text-to-vector embedding
//   - [GenerationProvider]: answer generation from context plus question
//   - [Retriever]: scored leaf lookup for a query embedding
//
// # Included Implementations
//
// Storage: store/memory (in-process), store/sqlite (local file, also a
// VectorIndex), store/postgres (pgvector). Vector index: index/memory.
// Providers: provider/openaicompat (any OpenAI-compatible API).
//
// See the cmd/canopy directory for a complete CLI.
package canopy
