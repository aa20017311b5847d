// Command canopy indexes documents into a chunk tree and answers questions
// against them.
//
// Usage:
//
//	canopy index <file-or-dir>...
//	canopy query <question>
//	canopy ask <question>
//	canopy stats
//	canopy remove <document-id>
//
// Configuration comes from canopy.toml (or CANOPY_CONFIG) with CANOPY_* env
// overrides.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	canopy "github.com/canopyrag/canopy"
	"github.com/canopyrag/canopy/ingest"
	"github.com/canopyrag/canopy/internal/config"
	"github.com/canopyrag/canopy/observer"
	"github.com/canopyrag/canopy/provider/openaicompat"
	"github.com/canopyrag/canopy/store/postgres"
	"github.com/canopyrag/canopy/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	cfg := config.Load(os.Getenv("CANOPY_CONFIG"))
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Store and index. SQLite serves both roles; postgres does too via
	// pgvector.
	var (
		store canopy.NodeStore
		index canopy.VectorIndex
	)
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		pg := postgres.New(pool, postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions))
		if err := pg.Init(ctx); err != nil {
			log.Fatalf("postgres init: %v", err)
		}
		store, index = pg, pg
	default:
		db := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
		if err := db.Init(ctx); err != nil {
			log.Fatalf("sqlite init: %v", err)
		}
		defer db.Close()
		store, index = db, db
	}

	embedding := canopy.EmbeddingProvider(openaicompat.NewEmbedding(
		cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.BaseURL,
		openaicompat.WithEmbeddingDimensions(cfg.Embedding.Dimensions)))
	generator := canopy.GenerationProvider(openaicompat.NewGeneration(
		cfg.Generation.APIKey, cfg.Generation.Model, cfg.Generation.BaseURL))

	embedding = canopy.WithEmbeddingRetry(embedding, canopy.RetryLogger(logger))
	generator = canopy.WithGenerationRetry(generator, canopy.RetryLogger(logger))

	var engineOpts []canopy.EngineOption
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			log.Fatalf("observer: %v", err)
		}
		defer shutdown(ctx) //nolint:errcheck
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
		generator = observer.WrapGeneration(generator, cfg.Generation.Model, inst)
		engineOpts = append(engineOpts,
			canopy.WithRetriever(observer.WrapRetriever(canopy.NewBaseRetriever(index), inst)))
	}

	switch os.Args[1] {
	case "index":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		chunker, err := ingest.NewChunker(cfg.Chunking.Levels, ingest.WithChunkerLogger(logger))
		if err != nil {
			log.Fatalf("chunker: %v", err)
		}
		indexer, err := ingest.NewIndexer(store, index, embedding,
			ingest.WithChunkLevels(chunker),
			ingest.WithBatchSize(cfg.Embedding.BatchSize),
			ingest.WithLogger(logger))
		if err != nil {
			log.Fatalf("indexer: %v", err)
		}
		runIndex(ctx, indexer, os.Args[2:])

	case "query", "ask":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		engineOpts = append(engineOpts,
			canopy.WithTopK(cfg.Retrieval.TopK),
			canopy.WithMaxContextTokens(cfg.Retrieval.MaxContextTokens),
			canopy.WithEngineLogger(logger))
		engine, err := canopy.NewEngine(store, index, embedding, generator,
			cfg.Retrieval.MergeThreshold, engineOpts...)
		if err != nil {
			log.Fatalf("engine: %v", err)
		}
		question := strings.Join(os.Args[2:], " ")
		if os.Args[1] == "query" {
			runQuery(ctx, engine, question)
		} else {
			runAsk(ctx, engine, question)
		}

	case "stats":
		st, err := store.Stats(ctx)
		if err != nil {
			log.Fatalf("stats: %v", err)
		}
		fmt.Printf("documents: %d\nnodes: %d\nleaves: %d\n", st.Documents, st.Nodes, st.Leaves)
		for level := 1; ; level++ {
			count, ok := st.NodesByLevel[level]
			if !ok {
				break
			}
			fmt.Printf("level %d: %d\n", level, count)
		}

	case "remove":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		indexer, err := ingest.NewIndexer(store, index, embedding)
		if err != nil {
			log.Fatalf("indexer: %v", err)
		}
		if err := indexer.Remove(ctx, os.Args[2]); err != nil {
			log.Fatalf("remove: %v", err)
		}

	default:
		usage()
		os.Exit(2)
	}
}

func runIndex(ctx context.Context, indexer *ingest.Indexer, paths []string) {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			log.Fatalf("stat %s: %v", path, err)
		}
		if info.IsDir() {
			results, err := indexer.IndexDir(ctx, path)
			if err != nil {
				log.Fatalf("index %s: %v", path, err)
			}
			for _, r := range results {
				fmt.Printf("%s  %s  (%d nodes, %d leaves)\n", r.DocumentID, r.Source, r.Nodes, r.Leaves)
			}
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read %s: %v", path, err)
		}
		r, err := indexer.IndexFile(ctx, content, path)
		if err != nil {
			log.Fatalf("index %s: %v", path, err)
		}
		fmt.Printf("%s  %s  (%d nodes, %d leaves)\n", r.DocumentID, r.Source, r.Nodes, r.Leaves)
	}
}

func runQuery(ctx context.Context, engine *canopy.Engine, question string) {
	nodes, err := engine.Retrieve(ctx, question)
	if err != nil {
		log.Fatalf("query: %v", err)
	}
	for _, n := range nodes {
		fmt.Printf("--- score=%.4f level=%d doc=%s pages=%d-%d\n%s\n\n",
			n.Score, n.Level, n.Source.DocumentID, n.Source.PageStart, n.Source.PageEnd, n.Text)
	}
}

func runAsk(ctx context.Context, engine *canopy.Engine, question string) {
	answer, err := engine.Ask(ctx, question)
	if err != nil {
		log.Fatalf("ask: %v", err)
	}
	fmt.Println(answer.Text)
	if len(answer.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, c := range answer.Citations {
			fmt.Printf("  %s pages %d-%d (score %.4f)\n",
				c.Source.DocumentID, c.Source.PageStart, c.Source.PageEnd, c.Score)
		}
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  canopy index <file-or-dir>...
  canopy query <question>
  canopy ask <question>
  canopy stats
  canopy remove <document-id>`)
}
