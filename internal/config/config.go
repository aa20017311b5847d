package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	canopy "github.com/canopyrag/canopy"
)

type Config struct {
	Chunking   ChunkingConfig   `toml:"chunking"`
	Retrieval  RetrievalConfig  `toml:"retrieval"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Generation GenerationConfig `toml:"generation"`
	Database   DatabaseConfig   `toml:"database"`
	Observer   ObserverConfig   `toml:"observer"`
}

type ChunkingConfig struct {
	Levels []canopy.Level `toml:"levels"`
}

type RetrievalConfig struct {
	TopK             int `toml:"top_k"`
	MergeThreshold   int `toml:"merge_threshold"`
	MaxContextTokens int `toml:"max_context_tokens"`
}

type EmbeddingConfig struct {
	Model      string `toml:"model"`
	BaseURL    string `toml:"base_url"`
	APIKey     string `toml:"api_key"`
	Dimensions int    `toml:"dimensions"`
	BatchSize  int    `toml:"batch_size"`
}

type GenerationConfig struct {
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

type DatabaseConfig struct {
	// Driver selects the backend: "sqlite" (default) or "postgres".
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	URL    string `toml:"url"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Chunking: ChunkingConfig{Levels: canopy.DefaultLevels()},
		Retrieval: RetrievalConfig{
			TopK:             10,
			MergeThreshold:   2,
			MaxContextTokens: 3000,
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			BaseURL:   "https://api.openai.com/v1",
			BatchSize: 64,
		},
		Generation: GenerationConfig{
			Model:   "gpt-4o-mini",
			BaseURL: "https://api.openai.com/v1",
		},
		Database: DatabaseConfig{Driver: "sqlite", Path: "canopy.db"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "canopy.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("CANOPY_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("CANOPY_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("CANOPY_GENERATION_API_KEY"); v != "" {
		cfg.Generation.APIKey = v
	}
	if v := os.Getenv("CANOPY_GENERATION_BASE_URL"); v != "" {
		cfg.Generation.BaseURL = v
	}
	if v := os.Getenv("CANOPY_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		cfg.Database.Driver = "postgres"
	}
	if v := os.Getenv("CANOPY_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("CANOPY_MERGE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.MergeThreshold = n
		}
	}
	if os.Getenv("CANOPY_OBSERVER_ENABLED") == "true" || os.Getenv("CANOPY_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Generation.APIKey == "" {
		cfg.Generation.APIKey = cfg.Embedding.APIKey
	}

	return cfg
}

// Validate reports the first invalid field. Called once at startup; an
// invalid config is fatal rather than silently corrected.
func (c Config) Validate() error {
	if err := canopy.ValidateLevels(c.Chunking.Levels); err != nil {
		return err
	}
	if c.Retrieval.TopK < 1 {
		return &canopy.ConfigError{Field: "retrieval.top_k", Reason: "must be >= 1"}
	}
	if c.Retrieval.MergeThreshold < 1 {
		return &canopy.ConfigError{Field: "retrieval.merge_threshold", Reason: "must be >= 1"}
	}
	if c.Retrieval.MaxContextTokens < 1 {
		return &canopy.ConfigError{Field: "retrieval.max_context_tokens", Reason: "must be >= 1"}
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return &canopy.ConfigError{Field: "database.driver", Reason: "must be sqlite or postgres"}
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return &canopy.ConfigError{Field: "database.url", Reason: "required for postgres"}
	}
	return nil
}
