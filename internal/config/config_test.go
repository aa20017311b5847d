package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Retrieval.TopK != 10 || cfg.Retrieval.MergeThreshold != 2 {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if len(cfg.Chunking.Levels) == 0 {
		t.Error("no default levels")
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "canopy.toml")
	data := `
[retrieval]
top_k = 5
merge_threshold = 3

[embedding]
model = "custom-embed"
api_key = "file-key"

[database]
driver = "sqlite"
path = "custom.db"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Retrieval.TopK != 5 || cfg.Retrieval.MergeThreshold != 3 {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Embedding.Model != "custom-embed" {
		t.Errorf("model = %q", cfg.Embedding.Model)
	}
	if cfg.Database.Path != "custom.db" {
		t.Errorf("path = %q", cfg.Database.Path)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Generation.Model != "gpt-4o-mini" {
		t.Errorf("generation model = %q", cfg.Generation.Model)
	}
	// Generation key falls back to the embedding key.
	if cfg.Generation.APIKey != "file-key" {
		t.Errorf("generation key = %q", cfg.Generation.APIKey)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if cfg.Retrieval.TopK != 10 {
		t.Errorf("top_k = %d", cfg.Retrieval.TopK)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CANOPY_EMBEDDING_API_KEY", "env-key")
	t.Setenv("CANOPY_DATABASE_URL", "postgres://localhost/canopy")
	t.Setenv("CANOPY_TOP_K", "7")
	t.Setenv("CANOPY_OBSERVER_ENABLED", "true")

	cfg := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if cfg.Embedding.APIKey != "env-key" {
		t.Errorf("api key = %q", cfg.Embedding.APIKey)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.URL != "postgres://localhost/canopy" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Retrieval.TopK != 7 {
		t.Errorf("top_k = %d", cfg.Retrieval.TopK)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer not enabled")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero top_k", func(c *Config) { c.Retrieval.TopK = 0 }},
		{"zero merge threshold", func(c *Config) { c.Retrieval.MergeThreshold = 0 }},
		{"zero context tokens", func(c *Config) { c.Retrieval.MaxContextTokens = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without url", func(c *Config) { c.Database.Driver = "postgres"; c.Database.URL = "" }},
		{"empty levels", func(c *Config) { c.Chunking.Levels = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
