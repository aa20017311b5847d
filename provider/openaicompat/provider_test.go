package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	canopy "github.com/canopyrag/canopy"
)

func TestEmbedding_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/embeddings" {
			t.Errorf("expected path /embeddings, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-embed" {
			t.Errorf("expected model test-embed, got %s", req.Model)
		}
		if len(req.Input) != 2 {
			t.Fatalf("expected 2 inputs, got %d", len(req.Input))
		}

		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose; Embed must restore input order by index.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	e := NewEmbedding("test-key", "test-embed", srv.URL)
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors not in input order: %v", vecs)
	}
}

func TestEmbedding_EmptyInput(t *testing.T) {
	e := NewEmbedding("k", "m", "http://unused.invalid")
	vecs, err := e.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("vecs=%v err=%v", vecs, err)
	}
}

func TestEmbedding_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	e := NewEmbedding("k", "m", srv.URL)
	_, err := e.Embed(context.Background(), []string{"x"})

	var httpErr *canopy.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected ErrHTTP, got %v", err)
	}
	if httpErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d", httpErr.Status)
	}
	if httpErr.RetryAfter != 30*time.Second {
		t.Errorf("retry after = %v", httpErr.RetryAfter)
	}
	if !strings.Contains(httpErr.Body, "rate limited") {
		t.Errorf("body = %q", httpErr.Body)
	}
}

func TestEmbedding_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{1}}},
		})
	}))
	defer srv.Close()

	e := NewEmbedding("k", "m", srv.URL)
	_, err := e.Embed(context.Background(), []string{"a", "b"})
	var embErr *canopy.EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected EmbeddingError, got %v", err)
	}
}

func TestGeneration_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Fatalf("messages = %+v", req.Messages)
		}
		if !strings.Contains(req.Messages[1].Content, "the moon is made of rock") {
			t.Errorf("context missing from user message: %q", req.Messages[1].Content)
		}
		if !strings.Contains(req.Messages[1].Content, "What is the moon made of?") {
			t.Errorf("question missing from user message: %q", req.Messages[1].Content)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "Rock."}},
			},
		})
	}))
	defer srv.Close()

	g := NewGeneration("test-key", "test-model", srv.URL)
	answer, err := g.Generate(context.Background(), "the moon is made of rock", "What is the moon made of?")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if answer != "Rock." {
		t.Errorf("answer = %q", answer)
	}
}

func TestGeneration_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	g := NewGeneration("k", "m", srv.URL)
	if _, err := g.Generate(context.Background(), "ctx", "q"); err == nil {
		t.Fatal("expected error")
	}
}

func TestGeneration_Options(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Temperature == nil || *req.Temperature != 0.2 {
			t.Errorf("temperature = %v", req.Temperature)
		}
		if req.MaxTokens != 256 {
			t.Errorf("max_tokens = %d", req.MaxTokens)
		}
		if req.Messages[0].Content != "Custom prompt." {
			t.Errorf("system prompt = %q", req.Messages[0].Content)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	g := NewGeneration("k", "m", srv.URL,
		WithSystemPrompt("Custom prompt."),
		WithTemperature(0.2),
		WithMaxTokens(256))
	if _, err := g.Generate(context.Background(), "ctx", "q"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}
