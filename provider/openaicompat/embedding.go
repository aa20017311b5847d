// Package openaicompat implements canopy.EmbeddingProvider and
// canopy.GenerationProvider for any OpenAI-compatible API.
//
// Works with OpenAI, OpenRouter, Groq, Together, Fireworks, DeepSeek,
// Mistral, Ollama, vLLM, LM Studio, Azure OpenAI, and any other provider
// that implements the OpenAI embeddings and chat completions APIs.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	canopy "github.com/canopyrag/canopy"
)

// Embedding implements canopy.EmbeddingProvider against the /embeddings
// endpoint.
type Embedding struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	name       string
	dimensions int
}

// EmbeddingOption configures an Embedding provider.
type EmbeddingOption func(*Embedding)

// WithEmbeddingName overrides the provider name reported in errors and logs.
func WithEmbeddingName(name string) EmbeddingOption {
	return func(e *Embedding) { e.name = name }
}

// WithEmbeddingDimensions declares the expected vector width. Some backends
// also accept it as a request parameter to truncate the output; when set it
// is sent along with every request.
func WithEmbeddingDimensions(d int) EmbeddingOption {
	return func(e *Embedding) { e.dimensions = d }
}

// WithEmbeddingHTTPClient replaces the default http.Client.
func WithEmbeddingHTTPClient(c *http.Client) EmbeddingOption {
	return func(e *Embedding) { e.client = c }
}

var _ canopy.EmbeddingProvider = (*Embedding)(nil)

// NewEmbedding creates an OpenAI-compatible embedding provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "http://localhost:11434/v1"). The /embeddings path is appended
// automatically.
func NewEmbedding(apiKey, model, baseURL string, opts ...EmbeddingOption) *Embedding {
	e := &Embedding{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the provider name (default "openai").
func (e *Embedding) Name() string { return e.name }

// Dimensions returns the configured vector width, or 0 when unknown.
func (e *Embedding) Dimensions() int { return e.dimensions }

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := embeddingRequest{Model: e.model, Input: texts, Dimensions: e.dimensions}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &canopy.EmbeddingError{Provider: e.name, Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := e.baseURL + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &canopy.EmbeddingError{Provider: e.name, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &canopy.EmbeddingError{Provider: e.name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpErr(resp)
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, &canopy.EmbeddingError{Provider: e.name, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(embResp.Data) != len(texts) {
		return nil, &canopy.EmbeddingError{
			Provider: e.name,
			Err:      fmt.Errorf("got %d embeddings for %d inputs", len(embResp.Data), len(texts)),
		}
	}

	out := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, &canopy.EmbeddingError{Provider: e.name, Err: fmt.Errorf("embedding index %d out of range", d.Index)}
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// httpErr reads the response body and returns an ErrHTTP for retry
// middleware. Parses the Retry-After header when present (429/503).
func httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &canopy.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: canopy.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}
