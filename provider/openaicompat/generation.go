package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	canopy "github.com/canopyrag/canopy"
)

const defaultSystemPrompt = "You are a helpful assistant. Answer the question using only the provided context. If the context does not contain the answer, say so."

// Generation implements canopy.GenerationProvider against the
// /chat/completions endpoint.
type Generation struct {
	apiKey       string
	model        string
	baseURL      string
	client       *http.Client
	name         string
	systemPrompt string
	temperature  *float64
	maxTokens    int
}

// GenerationOption configures a Generation provider.
type GenerationOption func(*Generation)

// WithGenerationName overrides the provider name reported in errors and logs.
func WithGenerationName(name string) GenerationOption {
	return func(g *Generation) { g.name = name }
}

// WithSystemPrompt replaces the default grounding prompt.
func WithSystemPrompt(prompt string) GenerationOption {
	return func(g *Generation) { g.systemPrompt = prompt }
}

// WithTemperature sets the sampling temperature sent with every request.
func WithTemperature(t float64) GenerationOption {
	return func(g *Generation) { g.temperature = &t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) GenerationOption {
	return func(g *Generation) { g.maxTokens = n }
}

// WithGenerationHTTPClient replaces the default http.Client.
func WithGenerationHTTPClient(c *http.Client) GenerationOption {
	return func(g *Generation) { g.client = c }
}

var _ canopy.GenerationProvider = (*Generation)(nil)

// NewGeneration creates an OpenAI-compatible chat provider. The
// /chat/completions path is appended to baseURL automatically.
func NewGeneration(apiKey, model, baseURL string, opts ...GenerationOption) *Generation {
	g := &Generation{
		apiKey:       apiKey,
		model:        model,
		baseURL:      baseURL,
		client:       &http.Client{},
		name:         "openai",
		systemPrompt: defaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the provider name (default "openai").
func (g *Generation) Name() string { return g.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate answers a question grounded in the given context text.
func (g *Generation) Generate(ctx context.Context, contextText, question string) (string, error) {
	body := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: g.systemPrompt},
			{Role: "user", Content: "Context:\n" + contextText + "\n\nQuestion: " + question},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := g.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", httpErr(resp)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", g.name)
	}
	return chatResp.Choices[0].Message.Content, nil
}
