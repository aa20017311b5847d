package ingest

import "strings"

// EstimateTokens gives a rough token count for chunk sizing.
// Exact tokenization is not required here; a word-based estimate
// (~1.33 tokens per English word) tracks real tokenizers closely enough
// for target/min band decisions.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	tokens := int(float64(words) * 1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
