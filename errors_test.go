package canopy

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorUnwrapping(t *testing.T) {
	inner := errors.New("boom")

	var ee *EmbeddingError
	wrapped := fmt.Errorf("op: %w", &EmbeddingError{Provider: "openai", Err: inner})
	if !errors.As(wrapped, &ee) {
		t.Fatal("EmbeddingError not found in chain")
	}
	if !errors.Is(wrapped, inner) {
		t.Error("inner error lost through EmbeddingError")
	}

	var re *RetrievalError
	wrapped = fmt.Errorf("op: %w", &RetrievalError{Err: inner})
	if !errors.As(wrapped, &re) || !errors.Is(wrapped, inner) {
		t.Error("RetrievalError chain broken")
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	if d := ParseRetryAfter("120"); d != 120*time.Second {
		t.Errorf("got %v", d)
	}
	if d := ParseRetryAfter(""); d != 0 {
		t.Errorf("empty should be 0, got %v", d)
	}
	if d := ParseRetryAfter("not-a-value"); d != 0 {
		t.Errorf("garbage should be 0, got %v", d)
	}
	if d := ParseRetryAfter("-5"); d != 0 {
		t.Errorf("negative should be 0, got %v", d)
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(90 * time.Second).UTC().Format(time.RFC1123)
	d := ParseRetryAfter(future)
	if d < 80*time.Second || d > 90*time.Second {
		t.Errorf("got %v, want about 90s", d)
	}
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC1123)
	if d := ParseRetryAfter(past); d != 0 {
		t.Errorf("past date should be 0, got %v", d)
	}
}
