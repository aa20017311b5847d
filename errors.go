package canopy

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrNotFound is returned by NodeStore lookups for ids that do not exist.
var ErrNotFound = errors.New("node not found")

// ChunkingError reports malformed input to the chunker. It is recoverable:
// batch indexing skips the document, logs, and continues.
type ChunkingError struct {
	DocumentID string
	Reason     string
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunking %s: %s", e.DocumentID, e.Reason)
}

// EmbeddingError wraps a failure of the embedding provider.
type EmbeddingError struct {
	Provider string
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding unavailable (%s): %v", e.Provider, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// RetrievalError wraps a failure of the vector index.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval unavailable: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// ConfigError reports an invalid configuration value. Fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// ErrHTTP carries a provider's HTTP failure for the retry layer.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value: either delay seconds
// ("120") or an HTTP date. Returns 0 when absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
