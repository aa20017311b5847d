package canopy

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryConfig holds the shared settings for the retry wrappers.
type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // overall timeout across all attempts; 0 = no limit
	logger      *slog.Logger  // nil = nopLogger
}

// RetryOption configures a retry wrapper.
type RetryOption func(*retryConfig)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(c *retryConfig) { c.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt (default: 1s).
// Each subsequent delay doubles: baseDelay, 2×baseDelay, 4×baseDelay, …
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.baseDelay = d }
}

// RetryTimeout sets the overall timeout for the entire retry sequence. If the
// total time across all attempts exceeds this duration, the retry loop gives up
// and returns the last error. The zero value (default) disables the timeout.
func RetryTimeout(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.timeout = d }
}

// RetryLogger sets the structured logger for retry events. When set, retries
// log at WARN level and final failures after exhausting attempts log at ERROR.
// If not set, a no-op logger is used (no output).
func RetryLogger(l *slog.Logger) RetryOption {
	return func(c *retryConfig) { c.logger = l }
}

func buildRetryConfig(opts []RetryOption) retryConfig {
	cfg := retryConfig{maxAttempts: 3, baseDelay: time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	return cfg
}

// withTimeout returns a child context with a deadline if cfg.timeout is set.
// If timeout is zero or ctx already has an earlier deadline, returns ctx unchanged.
func (c retryConfig) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	deadline := time.Now().Add(c.timeout)
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

// isTransient reports whether err is a retryable HTTP error (429 or 503).
func isTransient(err error) bool {
	var e *ErrHTTP
	return errors.As(err, &e) && (e.Status == 429 || e.Status == 503)
}

// statusOf extracts the HTTP status code from an ErrHTTP, or 0.
func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryAfterOf extracts the Retry-After duration from an ErrHTTP, or 0.
func retryAfterOf(err error) time.Duration {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// retryDelay computes the delay before retry attempt i, using exponential
// backoff as a floor and the server's Retry-After value (if present) as a
// minimum. The effective delay is max(backoff, retryAfter).
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	if ra := retryAfterOf(err); ra > backoff {
		return ra
	}
	return backoff
}

// retryBackoff returns the delay for retry i (0-indexed).
// Exponential: base * 2^i, plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// retryCall calls fn up to maxAttempts times, sleeping between transient failures.
func retryCall[T any](ctx context.Context, cfg retryConfig, name string, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for i := 0; i < cfg.maxAttempts; i++ {
		result, err := fn()
		if err == nil || !isTransient(err) {
			return result, err
		}
		last = err
		cfg.logger.Warn("retrying transient error",
			"target", name,
			"status", statusOf(err),
			"attempt", i+1,
			"max_attempts", cfg.maxAttempts)
		if i < cfg.maxAttempts-1 {
			delay := retryDelay(cfg.baseDelay, i, err)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	cfg.logger.Error("all retry attempts exhausted",
		"target", name,
		"attempts", cfg.maxAttempts,
		"error", last)
	return zero, last
}

// --- EmbeddingProvider ---

type retryEmbeddingProvider struct {
	inner EmbeddingProvider
	cfg   retryConfig
}

// WithEmbeddingRetry wraps p with automatic retry on transient HTTP errors
// (429, 503) using exponential backoff with jitter. When the error includes a
// Retry-After duration, the retry delay is at least that long. Compose with
// any EmbeddingProvider:
//
//	emb = canopy.WithEmbeddingRetry(openaicompat.NewEmbedding(apiKey, model, baseURL))
//	emb = canopy.WithEmbeddingRetry(emb, canopy.RetryMaxAttempts(5))
func WithEmbeddingRetry(p EmbeddingProvider, opts ...RetryOption) EmbeddingProvider {
	return &retryEmbeddingProvider{inner: p, cfg: buildRetryConfig(opts)}
}

func (r *retryEmbeddingProvider) Name() string    { return r.inner.Name() }
func (r *retryEmbeddingProvider) Dimensions() int { return r.inner.Dimensions() }

func (r *retryEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := r.cfg.withTimeout(ctx)
	defer cancel()
	return retryCall(ctx, r.cfg, r.inner.Name(), func() ([][]float32, error) {
		return r.inner.Embed(ctx, texts)
	})
}

// --- VectorIndex ---

type retryVectorIndex struct {
	inner VectorIndex
	cfg   retryConfig
}

// WithIndexRetry wraps an index with automatic retry on transient HTTP errors
// (429, 503). Accepts the same RetryOption functions as WithEmbeddingRetry.
// Query-side failures that survive all attempts surface to the caller as a
// single typed retrieval failure rather than retrying indefinitely.
func WithIndexRetry(ix VectorIndex, opts ...RetryOption) VectorIndex {
	return &retryVectorIndex{inner: ix, cfg: buildRetryConfig(opts)}
}

func (r *retryVectorIndex) Upsert(ctx context.Context, id string, vector []float32, meta SourceMetadata) error {
	ctx, cancel := r.cfg.withTimeout(ctx)
	defer cancel()
	_, err := retryCall(ctx, r.cfg, "index.upsert", func() (struct{}, error) {
		return struct{}{}, r.inner.Upsert(ctx, id, vector, meta)
	})
	return err
}

func (r *retryVectorIndex) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	ctx, cancel := r.cfg.withTimeout(ctx)
	defer cancel()
	return retryCall(ctx, r.cfg, "index.query", func() ([]Match, error) {
		return r.inner.Query(ctx, vector, k)
	})
}

func (r *retryVectorIndex) Delete(ctx context.Context, id string) error {
	ctx, cancel := r.cfg.withTimeout(ctx)
	defer cancel()
	_, err := retryCall(ctx, r.cfg, "index.delete", func() (struct{}, error) {
		return struct{}{}, r.inner.Delete(ctx, id)
	})
	return err
}

func (r *retryVectorIndex) Reset(ctx context.Context) error {
	ctx, cancel := r.cfg.withTimeout(ctx)
	defer cancel()
	_, err := retryCall(ctx, r.cfg, "index.reset", func() (struct{}, error) {
		return struct{}{}, r.inner.Reset(ctx)
	})
	return err
}

// --- GenerationProvider ---

type retryGenerationProvider struct {
	inner GenerationProvider
	cfg   retryConfig
}

// WithGenerationRetry wraps g with automatic retry on transient HTTP errors
// (429, 503). Accepts the same RetryOption functions as WithEmbeddingRetry.
func WithGenerationRetry(g GenerationProvider, opts ...RetryOption) GenerationProvider {
	return &retryGenerationProvider{inner: g, cfg: buildRetryConfig(opts)}
}

func (r *retryGenerationProvider) Name() string { return r.inner.Name() }

func (r *retryGenerationProvider) Generate(ctx context.Context, contextText, question string) (string, error) {
	ctx, cancel := r.cfg.withTimeout(ctx)
	defer cancel()
	return retryCall(ctx, r.cfg, r.inner.Name(), func() (string, error) {
		return r.inner.Generate(ctx, contextText, question)
	})
}

// compile-time checks
var (
	_ EmbeddingProvider  = (*retryEmbeddingProvider)(nil)
	_ VectorIndex        = (*retryVectorIndex)(nil)
	_ GenerationProvider = (*retryGenerationProvider)(nil)
)
