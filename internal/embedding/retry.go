package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryOptions configures WithRetry.
type RetryOptions struct {
	// Attempts is the total number of tries per call, including the first.
	Attempts int
	// Backoff is the wait before the second try; it doubles on each further try.
	Backoff time.Duration
	// RequestsPerSecond paces every provider call. Zero disables pacing.
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// RetryingEmbedder retries failed provider calls with exponential backoff and
// paces calls with a token bucket.
type RetryingEmbedder struct {
	Embedder
	attempts int
	backoff  time.Duration
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// WithRetry wraps e. Defaults are 3 attempts and a 200ms initial backoff.
func WithRetry(e Embedder, opts RetryOptions) *RetryingEmbedder {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &RetryingEmbedder{
		Embedder: e,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		logger:   opts.Logger,
	}
	if opts.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return r
}

// Embed embeds text, retrying on failure.
func (r *RetryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := r.do(ctx, "embed", func() error {
		var err error
		out, err = r.Embedder.Embed(ctx, text)
		return err
	})
	return out, err
}

// EmbedBatch embeds texts, retrying the whole batch on failure.
func (r *RetryingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := r.do(ctx, "embed_batch", func() error {
		var err error
		out, err = r.Embedder.EmbedBatch(ctx, texts)
		return err
	})
	return out, err
}

func (r *RetryingEmbedder) do(ctx context.Context, op string, call func() error) error {
	wait := r.backoff
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if r.limiter != nil {
			if werr := r.limiter.Wait(ctx); werr != nil {
				return werr
			}
		}
		if err = call(); err == nil {
			return nil
		}
		if attempt == r.attempts {
			break
		}
		r.logger.Warn("embedding call failed, retrying",
			zap.String("op", op),
			zap.String("model", r.ModelName()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}

// BatchFallbackEmbedder embeds item by item when the batch call fails, for
// providers without batch support.
type BatchFallbackEmbedder struct {
	Embedder
}

// WithBatchFallback wraps e.
func WithBatchFallback(e Embedder) *BatchFallbackEmbedder {
	return &BatchFallbackEmbedder{Embedder: e}
}

// EmbedBatch tries the batch call first, then single-item calls.
func (b *BatchFallbackEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := b.Embedder.EmbedBatch(ctx, texts)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return embedEach(ctx, b.Embedder, texts)
}
