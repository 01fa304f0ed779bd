package embedding

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/config"
)

// New builds the embedder selected by cfg.Provider. Remote providers are
// wrapped with single-item fallback, retry and an LRU cache; ONNX is cached only.
func New(ctx context.Context, cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var remote Embedder
	switch strings.ToLower(cfg.Provider) {
	case "", "mock":
		return NewMockEmbedder(cfg.Dimensions), nil
	case "onnx":
		e, err := NewONNXEmbedder(ONNXOptions{
			ModelPath:  cfg.ModelPath,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return WithCache(e, cfg.CacheSize), nil
	case "openai", "ollama":
		remote = NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions)
	case "gemini":
		e, err := NewGeminiEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions)
		if err != nil {
			return nil, err
		}
		remote = e
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	retrying := WithRetry(WithBatchFallback(remote), RetryOptions{
		Attempts:          cfg.MaxRetries,
		Backoff:           cfg.RetryBackoff,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            logger.Named("embedding"),
	})
	return WithCache(retrying, cfg.CacheSize), nil
}
