package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/taleweave/internal/config"
)

func TestNew_Providers(t *testing.T) {
	ctx := context.Background()

	e, err := New(ctx, config.EmbeddingConfig{Provider: "mock", Dimensions: 32}, nil)
	require.NoError(t, err)
	assert.Equal(t, 32, e.Dimensions())

	e, err = New(ctx, config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimensions: 256, CacheSize: 10}, nil)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", e.ModelName())
	assert.Equal(t, 256, e.Dimensions())

	_, err = New(ctx, config.EmbeddingConfig{Provider: "gemini"}, nil)
	assert.Error(t, err, "gemini needs an api key")

	_, err = New(ctx, config.EmbeddingConfig{Provider: "bogus"}, nil)
	assert.Error(t, err)
}
