package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/aggregate"
	"github.com/hyperjump/taleweave/internal/blob"
	"github.com/hyperjump/taleweave/internal/budget"
	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/embedding"
	"github.com/hyperjump/taleweave/internal/extract"
	"github.com/hyperjump/taleweave/internal/extraction"
	"github.com/hyperjump/taleweave/internal/fragment"
	"github.com/hyperjump/taleweave/internal/ingest"
	"github.com/hyperjump/taleweave/internal/keyword"
	"github.com/hyperjump/taleweave/internal/labeling"
	"github.com/hyperjump/taleweave/internal/llm"
	"github.com/hyperjump/taleweave/internal/storage"
	"github.com/hyperjump/taleweave/internal/timeline"
	"github.com/hyperjump/taleweave/internal/vector"
)

// Components holds the engine's wired dependencies.
type Components struct {
	cfg    *config.Config
	logger *zap.Logger

	Storage      *storage.SQLiteStorage
	Blobs        blob.Store
	Embedder     embedding.Embedder
	VectorIndex  vector.Index
	KeywordIndex *keyword.BleveIndex
	Fragments    *fragment.Store
	LLM          llm.Client
	Governor     *budget.Governor
	Pipeline     *ingest.Pipeline
	Labeling     *labeling.Queue
	Resolver     *timeline.Resolver
	Engine       *extraction.Engine
	Sweeper      *aggregate.Sweeper
}

// Close persists the memory vector index and releases every store.
func (c *Components) Close() {
	if mem, ok := c.VectorIndex.(*vector.MemoryIndex); ok && c.cfg.Storage.VectorIndexPath != "" {
		if err := mem.Save(c.cfg.Storage.VectorIndexPath); err != nil {
			c.logger.Warn("vector index save failed", zap.String("path", c.cfg.Storage.VectorIndexPath), zap.Error(err))
		}
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{cfg: cfg, logger: logger}
	if err := c.init(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) init(ctx context.Context) error {
	cfg, logger := c.cfg, c.logger
	var err error

	c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Blobs, err = blob.New(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	c.Embedder, err = embedding.New(ctx, cfg.Embedding, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.VectorIndex, err = vector.NewIndex(ctx, vector.Options{
		Type:        cfg.Storage.VectorBackend,
		Dimensions:  c.Embedder.Dimensions(),
		Path:        cfg.Storage.VectorIndexPath,
		DatabaseURL: cfg.Storage.DatabaseURL,
		Collection:  cfg.Storage.Collection,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vector index: %w", err)
	}
	logger.Info("vector index initialized",
		zap.String("backend", cfg.Storage.VectorBackend),
		zap.Int("dimensions", c.Embedder.Dimensions()),
		zap.String("embedding_model", c.Embedder.ModelName()))

	c.KeywordIndex, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		return fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.Fragments = fragment.NewStore(c.VectorIndex,
		fragment.WithKeywordIndex(c.KeywordIndex, cfg.Extraction.KeywordWeight),
		fragment.WithLogger(logger))

	c.LLM, err = llm.New(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to initialize llm client: %w", err)
	}
	prompts, err := config.LoadPrompts(cfg.LLM.PromptsPath)
	if err != nil {
		return err
	}
	c.Governor = budget.NewGovernor(c.Storage, cfg.Budget, budget.WithLogger(logger))

	c.Labeling = labeling.NewQueue(c.Storage, c.Fragments, c.Embedder, c.LLM, c.Governor, cfg.Labeling, cfg.LLM.LabelingModel,
		labeling.WithLogger(logger),
		labeling.WithPrompts(prompts))
	scenes := ingest.NewSceneExtractor(c.LLM, c.Governor, prompts, cfg.LLM.Model, logger)
	c.Pipeline = ingest.NewPipeline(c.Storage, c.Blobs, c.Fragments, c.Embedder, scenes, c.Governor, cfg.Ingest,
		ingest.WithLogger(logger),
		ingest.WithExtractor(extract.NewExtractor()),
		ingest.WithLabeling(c.Labeling))

	c.Resolver = timeline.NewResolver(c.Fragments, c.Embedder, c.Storage, cfg.Timeline, timeline.WithLogger(logger))
	c.Engine = extraction.NewEngine(c.Storage, c.Fragments, c.Embedder, c.Resolver, c.LLM, c.Governor, cfg.Extraction,
		extraction.WithLogger(logger),
		extraction.WithPrompts(prompts),
		extraction.WithModel(cfg.LLM.Model))
	c.Sweeper = aggregate.NewSweeper(c.Storage, c.Fragments, c.LLM, c.Governor, cfg.Aggregate,
		aggregate.WithLogger(logger),
		aggregate.WithPrompts(prompts),
		aggregate.WithModel(cfg.LLM.Model))
	return nil
}
