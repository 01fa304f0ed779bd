package config

import "time"

// Task names used for budget accounting.
const (
	TaskSceneExtraction      = "sceneExtraction"
	TaskAttributeExtraction  = "attributeExtraction"
	TaskSnippetLabeling      = "snippetLabeling"
	TaskEntityClassification = "entityClassification"
	TaskBlockSummary         = "blockSummary"
)

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/taleweave/data/db/taleweave.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/taleweave/data/indices/bleve"
	}
	if cfg.Storage.VectorBackend == "" {
		cfg.Storage.VectorBackend = "memory"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/taleweave/data/indices/fragments.gob"
	}
	if cfg.Storage.Collection == "" {
		cfg.Storage.Collection = "fragments"
	}
	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = "local"
	}
	if cfg.Blob.LocalDir == "" {
		cfg.Blob.LocalDir = "/usr/local/var/taleweave/data/raw"
	}
	if cfg.Blob.Prefix == "" {
		cfg.Blob.Prefix = "raw/"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.RetryBackoff == 0 {
		cfg.Embedding.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 10
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.LabelingModel == "" {
		cfg.LLM.LabelingModel = cfg.LLM.Model
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.Budget.TaskLimits == nil {
		cfg.Budget.TaskLimits = map[string]int64{}
	}
	if cfg.Budget.ModelLimits == nil {
		cfg.Budget.ModelLimits = map[string]int64{}
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 1200
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 200
	}
	if cfg.Ingest.EmbedBatchSize == 0 {
		cfg.Ingest.EmbedBatchSize = 64
	}
	if cfg.Labeling.PollInterval == 0 {
		cfg.Labeling.PollInterval = 10 * time.Second
	}
	if cfg.Labeling.BatchSize == 0 {
		cfg.Labeling.BatchSize = 500
	}
	if cfg.Labeling.FragmentChars == 0 {
		cfg.Labeling.FragmentChars = 100
	}
	if cfg.Labeling.ModelDailyCeiling == 0 {
		cfg.Labeling.ModelDailyCeiling = 1000
	}
	if cfg.Timeline.SimilarityThreshold == 0 {
		cfg.Timeline.SimilarityThreshold = 0.35
	}
	if cfg.Timeline.TopK == 0 {
		cfg.Timeline.TopK = 12
	}
	if cfg.Timeline.Padding == 0 {
		cfg.Timeline.Padding = 2
	}
	if cfg.Extraction.GlobalTopK == 0 {
		cfg.Extraction.GlobalTopK = 40
	}
	if cfg.Extraction.WindowTopK == 0 {
		cfg.Extraction.WindowTopK = 30
	}
	if cfg.Extraction.RefineTopK == 0 {
		cfg.Extraction.RefineTopK = 5
	}
	if cfg.Extraction.MaxContextFragments == 0 {
		cfg.Extraction.MaxContextFragments = 40
	}
	if cfg.Extraction.PoorThreshold == 0 {
		cfg.Extraction.PoorThreshold = 0.15
	}
	if cfg.Extraction.MaxRefineTargets == 0 {
		cfg.Extraction.MaxRefineTargets = 5
	}
	if cfg.Extraction.KeywordWeight == 0 {
		cfg.Extraction.KeywordWeight = 0.3
	}
	if cfg.Aggregate.TopEntities == 0 {
		cfg.Aggregate.TopEntities = 30
	}
	if cfg.Aggregate.SamplesPerEntity == 0 {
		cfg.Aggregate.SamplesPerEntity = 40
	}
	if cfg.Aggregate.BlockSize == 0 {
		cfg.Aggregate.BlockSize = 50
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".pdf", ".docx"}
	}
	if cfg.Watch.OwnerID == "" {
		cfg.Watch.OwnerID = "local"
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
