// Package config provides configuration loading and structs for the Taleweave engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Blob       BlobConfig       `yaml:"blob"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	LLM        LLMConfig        `yaml:"llm"`
	Budget     BudgetConfig     `yaml:"budget"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Labeling   LabelingConfig   `yaml:"labeling"`
	Timeline   TimelineConfig   `yaml:"timeline"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Aggregate  AggregateConfig  `yaml:"aggregate"`
	Watch      WatchConfig      `yaml:"watch"`
}

// WatchConfig holds inbox directory settings. Books dropped into a watched
// directory are registered and ingested for OwnerID.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
	OwnerID     string   `yaml:"owner_id"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the relational database and index locations.
// VectorBackend is "memory" (gob file at VectorIndexPath) or "pgvector" (DatabaseURL).
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
	VectorBackend   string `yaml:"vector_backend"`
	VectorIndexPath string `yaml:"vector_index_path"`
	DatabaseURL     string `yaml:"database_url"`
	Collection      string `yaml:"collection"`
}

// BlobConfig selects where raw document text is kept.
type BlobConfig struct {
	Backend  string `yaml:"backend"` // local | s3
	LocalDir string `yaml:"local_dir"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"`

	// Static credentials; empty uses the default AWS credential chain.
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // mock | onnx | openai | gemini
	Model             string        `yaml:"model"`
	ModelPath         string        `yaml:"model_path"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"-"`
	Dimensions        int           `yaml:"dimensions"`
	MaxTokens         int           `yaml:"max_tokens"`
	CacheSize         int           `yaml:"cache_size"`
	BatchSize         int           `yaml:"batch_size"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// LLMConfig holds completion provider settings.
type LLMConfig struct {
	Provider      string  `yaml:"provider"` // openai | ollama | gemini | claude | mock
	Model         string  `yaml:"model"`
	LabelingModel string  `yaml:"labeling_model"`
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"-"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float32 `yaml:"temperature"`
	PromptsPath   string  `yaml:"prompts_path"`
}

// BudgetConfig holds daily request limits. A missing key means unlimited.
type BudgetConfig struct {
	TaskLimits  map[string]int64 `yaml:"task_limits"`
	ModelLimits map[string]int64 `yaml:"model_limits"`
}

// IngestConfig holds chunking settings. Sizes are in characters.
type IngestConfig struct {
	ChunkSize      int `yaml:"chunk_size"`
	ChunkOverlap   int `yaml:"chunk_overlap"`
	EmbedBatchSize int `yaml:"embed_batch_size"`
}

// LabelingConfig holds micro-fragment labeling queue settings.
type LabelingConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	BatchSize         int           `yaml:"batch_size"`
	FragmentChars     int           `yaml:"fragment_chars"`
	ModelDailyCeiling int64         `yaml:"model_daily_ceiling"`
}

// TimelineConfig holds focus window resolution settings.
type TimelineConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TopK                int     `yaml:"top_k"`
	Padding             int     `yaml:"padding"`
}

// ExtractionConfig holds attribute extraction settings.
type ExtractionConfig struct {
	GlobalTopK          int     `yaml:"global_top_k"`
	WindowTopK          int     `yaml:"window_top_k"`
	RefineTopK          int     `yaml:"refine_top_k"`
	MaxContextFragments int     `yaml:"max_context_fragments"`
	PoorThreshold       float64 `yaml:"poor_threshold"`
	MaxRefineTargets    int     `yaml:"max_refine_targets"`
	KeywordWeight       float64 `yaml:"keyword_weight"`
}

// AggregateConfig holds aggregation sweep settings.
type AggregateConfig struct {
	TopEntities      int `yaml:"top_entities"`
	SamplesPerEntity int `yaml:"samples_per_entity"`
	BlockSize        int `yaml:"block_size"`
}

// Load reads and parses the config file at path, expands paths, applies defaults
// and environment secrets, and validates the result.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Blob.LocalDir = expandPath(cfg.Blob.LocalDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.LLM.PromptsPath != "" {
		cfg.LLM.PromptsPath = expandPath(cfg.LLM.PromptsPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvFile loads variables from a .env file into the process environment.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv fills secrets from the environment.
func ApplyEnv(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = apiKeyFor(cfg.LLM.Provider)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = apiKeyFor(cfg.Embedding.Provider)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" && cfg.Storage.DatabaseURL == "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("TALEWEAVE_S3_BUCKET"); v != "" && cfg.Blob.Bucket == "" {
		cfg.Blob.Bucket = v
	}
	if cfg.Blob.AccessKey == "" {
		cfg.Blob.AccessKey = os.Getenv("TALEWEAVE_S3_ACCESS_KEY")
		cfg.Blob.SecretKey = os.Getenv("TALEWEAVE_S3_SECRET_KEY")
	}
}

func apiKeyFor(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	case "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}

// Validate checks settings that would make the engine misbehave.
func (c *Config) Validate() error {
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than chunk_size (%d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	switch c.Storage.VectorBackend {
	case "memory":
	case "pgvector":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url (or DATABASE_URL) required for pgvector backend")
		}
	default:
		return fmt.Errorf("unknown vector backend: %s", c.Storage.VectorBackend)
	}
	if c.Blob.Backend == "s3" && c.Blob.Bucket == "" {
		return fmt.Errorf("blob.bucket required for s3 backend")
	}
	if c.Timeline.SimilarityThreshold < 0 || c.Timeline.SimilarityThreshold > 1 {
		return fmt.Errorf("timeline.similarity_threshold must be within [0,1]")
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
