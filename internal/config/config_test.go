package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Storage.DatabasePath)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "memory", cfg.Storage.VectorBackend)
	assert.Equal(t, 0.35, cfg.Timeline.SimilarityThreshold)
	assert.Equal(t, 12, cfg.Timeline.TopK)
	assert.Equal(t, 2, cfg.Timeline.Padding)
	assert.Equal(t, 500, cfg.Labeling.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Labeling.PollInterval)
}

func TestLoad_budgetAndDurations(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
budget:
  task_limits:
    sceneExtraction: 50
  model_limits:
    gpt-4o-mini: 200
labeling:
  poll_interval: 3s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(50), cfg.Budget.TaskLimits[TaskSceneExtraction])
	assert.Equal(t, int64(200), cfg.Budget.ModelLimits["gpt-4o-mini"])
	assert.Equal(t, 3*time.Second, cfg.Labeling.PollInterval)
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
storage:
  database_path: "./data/db/taleweave.db"
watch:
  directories: ["./inbox"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data", "db", "taleweave.db"), cfg.Storage.DatabasePath)
	assert.Equal(t, []string{filepath.Join(dir, "inbox")}, cfg.Watch.Directories)
	assert.True(t, cfg.Watch.RecursiveOrDefault())
}

func TestLoad_rejectsOverlapNotSmallerThanSize(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
ingest:
  chunk_size: 300
  chunk_overlap: 300
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_overlap")
}

func TestLoad_pgvectorNeedsURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
storage:
  vector_backend: pgvector
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	cfg := &Config{LLM: LLMConfig{Provider: "claude"}}
	ApplyEnv(cfg)
	assert.Equal(t, "sk-ant", cfg.LLM.APIKey)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))

	path := writeFile(t, dir, ".env", "TALEWEAVE_TEST_VALUE=woven\n")
	t.Setenv("TALEWEAVE_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("TALEWEAVE_TEST_VALUE"))
	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "woven", os.Getenv("TALEWEAVE_TEST_VALUE"))
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")
	cfg := Default()
	cfg.Server.Port = 9191
	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, loaded.Server.Port)
}
