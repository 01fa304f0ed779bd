package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/models"
	"github.com/hyperjump/taleweave/internal/vector"
)

func TestReorderArgs(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"Mara"}, []string{"Mara"}},
		{[]string{"-docs", "d1", "Mara"}, []string{"-docs", "d1", "Mara"}},
		{[]string{"Mara", "-docs", "d1"}, []string{"-docs", "d1", "Mara"}},
		{[]string{"the", "Warden", "-type", "object"}, []string{"-type", "object", "the", "Warden"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reorderArgs(tt.in))
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"d1", "d2"}, splitList(" d1, ,d2 "))
	assert.Nil(t, splitList(""))
}

func TestParseSwitch(t *testing.T) {
	on, err := parseSwitch("ON")
	require.NoError(t, err)
	assert.True(t, on)
	off, err := parseSwitch("false")
	require.NoError(t, err)
	assert.False(t, off)
	_, err = parseSwitch("maybe")
	assert.Error(t, err)
}

func TestCallAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"daily task quota exceeded"}`))
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": body["entity_name"], "method": r.Method})
	}))
	defer srv.Close()

	var out map[string]string
	require.NoError(t, callAPI(http.MethodPost, srv.URL+"/ok", map[string]string{"entity_name": "Mara"}, &out))
	assert.Equal(t, "Mara", out["echo"])
	assert.Equal(t, http.MethodPost, out["method"])

	err := callAPI(http.MethodGet, srv.URL+"/fail", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "daily task quota exceeded")
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	content := strings.NewReplacer("DIR", dir).Replace(`
storage:
  database_path: DIR/db/taleweave.db
  bleve_index_path: DIR/indices/bleve
  vector_index_path: DIR/indices/fragments.gob
blob:
  local_dir: DIR/raw
embedding:
  provider: mock
  dimensions: 16
llm:
  provider: mock
ingest:
  chunk_size: 80
  chunk_overlap: 20
`)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TALEWEAVE_TEST_MARKER=from-env\n"), 0600))
	t.Cleanup(func() { _ = os.Unsetenv("TALEWEAVE_TEST_MARKER") })

	cfg, resolved, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, 16, cfg.Embedding.Dimensions)
	assert.Equal(t, "from-env", os.Getenv("TALEWEAVE_TEST_MARKER"))
}

func TestComponents_IngestPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	cfg, _, err := loadConfig(writeConfig(t, dir))
	require.NoError(t, err)
	ctx := context.Background()

	book := filepath.Join(dir, "the-ford.md")
	require.NoError(t, os.WriteFile(book, []byte("# Chapter 1\n\nMara rode to the ford at dusk. Her cloak was red.\n\n# Chapter 2\n\nThe battle at the ford began before dawn.\n"), 0600))

	components, err := initializeComponents(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	doc, registered, err := components.Pipeline.RegisterFile(ctx, book, "alice", nil)
	require.NoError(t, err)
	require.True(t, registered)
	// The mock LLM has no script, so scene extraction falls back to whole chapters.
	res, err := components.Pipeline.Ingest(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	components.Close()

	reopened, err := initializeComponents(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Storage.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentReady, got.Status)
	n, err := reopened.Fragments.Count(ctx, vector.Filter{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	window, err := reopened.Resolver.ResolveFocusWindow(ctx, "alice", []string{doc.ID}, "")
	require.NoError(t, err)
	assert.Nil(t, window)
}
