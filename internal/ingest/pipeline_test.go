package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/taleweave/internal/blob"
	"github.com/hyperjump/taleweave/internal/budget"
	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/embedding"
	"github.com/hyperjump/taleweave/internal/extract"
	"github.com/hyperjump/taleweave/internal/fragment"
	"github.com/hyperjump/taleweave/internal/llm"
	"github.com/hyperjump/taleweave/internal/models"
	"github.com/hyperjump/taleweave/internal/storage"
	"github.com/hyperjump/taleweave/internal/vector"
)

const twoScenes = `{"scenes":[
 {"summary":"The riders reach the ford.","location":"the ford","events":["arrival"],"start_quote":"Scene one begins here","end_quote":"about the road."},
 {"summary":"The camp is attacked.","pov":"Mara","temporal_hints":["after midnight"],"start_quote":"Scene two starts after","end_quote":"sleeps again."}
]}`

func threeChapterBook() string {
	var b strings.Builder
	for i := 1; i <= 3; i++ {
		fmt.Fprintf(&b, "Chapter %d\n\n", i)
		b.WriteString("Scene one begins here as the riders reach the ford at dusk. They argue about the road.\n\n")
		b.WriteString("Scene two starts after midnight when the camp is attacked. Nobody sleeps again.\n\n")
	}
	return b.String()
}

type harness struct {
	store     *storage.SQLiteStorage
	blobs     *blob.LocalStore
	fragments *fragment.Store
	llm       *llm.MockClient
	governor  *budget.Governor
	pipeline  *Pipeline
}

func newHarness(t *testing.T, limits config.BudgetConfig, opts ...Option) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "taleweave.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := blob.NewLocalStore(filepath.Join(dir, "raw"), "raw/")
	require.NoError(t, err)
	idx, err := vector.NewMemoryIndex(16)
	require.NoError(t, err)

	h := &harness{
		store:     store,
		blobs:     blobs,
		fragments: fragment.NewStore(idx),
		llm:       llm.NewMockClient(),
		governor:  budget.NewGovernor(store, limits),
	}
	scenes := NewSceneExtractor(h.llm, h.governor, nil, "", nil)
	cfg := config.IngestConfig{ChunkSize: 60, ChunkOverlap: 15, EmbedBatchSize: 8}
	h.pipeline = NewPipeline(store, blobs, h.fragments, embedding.NewMockEmbedder(16), scenes, h.governor, cfg, opts...)
	return h
}

func (h *harness) register(t *testing.T, text string) *models.Document {
	t.Helper()
	doc, err := h.pipeline.Register(context.Background(), &models.DocumentInput{OwnerID: "owner", Title: "Book", Text: text})
	require.NoError(t, err)
	return doc
}

func TestIngest_ThreeChaptersTwoScenes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.BudgetConfig{})
	h.llm.Handler = func(llm.Request) (string, error) { return twoScenes, nil }
	doc := h.register(t, threeChapterBook())

	res, err := h.pipeline.Ingest(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Stats.Chapters)
	assert.Equal(t, 6, res.Stats.Scenes)

	got, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentReady, got.Status)

	chapters, err := h.store.GetChapters(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 3)

	scenes, err := h.store.GetScenes(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, scenes, 6)
	for i, sc := range scenes {
		assert.Equal(t, i, sc.GlobalIndex)
		assert.Equal(t, i%2, sc.LocalIndex)
		assert.Equal(t, chapters[i/2].ID, sc.ChapterID)
		if i > 0 {
			assert.LessOrEqual(t, scenes[i-1].EndChar, sc.StartChar, "scenes overlap")
		}
	}
	assert.Equal(t, "The camp is attacked.", scenes[1].Summary)
	assert.Equal(t, "Mara", scenes[1].POV)
	assert.Equal(t, []string{"after midnight"}, scenes[1].TemporalHints)

	assert.Equal(t, 3, h.llm.Calls(), "one scene extraction call per chapter")
	for _, req := range h.llm.Requests() {
		assert.True(t, req.JSONMode)
	}
	used, err := h.store.GetTaskUsage(ctx, h.governor.Today(), config.TaskSceneExtraction)
	require.NoError(t, err)
	assert.Equal(t, int64(3), used)

	sceneFrags, err := h.fragments.Scroll(ctx, doc.ID, "owner", models.LayerScene)
	require.NoError(t, err)
	assert.Len(t, sceneFrags, 6)
	assert.Contains(t, sceneFrags[1].Text, "Time: after midnight")
}

func TestIngest_ChunkContainment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.BudgetConfig{})
	h.llm.Handler = func(llm.Request) (string, error) { return twoScenes, nil }
	doc := h.register(t, threeChapterBook())

	res, err := h.pipeline.Ingest(ctx, doc.ID)
	require.NoError(t, err)

	scenes, err := h.store.GetScenes(ctx, doc.ID)
	require.NoError(t, err)
	byID := make(map[string]*models.Scene, len(scenes))
	want := 0
	for _, sc := range scenes {
		byID[sc.ID] = sc
		want += h.pipeline.chunker.ExpectedChunks(sc.Len())
	}

	chunks, err := h.fragments.Scroll(ctx, doc.ID, "owner", models.LayerChunk)
	require.NoError(t, err)
	assert.Len(t, chunks, want)
	assert.Equal(t, want, res.Stats.Chunks)

	last := -1
	for _, c := range chunks {
		sc, ok := byID[c.SceneID]
		require.True(t, ok, "chunk %s has unknown scene", c.ID)
		assert.GreaterOrEqual(t, c.StartChar, sc.StartChar)
		assert.LessOrEqual(t, c.EndChar, sc.EndChar)
		require.NotNil(t, c.GlobalSceneIndex)
		assert.Equal(t, sc.GlobalIndex, *c.GlobalSceneIndex)
		assert.GreaterOrEqual(t, *c.GlobalSceneIndex, last, "global scene index decreases")
		last = *c.GlobalSceneIndex
	}
}

func TestIngest_LLMFailureFallsBackToWholeChapter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.BudgetConfig{})
	h.llm.Enqueue("not json at all")
	h.llm.EnqueueError(errors.New("provider down"))
	h.llm.Enqueue(`{"scenes":[]}`)
	doc := h.register(t, threeChapterBook())

	res, err := h.pipeline.Ingest(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Stats.Scenes)

	chapters, err := h.store.GetChapters(ctx, doc.ID)
	require.NoError(t, err)
	scenes, err := h.store.GetScenes(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, scenes, 3)
	for i, sc := range scenes {
		assert.Equal(t, chapters[i].StartChar, sc.StartChar)
		assert.Equal(t, chapters[i].EndChar, sc.EndChar)
		assert.NotEmpty(t, sc.Summary)
	}
}

func TestIngest_PreflightQuotaFailsDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.BudgetConfig{TaskLimits: map[string]int64{config.TaskSceneExtraction: 2}})
	h.llm.Handler = func(llm.Request) (string, error) { return twoScenes, nil }
	doc := h.register(t, threeChapterBook())

	res, err := h.pipeline.Ingest(ctx, doc.ID)
	require.Error(t, err)
	assert.True(t, IsQuotaError(err))
	assert.False(t, res.Success)
	assert.Equal(t, 0, h.llm.Calls(), "no extraction call after a failed preflight")

	got, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentFailed, got.Status)
	assert.Contains(t, got.Error, config.TaskSceneExtraction)
}

func TestIngest_ReingestReplacesStructure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.BudgetConfig{})
	h.llm.Handler = func(llm.Request) (string, error) { return twoScenes, nil }
	doc := h.register(t, threeChapterBook())

	first, err := h.pipeline.Ingest(ctx, doc.ID)
	require.NoError(t, err)
	second, err := h.pipeline.Ingest(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Stats, second.Stats)

	scenes, err := h.store.GetScenes(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, scenes, 6)
	n, err := h.fragments.Count(ctx, vector.Filter{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.Equal(t, first.Stats.Scenes+first.Stats.Chunks, n)
}

func TestIngest_MissingDocument(t *testing.T) {
	h := newHarness(t, config.BudgetConfig{})
	res, err := h.pipeline.Ingest(context.Background(), "nope")
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

type recordingEnqueuer struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, documentID string) (*models.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, documentID)
	return &models.IngestionJob{DocumentID: documentID, Status: models.JobQueued}, nil
}

func (r *recordingEnqueuer) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestStart_RunsInBackgroundAndEnqueuesLabeling(t *testing.T) {
	q := &recordingEnqueuer{}
	h := newHarness(t, config.BudgetConfig{}, WithLabeling(q))
	h.llm.Handler = func(llm.Request) (string, error) { return twoScenes, nil }
	doc := h.register(t, threeChapterBook())

	ctx, cancel := context.WithCancel(context.Background())
	h.pipeline.Start(ctx, doc.ID)
	cancel()

	require.Eventually(t, func() bool {
		got, err := h.store.GetDocument(context.Background(), doc.ID)
		return err == nil && got.Status == models.DocumentReady
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(q.calls()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{doc.ID}, q.calls())
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t, config.BudgetConfig{})
	ctx := context.Background()
	_, err := h.pipeline.Register(ctx, &models.DocumentInput{Text: "some text"})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
	_, err = h.pipeline.Register(ctx, &models.DocumentInput{OwnerID: "owner", Text: "   "})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))

	doc := h.register(t, "Once upon a time.")
	assert.Equal(t, models.DocumentPending, doc.Status)
	text, err := h.blobs.Get(ctx, doc.RawTextRef)
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time.", text)
}

func TestRegisterFile_SkipsUnchangedAndReplacesChanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.BudgetConfig{}, WithExtractor(extract.NewExtractor()))
	path := filepath.Join(t.TempDir(), "saga.txt")
	require.NoError(t, os.WriteFile(path, []byte("Chapter 1\nThe beginning."), 0600))

	doc, registered, err := h.pipeline.RegisterFile(ctx, path, "owner", []string{".txt"})
	require.NoError(t, err)
	assert.True(t, registered)
	assert.Equal(t, "saga", doc.Title)
	assert.Equal(t, path, doc.SourcePath)

	again, registered, err := h.pipeline.RegisterFile(ctx, path, "owner", []string{".txt"})
	require.NoError(t, err)
	assert.False(t, registered)
	assert.Equal(t, doc.ID, again.ID)

	require.NoError(t, os.WriteFile(path, []byte("Chapter 1\nA different beginning."), 0600))
	changed, registered, err := h.pipeline.RegisterFile(ctx, path, "owner", []string{".txt"})
	require.NoError(t, err)
	assert.True(t, registered)
	assert.Equal(t, doc.ID, changed.ID, "id is derived from owner and path")
	text, err := h.blobs.Get(ctx, changed.RawTextRef)
	require.NoError(t, err)
	assert.Equal(t, "Chapter 1\nA different beginning.", text)

	_, _, err = h.pipeline.RegisterFile(ctx, path, "owner", []string{".pdf"})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestDelete_Cascades(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.BudgetConfig{})
	h.llm.Handler = func(llm.Request) (string, error) { return twoScenes, nil }
	doc := h.register(t, threeChapterBook())
	_, err := h.pipeline.Ingest(ctx, doc.ID)
	require.NoError(t, err)

	require.NoError(t, h.pipeline.Delete(ctx, doc.ID))

	_, err = h.store.GetDocument(ctx, doc.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	scenes, err := h.store.GetScenes(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, scenes)
	n, err := h.fragments.Count(ctx, vector.Filter{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = h.blobs.Get(ctx, doc.RawTextRef)
	assert.Error(t, err)

	assert.True(t, errors.Is(h.pipeline.Delete(ctx, doc.ID), models.ErrNotFound))
}

func TestDeleteFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, config.BudgetConfig{}, WithExtractor(extract.NewExtractor()))
	path := filepath.Join(t.TempDir(), "saga.md")
	require.NoError(t, os.WriteFile(path, []byte("# Chapter 1\nThe beginning."), 0600))
	doc, _, err := h.pipeline.RegisterFile(ctx, path, "owner", nil)
	require.NoError(t, err)

	require.NoError(t, h.pipeline.DeleteFile(ctx, path, "other-owner"))
	_, err = h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)

	require.NoError(t, h.pipeline.DeleteFile(ctx, path, "owner"))
	_, err = h.store.GetDocument(ctx, doc.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	require.NoError(t, h.pipeline.DeleteFile(ctx, path, "owner"))
}
