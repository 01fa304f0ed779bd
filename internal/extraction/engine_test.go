package extraction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/taleweave/internal/budget"
	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/fragment"
	"github.com/hyperjump/taleweave/internal/llm"
	"github.com/hyperjump/taleweave/internal/models"
	"github.com/hyperjump/taleweave/internal/storage"
	"github.com/hyperjump/taleweave/internal/timeline"
	"github.com/hyperjump/taleweave/internal/vector"
)

// vocab are the axes of wordEmbedder; the last axis is a constant bias so no
// vector is zero.
var vocab = []string{"mara", "battle", "cloak", "hair", "eyes", "ford", "road", "wounded", "musket"}

type wordEmbedder struct{}

func (wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	t := strings.ToLower(text)
	vec := make([]float32, len(vocab)+1)
	for i, w := range vocab {
		if strings.Contains(t, w) {
			vec[i] = 1
		}
	}
	vec[len(vocab)] = 0.1
	return vec, nil
}

func (e wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (wordEmbedder) Dimensions() int   { return len(vocab) + 1 }
func (wordEmbedder) ModelName() string { return "words" }
func (wordEmbedder) Close() error      { return nil }

type failingEmbedder struct{ wordEmbedder }

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}

type sceneCount int

func (s sceneCount) MaxGlobalSceneIndex(ctx context.Context, docID string) (int, error) {
	return int(s), nil
}

type harness struct {
	store     *storage.SQLiteStorage
	fragments *fragment.Store
	llm       *llm.MockClient
	governor  *budget.Governor
	resolver  *timeline.Resolver
}

func newHarness(t *testing.T, budgetCfg config.BudgetConfig) *harness {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "extraction.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	idx, err := vector.NewMemoryIndex(len(vocab) + 1)
	require.NoError(t, err)
	frags := fragment.NewStore(idx)
	return &harness{
		store:     store,
		fragments: frags,
		llm:       llm.NewMockClient(),
		governor:  budget.NewGovernor(store, budgetCfg),
		resolver: timeline.NewResolver(frags, wordEmbedder{}, sceneCount(9),
			config.TimelineConfig{SimilarityThreshold: 0.35, TopK: 12, Padding: 2}),
	}
}

func (h *harness) engine(cfg config.ExtractionConfig) *Engine {
	return NewEngine(h.store, h.fragments, wordEmbedder{}, h.resolver, h.llm, h.governor, cfg)
}

// book stores a ten-scene document: Mara's red cloak appears in scene 2, the
// battle at the ford in scene 4 and her torn, bloodied cloak in scene 9.
func (h *harness) book(t *testing.T, docID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.CreateDocument(ctx, &models.Document{ID: docID, OwnerID: "owner", Status: models.DocumentReady}))

	var frags []*models.Fragment
	add := func(id string, layer models.Layer, scene int, text string) {
		vec, _ := wordEmbedder{}.Embed(ctx, text)
		frags = append(frags, &models.Fragment{
			ID: id, DocumentID: docID, OwnerID: "owner", Layer: layer, Text: text,
			GlobalSceneIndex: models.IntPtr(scene), Position: scene, Embedding: vec,
		})
	}
	for i := 0; i < 10; i++ {
		summary := "Mara rides along the road."
		switch i {
		case 4:
			summary = "The battle at the ford begins."
		case 9:
			summary = "Mara returns wounded."
		}
		add(fmt.Sprintf("%s:scene:%d", docID, i), models.LayerScene, i, summary)
	}
	add(docID+":chunk:2:0", models.LayerChunk, 2, "Mara wore a red cloak as she rode out. Her black hair was braided.")
	add(docID+":chunk:9:0", models.LayerChunk, 9, "Mara wore a torn, bloodied cloak after the battle. Her grey eyes were hard.")
	require.NoError(t, h.fragments.Upsert(ctx, frags))
}

const leakyAnswer = `{"attributes": {
	"hairColor": {"value": "black", "confidence": "explicit", "evidence": [{"quote": "Her black hair was braided"}]},
	"eyeColor": {"value": "grey", "confidence": "explicit", "evidence": [{"quote": "Her grey eyes were hard"}]},
	"clothingStyleOrOutfit": {"value": "torn, bloodied cloak", "confidence": "explicit", "evidence": [{"quote": "wore a torn, bloodied cloak"}]}
}}`

func analyzeMara(focus string) AnalyzeRequest {
	return AnalyzeRequest{
		OwnerID:     "owner",
		DocumentIDs: []string{"doc"},
		EntityName:  "Mara",
		EntityType:  "character",
		FocusText:   focus,
	}
}

func TestAnalyze_TemporalLeakageIsReset(t *testing.T) {
	h := newHarness(t, config.BudgetConfig{})
	h.book(t, "doc")
	h.llm.Handler = func(req llm.Request) (string, error) { return leakyAnswer, nil }

	res, err := h.engine(config.ExtractionConfig{}).Analyze(context.Background(), analyzeMara("before the battle"))
	require.NoError(t, err)

	require.NotNil(t, res.Window)
	assert.Equal(t, 0, res.Window.StartGlobalIndex)
	assert.Equal(t, 6, res.Window.EndGlobalIndex)
	assert.Equal(t, TypeCharacter, res.Pipeline)

	outfit := res.Attributes["clothingStyleOrOutfit"]
	assert.Nil(t, outfit.Value)
	assert.Zero(t, outfit.Confidence)
	assert.Equal(t, models.TimeUnknown, outfit.TimeState)

	// Persistent attributes may rely on baseline passages.
	require.NotNil(t, res.Attributes["eyeColor"].Value)
	assert.Equal(t, "grey", *res.Attributes["eyeColor"].Value)
	require.NotNil(t, res.Attributes["hairColor"].Value)
	assert.Equal(t, "black", *res.Attributes["hairColor"].Value)

	reqs := h.llm.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].JSONMode)
	assert.Contains(t, reqs[0].Prompt, "[FOCUS] (scene 2) Mara wore a red cloak")
	assert.Contains(t, reqs[0].Prompt, "[BASELINE] (scene 9) Mara wore a torn, bloodied cloak")
	assert.NotContains(t, res.Description, "bloodied")
	assert.False(t, res.Refined)
}

func TestAnalyze_FocusedTransientValueKept(t *testing.T) {
	h := newHarness(t, config.BudgetConfig{})
	h.book(t, "doc")
	h.llm.Handler = func(req llm.Request) (string, error) {
		return `{"clothingStyleOrOutfit": {"value": "red cloak", "confidence": "explicit", "evidence": [{"quote": "Mara wore a red cloak"}]}}`, nil
	}

	res, err := h.engine(config.ExtractionConfig{}).Analyze(context.Background(), analyzeMara("before the battle"))
	require.NoError(t, err)

	outfit := res.Attributes["clothingStyleOrOutfit"]
	require.NotNil(t, outfit.Value)
	assert.Equal(t, "red cloak", *outfit.Value)
	assert.Equal(t, 0.9, outfit.Confidence)
	assert.Equal(t, "doc", outfit.Evidence[0].DocumentID)
	assert.Contains(t, res.Description, "clothing style or outfit: red cloak")
}

func TestAnalyze_ConfidenceInvariant(t *testing.T) {
	h := newHarness(t, config.BudgetConfig{})
	h.book(t, "doc")
	h.llm.Handler = func(req llm.Request) (string, error) {
		return `{"hairColor": {"value": null, "confidence": "explicit"}, "eyeColor": {"value": "grey", "confidence": 4}}`, nil
	}

	res, err := h.engine(config.ExtractionConfig{}).Analyze(context.Background(), analyzeMara(""))
	require.NoError(t, err)
	tmpl, _ := NewRegistry().Resolve("character")
	require.Len(t, res.Attributes, len(tmpl.Keys()))
	for k, v := range res.Attributes {
		assert.GreaterOrEqual(t, v.Confidence, 0.0, k)
		assert.LessOrEqual(t, v.Confidence, 1.0, k)
		if v.Value == nil {
			assert.Zero(t, v.Confidence, k)
			assert.Equal(t, models.TimeUnknown, v.TimeState, k)
		}
	}
	assert.Nil(t, res.Window)
}

func TestAnalyze_NoNewFragmentsNoReextraction(t *testing.T) {
	h := newHarness(t, config.BudgetConfig{})
	h.book(t, "doc")
	h.llm.Handler = func(req llm.Request) (string, error) { return `{}`, nil }

	res, err := h.engine(config.ExtractionConfig{}).Analyze(context.Background(), analyzeMara(""))
	require.NoError(t, err)

	assert.Equal(t, 1, h.llm.Calls())
	assert.False(t, res.Refined)
	assert.Len(t, res.ContextSources, 12)
}

func TestAnalyze_RefinementReextractsOnce(t *testing.T) {
	h := newHarness(t, config.BudgetConfig{})
	h.book(t, "doc")
	h.llm.Enqueue(`{}`, `{"hairColor": {"value": "black", "confidence": "explicit", "evidence": [{"quote": "Her black hair was braided"}]}}`)

	// A single pass-1 fragment leaves the chunks for the targeted pass.
	res, err := h.engine(config.ExtractionConfig{GlobalTopK: 1}).Analyze(context.Background(), analyzeMara(""))
	require.NoError(t, err)

	assert.Equal(t, 2, h.llm.Calls())
	assert.True(t, res.Refined)
	require.NotNil(t, res.Attributes["hairColor"].Value)
	assert.Equal(t, "black", *res.Attributes["hairColor"].Value)

	second := h.llm.Requests()[1].Prompt
	assert.Contains(t, second, "Her black hair was braided")
	assert.Greater(t, len(res.ContextSources), 1)
}

func TestAnalyze_ProviderFailureYieldsPlaceholders(t *testing.T) {
	h := newHarness(t, config.BudgetConfig{})
	h.book(t, "doc")
	h.llm.Handler = func(req llm.Request) (string, error) { return "", errors.New("503 from provider") }

	res, err := h.engine(config.ExtractionConfig{}).Analyze(context.Background(), analyzeMara(""))
	require.NoError(t, err)
	require.NotEmpty(t, res.Attributes)
	for k, v := range res.Attributes {
		require.NotNil(t, v.Value, k)
		assert.Equal(t, FailedValue, *v.Value, k)
		assert.Equal(t, 0.05, v.Confidence, k)
		assert.Equal(t, models.TimeUnknown, v.TimeState, k)
	}
	assert.Equal(t, "No visual details were found for Mara.", res.Description)

	usage, err := h.governor.ModelUsage(context.Background(), "mock-model")
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage)
}

func TestAnalyze_BudgetDenialDegradesLikeFailure(t *testing.T) {
	h := newHarness(t, config.BudgetConfig{TaskLimits: map[string]int64{config.TaskAttributeExtraction: 0}})
	h.book(t, "doc")
	h.llm.Handler = func(req llm.Request) (string, error) { return leakyAnswer, nil }

	res, err := h.engine(config.ExtractionConfig{}).Analyze(context.Background(), analyzeMara(""))
	require.NoError(t, err)
	assert.Zero(t, h.llm.Calls())
	assert.Equal(t, FailedValue, *res.Attributes["hairColor"].Value)
}

func TestAnalyze_MalformedResponseIsUnknown(t *testing.T) {
	h := newHarness(t, config.BudgetConfig{})
	h.book(t, "doc")
	h.llm.Handler = func(req llm.Request) (string, error) { return "I cannot help with that.", nil }

	res, err := h.engine(config.ExtractionConfig{}).Analyze(context.Background(), analyzeMara(""))
	require.NoError(t, err)
	for k, v := range res.Attributes {
		assert.Nil(t, v.Value, k)
	}
}

func TestAnalyze_EmbeddingFailureYieldsPlaceholders(t *testing.T) {
	h := newHarness(t, config.BudgetConfig{})
	h.book(t, "doc")
	e := NewEngine(h.store, h.fragments, failingEmbedder{}, nil, h.llm, h.governor, config.ExtractionConfig{})

	res, err := e.Analyze(context.Background(), analyzeMara(""))
	require.NoError(t, err)
	assert.Zero(t, h.llm.Calls())
	assert.Equal(t, FailedValue, *res.Attributes["eyeColor"].Value)
	assert.Empty(t, res.ContextSources)
}

func TestAnalyze_GenericPipeline(t *testing.T) {
	h := newHarness(t, config.BudgetConfig{})
	h.book(t, "doc")
	h.llm.Handler = func(req llm.Request) (string, error) {
		return `{"result": {"color": {"value": "red", "confidence": "medium", "evidence": ["a red cloak"]}}}`, nil
	}

	req := analyzeMara("")
	req.EntityName = "the cloak"
	req.EntityType = "item"
	res, err := h.engine(config.ExtractionConfig{}).Analyze(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, TypeGeneric, res.Pipeline)
	assert.Equal(t, "item", res.EntityType)
	assert.Equal(t, "red", *res.Attributes["color"].Value)
	assert.Equal(t, 0.6, res.Attributes["color"].Confidence)
	assert.Contains(t, h.llm.Requests()[0].Prompt, `"the cloak", a item`)
}

func TestAnalyze_MultiDocumentMerge(t *testing.T) {
	h := newHarness(t, config.BudgetConfig{})
	h.book(t, "doc")
	h.book(t, "sequel")
	// Documents are extracted in request order.
	h.llm.Enqueue(
		`{"eyeColor": {"value": "grey", "confidence": "inferred", "evidence": [{"quote": "grey eyes"}]}}`,
		`{"eyeColor": {"value": "steel grey", "confidence": "explicit", "evidence": [{"quote": "steel grey eyes"}]}}`,
	)
	req := analyzeMara("before the battle")
	req.DocumentIDs = []string{"doc", "sequel", "doc"}

	res, err := h.engine(config.ExtractionConfig{}).Analyze(context.Background(), req)
	require.NoError(t, err)
	// Focus windows only apply to a single document.
	assert.Nil(t, res.Window)

	eyes := res.Attributes["eyeColor"]
	assert.Equal(t, "steel grey", *eyes.Value)
	assert.Equal(t, 0.9, eyes.Confidence)
	require.Len(t, eyes.Evidence, 2)
	assert.Equal(t, "steel grey eyes", eyes.Evidence[0].Quote)
	assert.Equal(t, "sequel", eyes.Evidence[0].DocumentID)
	assert.Equal(t, "doc", eyes.Evidence[1].DocumentID)
	assert.Equal(t, 2, h.llm.Calls())
}

func TestAnalyze_InputErrors(t *testing.T) {
	h := newHarness(t, config.BudgetConfig{})
	h.book(t, "doc")
	require.NoError(t, h.store.CreateDocument(context.Background(), &models.Document{ID: "theirs", OwnerID: "someone-else", Status: models.DocumentReady}))
	e := h.engine(config.ExtractionConfig{})
	ctx := context.Background()

	_, err := e.Analyze(ctx, AnalyzeRequest{OwnerID: "owner", EntityName: "Mara"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = e.Analyze(ctx, AnalyzeRequest{OwnerID: "owner", DocumentIDs: []string{"doc"}, EntityName: "  "})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = e.Analyze(ctx, AnalyzeRequest{OwnerID: "owner", DocumentIDs: []string{"missing"}, EntityName: "Mara"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = e.Analyze(ctx, AnalyzeRequest{OwnerID: "owner", DocumentIDs: []string{"theirs"}, EntityName: "Mara"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = e.Analyze(ctx, AnalyzeRequest{OwnerID: "owner", DocumentIDs: []string{"doc"}, EntityName: "Mara", EntityType: "<script>"})
	assert.ErrorIs(t, err, models.ErrUnsupportedEntityType)

	assert.Zero(t, h.llm.Calls())
}
