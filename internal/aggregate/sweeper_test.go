package aggregate

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
	"github.com/hyperjump/taleweave/internal/embedding"
	"github.com/hyperjump/taleweave/internal/fragment"
	"github.com/hyperjump/taleweave/internal/llm"
	"github.com/hyperjump/taleweave/internal/models"
	"github.com/hyperjump/taleweave/internal/storage"
	"github.com/hyperjump/taleweave/internal/vector"
)

type fixture struct {
	store     *storage.SQLiteStorage
	fragments *fragment.Store
	llm       *llm.MockClient
	governor  *budget.Governor
}

func newFixture(t *testing.T, budgetCfg config.BudgetConfig) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "aggregate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	idx, err := vector.NewMemoryIndex(8)
	require.NoError(t, err)
	return &fixture{
		store:     store,
		fragments: fragment.NewStore(idx),
		llm:       llm.NewMockClient(),
		governor:  budget.NewGovernor(store, budgetCfg),
	}
}

// snippets stores one SNIPPET per entry of names, at positions 0..n-1.
func (f *fixture) snippets(t *testing.T, docID string, names ...[]string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateDocument(ctx, &models.Document{ID: docID, OwnerID: "owner", Status: models.DocumentReady}))
	emb := embedding.NewMockEmbedder(8)
	var frags []*models.Fragment
	for i, n := range names {
		text := fmt.Sprintf("Snippet %d mentions %s.", i, strings.Join(n, " and "))
		vec, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		frags = append(frags, &models.Fragment{
			ID:          fmt.Sprintf("%s:snippet:%d", docID, i),
			DocumentID:  docID,
			OwnerID:     "owner",
			Layer:       models.LayerSnippet,
			Text:        text,
			EntityNames: n,
			Position:    i,
			Embedding:   vec,
		})
	}
	require.NoError(t, f.fragments.Upsert(ctx, frags))
}

func (f *fixture) sweeper(cfg config.AggregateConfig) *Sweeper {
	return NewSweeper(f.store, f.fragments, f.llm, f.governor, cfg)
}

const (
	isAldric     = `{"is_character": true, "role": "knight", "traits": ["brave", "Brave", " "], "aliases": ["Aldric", "Sir Aldric"]}`
	notCharacter = `{"is_character": false}`
	blockAnswer  = `{"summary": "Things happen.", "characters": ["Aldrik", "Sir Aldric", "Mara", "Ironhold"]}`
)

func answer(req llm.Request) (string, error) {
	switch {
	case strings.Contains(req.Prompt, `"Ironhold"`):
		return notCharacter, nil
	case strings.Contains(req.Prompt, "Decide whether"):
		return isAldric, nil
	default:
		return blockAnswer, nil
	}
}

func TestAggregate_RecordsAndDigests(t *testing.T) {
	f := newFixture(t, config.BudgetConfig{})
	f.snippets(t, "doc",
		[]string{"Aldric", "Ironhold"},
		[]string{"aldric"},
		[]string{"Mara", "Aldric", "ALDRIC"},
		[]string{"Mara"},
		[]string{"Ironhold"},
	)
	f.llm.Handler = answer
	ctx := context.Background()

	res, err := f.sweeper(config.AggregateConfig{TopEntities: 2, SamplesPerEntity: 2, BlockSize: 2}).Aggregate(ctx, "doc", "owner")
	require.NoError(t, err)

	assert.Equal(t, 5, res.Snippets)
	assert.Equal(t, 2, res.Candidates)
	require.Len(t, res.Characters, 1)
	rec := res.Characters[0]
	assert.Equal(t, "Aldric", rec.Name)
	assert.Equal(t, 3, rec.MentionCount)
	assert.Equal(t, "knight", rec.Role)
	assert.Equal(t, []string{"brave"}, rec.Traits)
	assert.Equal(t, []string{"Sir Aldric"}, rec.Aliases)

	require.Len(t, res.Digests, 3)
	assert.Equal(t, []string{"Aldric"}, res.Digests[0].Characters)
	assert.Equal(t, 0, res.Digests[0].StartPosition)
	assert.Equal(t, 1, res.Digests[0].EndPosition)
	assert.Equal(t, 4, res.Digests[2].StartPosition)
	assert.Equal(t, 4, res.Digests[2].EndPosition)

	// Two classifications and three blocks.
	assert.Equal(t, 5, f.llm.Calls())
	for _, req := range f.llm.Requests() {
		assert.True(t, req.JSONMode)
	}
	first := f.llm.Requests()[0].Prompt
	assert.Contains(t, first, `"Aldric"`)
	assert.Equal(t, 2, strings.Count(first, "\n- Snippet"))

	chars, err := f.store.ListCharacters(ctx, "doc")
	require.NoError(t, err)
	assert.Len(t, chars, 1)
	digests, err := f.store.ListSceneDigests(ctx, "doc")
	require.NoError(t, err)
	assert.Len(t, digests, 3)
}

func TestAggregate_FailuresAreSkipped(t *testing.T) {
	f := newFixture(t, config.BudgetConfig{TaskLimits: map[string]int64{config.TaskBlockSummary: 1}})
	f.snippets(t, "doc",
		[]string{"Aldric"},
		[]string{"Mara"},
		[]string{"Mara"},
	)
	f.llm.Handler = func(req llm.Request) (string, error) {
		switch {
		case strings.Contains(req.Prompt, `"Mara"`):
			return "", errors.New("provider timeout")
		case strings.Contains(req.Prompt, "Decide whether"):
			return "not json at all", nil
		}
		return blockAnswer, nil
	}

	res, err := f.sweeper(config.AggregateConfig{BlockSize: 2}).Aggregate(context.Background(), "doc", "owner")
	require.NoError(t, err)

	assert.Empty(t, res.Characters)
	assert.Equal(t, 2, res.SkippedEntities)
	// The second block is over the daily block summary limit.
	assert.Len(t, res.Digests, 1)
	assert.Equal(t, 1, res.SkippedBlocks)
	assert.Empty(t, res.Digests[0].Characters)
	assert.Equal(t, 3, f.llm.Calls())
}

func TestAggregate_NoSnippets(t *testing.T) {
	f := newFixture(t, config.BudgetConfig{})
	f.snippets(t, "doc")

	res, err := f.sweeper(config.AggregateConfig{}).Aggregate(context.Background(), "doc", "owner")
	require.NoError(t, err)
	assert.Zero(t, res.Snippets)
	assert.Empty(t, res.Characters)
	assert.Zero(t, f.llm.Calls())
}

func TestAggregate_OwnerScope(t *testing.T) {
	f := newFixture(t, config.BudgetConfig{})
	f.snippets(t, "doc", []string{"Aldric"})

	_, err := f.sweeper(config.AggregateConfig{}).Aggregate(context.Background(), "doc", "intruder")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.sweeper(config.AggregateConfig{}).Aggregate(context.Background(), "missing", "owner")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLinkCharacters(t *testing.T) {
	known := []*models.CharacterRecord{
		{Name: "Aldric", Aliases: []string{"The Warden"}},
		{Name: "Mara"},
	}
	tests := []struct {
		names []string
		want  []string
	}{
		{[]string{"aldric"}, []string{"Aldric"}},
		{[]string{"Aldrik"}, []string{"Aldric"}},
		{[]string{"the warden", "Aldric"}, []string{"Aldric"}},
		{[]string{"Maro"}, nil},
		{[]string{"MARA", "Stranger"}, []string{"Mara"}},
		{[]string{"Aldrickson"}, nil},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.names, ","), func(t *testing.T) {
			assert.Equal(t, tt.want, LinkCharacters(tt.names, known))
		})
	}
}

func TestTally(t *testing.T) {
	snips := []*models.Fragment{
		{Text: "a", EntityNames: []string{"mara", "Mara"}},
		{Text: "b", EntityNames: []string{"Mara", " "}},
		{Text: "c", EntityNames: []string{"Ferris"}},
	}
	got := tally(snips, 1)
	require.Len(t, got, 2)
	assert.Equal(t, "Mara", got[0].name)
	assert.Equal(t, 2, got[0].count)
	assert.Equal(t, []string{"a"}, got[0].samples)
	assert.Equal(t, "Ferris", got[1].name)
}
