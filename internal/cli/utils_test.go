package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/taleweave/internal/models"
	"github.com/hyperjump/taleweave/internal/storage"
)

func analysis() *models.AnalysisResult {
	return &models.AnalysisResult{
		EntityName:  "Mara",
		EntityType:  "character",
		Description: "Mara. hair color: black.",
		Attributes: map[string]models.AttributeValue{
			"hairColor": {
				Value:      models.StringPtr("black"),
				Confidence: 0.9,
				TimeState:  models.TimeConstant,
				Evidence:   []models.Evidence{{Quote: "Her black hair was braided.", Location: "scene 2", DocumentID: "doc-1"}},
			},
			"eyeColor": models.UnknownValue(),
		},
		ContextSources: []models.SourceRef{{FragmentID: "f1", DocumentID: "doc-1", Layer: models.LayerChunk, Score: 0.8}},
		Window:         &models.FocusWindow{StartGlobalIndex: 0, EndGlobalIndex: 6},
		Pipeline:       "character",
		Refined:        true,
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, OutputText, f)
	f, err = ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, OutputJSON, f)
	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}

func TestWriteAnalysis_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAnalysis(&buf, analysis(), OutputText))
	out := buf.String()
	assert.Contains(t, out, "Mara (character, character pipeline, refined)")
	assert.Contains(t, out, "Focus window: scenes 0-6")
	assert.Contains(t, out, "black (0.90, CONSTANT)")
	assert.Contains(t, out, `"Her black hair was braided." [scene 2]`)
	assert.Contains(t, out, "1 context fragments")
	// Attributes are sorted by key.
	assert.Less(t, strings.Index(out, "eyeColor"), strings.Index(out, "hairColor"))
}

func TestWriteAnalysis_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAnalysis(&buf, analysis(), OutputJSON))
	var decoded models.AnalysisResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "Mara", decoded.EntityName)
	assert.Nil(t, decoded.Attributes["eyeColor"].Value)
	assert.Equal(t, "black", *decoded.Attributes["hairColor"].Value)
}

func TestWriteFocusWindow(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFocusWindow(&buf, nil, OutputText))
	assert.Contains(t, buf.String(), "No scene matched")

	buf.Reset()
	win := &models.FocusWindow{StartGlobalIndex: 2, EndGlobalIndex: 6, MatchedScenes: []models.SceneMatch{{GlobalIndex: 4, Score: 0.91, Summary: "The battle at the ford begins."}}}
	require.NoError(t, WriteFocusWindow(&buf, win, OutputText))
	assert.Contains(t, buf.String(), "Focus window: scenes 2-6")
	assert.Contains(t, buf.String(), "The battle at the ford begins.")

	buf.Reset()
	require.NoError(t, WriteFocusWindow(&buf, nil, OutputJSON))
	assert.JSONEq(t, `{"window": null}`, buf.String())
}

func TestWriteDocument(t *testing.T) {
	var buf bytes.Buffer
	doc := &models.Document{ID: "doc-1", Title: "The Ford", Status: models.DocumentFailed, Error: "daily task quota exceeded"}
	require.NoError(t, WriteDocument(&buf, doc, OutputText))
	assert.Contains(t, buf.String(), "doc-1  FAILED")
	assert.Contains(t, buf.String(), "error: daily task quota exceeded")
}

func TestWriteUsage(t *testing.T) {
	var buf bytes.Buffer
	usage := []*models.BudgetUsage{
		{Date: "2026-10-16", Task: "scene_extraction", Requests: 3},
		{Date: "2026-10-16", Provider: "openai", Model: "gpt-4o-mini", Requests: 3, TokensIn: 900, TokensOut: 120},
	}
	require.NoError(t, WriteUsage(&buf, "2026-10-16", usage, true, OutputText))
	out := buf.String()
	assert.Contains(t, out, "Budget usage for 2026-10-16 (limits disabled)")
	assert.Contains(t, out, "task scene_extraction")
	assert.Contains(t, out, "model gpt-4o-mini (openai)")

	buf.Reset()
	require.NoError(t, WriteUsage(&buf, "2026-10-16", nil, false, OutputText))
	assert.Contains(t, buf.String(), "no requests")
}

func TestWriteStatus(t *testing.T) {
	var buf bytes.Buffer
	fp := []storage.Footprint{{Name: "database", Path: "/data/taleweave.db", Bytes: 2048}, {Name: "vectors", Path: "/data/vectors.gob", Bytes: 512}}
	require.NoError(t, WriteStatus(&buf, 4, fp, OutputText))
	out := buf.String()
	assert.Contains(t, out, "Documents: 4")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "2.5 KiB")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "1.5 MiB", FormatBytes(3*512*1024))
}
