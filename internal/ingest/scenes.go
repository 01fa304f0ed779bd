package ingest

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/budget"
	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/llm"
)

// SceneSpan is one extracted scene with absolute byte offsets.
type SceneSpan struct {
	Start         int
	End           int
	Summary       string
	POV           string
	Location      string
	Events        []string
	TemporalHints []string
}

type sceneResponse struct {
	Scenes []struct {
		Summary       string   `json:"summary"`
		POV           string   `json:"pov"`
		Location      string   `json:"location"`
		Events        []string `json:"events"`
		TemporalHints []string `json:"temporal_hints"`
		StartQuote    string   `json:"start_quote"`
		EndQuote      string   `json:"end_quote"`
	} `json:"scenes"`
}

// SceneExtractor asks the LLM for the scenes of a chapter and maps the
// returned quote anchors back to offsets.
type SceneExtractor struct {
	client   llm.Client
	governor *budget.Governor
	prompt   string
	model    string
	logger   *zap.Logger
}

// NewSceneExtractor creates an extractor. model may be empty for the client default.
func NewSceneExtractor(client llm.Client, governor *budget.Governor, prompts *config.Prompts, model string, logger *zap.Logger) *SceneExtractor {
	if prompts == nil {
		prompts = config.DefaultPrompts()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SceneExtractor{client: client, governor: governor, prompt: prompts.SceneExtraction, model: model, logger: logger}
}

// Model returns the model scene extraction calls use.
func (x *SceneExtractor) Model() string {
	return llm.ModelFor(x.client, llm.Request{Model: x.model})
}

// Extract returns the ordered, non-overlapping scenes of chapter ch, tiling
// the chapter range. Any LLM failure yields one scene covering the chapter.
func (x *SceneExtractor) Extract(ctx context.Context, text string, ch ChapterSpan) []SceneSpan {
	body := text[ch.Start:ch.End]
	fallback := []SceneSpan{{Start: ch.Start, End: ch.End, Summary: chapterSummary(ch, body)}}

	prompt, err := config.Render(x.prompt, map[string]any{
		"ChapterIndex": ch.Index + 1,
		"ChapterTitle": ch.Title,
		"Text":         body,
	})
	if err != nil {
		x.logger.Warn("scene prompt render failed", zap.Error(err))
		return fallback
	}
	resp, err := x.governor.Complete(ctx, x.client, config.TaskSceneExtraction, llm.Request{
		Prompt:   prompt,
		Model:    x.model,
		JSONMode: true,
	})
	if err != nil {
		x.logger.Warn("scene extraction failed, using whole chapter",
			zap.Int("chapter", ch.Index), zap.Error(err))
		return fallback
	}
	var parsed sceneResponse
	if err := llm.DecodeJSON(resp.Text, &parsed); err != nil || len(parsed.Scenes) == 0 {
		x.logger.Warn("unusable scene extraction response, using whole chapter",
			zap.Int("chapter", ch.Index), zap.Error(err))
		return fallback
	}

	anchors := make([]anchor, len(parsed.Scenes))
	for i, s := range parsed.Scenes {
		anchors[i] = anchor{start: s.StartQuote, end: s.EndQuote}
	}
	starts := locateStarts(body, anchors)

	var scenes []SceneSpan
	for i, s := range parsed.Scenes {
		start := min(starts[i], len(body))
		end := len(body)
		if i+1 < len(starts) {
			end = min(starts[i+1], len(body))
		}
		if end <= start {
			continue
		}
		scenes = append(scenes, SceneSpan{
			Start:         ch.Start + start,
			End:           ch.Start + end,
			Summary:       strings.TrimSpace(s.Summary),
			POV:           strings.TrimSpace(s.POV),
			Location:      strings.TrimSpace(s.Location),
			Events:        compact(s.Events),
			TemporalHints: compact(s.TemporalHints),
		})
	}
	if len(scenes) == 0 {
		return fallback
	}
	// The first scene always opens the chapter so no text is left unassigned.
	scenes[0].Start = ch.Start
	return scenes
}

type anchor struct {
	start string
	end   string
}

// locateStarts finds each scene's start offset in body. The search for a
// start quote begins at the cursor, which advances past each located start and
// end quote; a quote that cannot be found falls back to the cursor. The
// returned offsets never decrease and never exceed len(body).
func locateStarts(body string, anchors []anchor) []int {
	starts := make([]int, len(anchors))
	cursor := 0
	for i, a := range anchors {
		start := cursor
		if pos, _ := findQuote(body, a.start, cursor); pos >= 0 {
			start = pos
		}
		starts[i] = min(start, len(body))
		cursor = starts[i]
		if pos, n := findQuote(body, a.end, cursor); pos >= 0 {
			cursor = min(pos+n, len(body))
		}
	}
	return starts
}

// findQuote returns the offset of quote in body at or after from and the
// length of the matched text, or -1. Quotes are matched exactly first, then
// by their first few words.
func findQuote(body, quote string, from int) (int, int) {
	quote = strings.TrimSpace(quote)
	if quote == "" || from >= len(body) {
		return -1, 0
	}
	if i := strings.Index(body[from:], quote); i >= 0 {
		return from + i, len(quote)
	}
	words := strings.Fields(quote)
	if len(words) == 0 {
		return -1, 0
	}
	// Fall back to the first few words, which survive most reflowing.
	if len(words) > 4 {
		words = words[:4]
	}
	prefix := strings.Join(words, " ")
	if i := strings.Index(body[from:], prefix); i >= 0 {
		return from + i, len(prefix)
	}
	return -1, 0
}

func chapterSummary(ch ChapterSpan, body string) string {
	if ch.Title != "" {
		return ch.Title + ": " + excerpt(body, 200)
	}
	return excerpt(body, 200)
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
