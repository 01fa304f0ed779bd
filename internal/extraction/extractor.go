package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/budget"
	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/llm"
	"github.com/hyperjump/taleweave/internal/models"
)

// ExtractInput is one extraction call: the context of a single document.
type ExtractInput struct {
	EntityName string
	EntityType string
	DocumentID string
	Template   *Template
	Fragments  []models.ScoredFragment
	Window     *models.FocusWindow
	FocusText  string
}

// Extractor turns a context into attribute values for every template key.
// Provider and parse failures are answered with placeholder or unknown values;
// an error means the prompt itself could not be built.
type Extractor interface {
	Extract(ctx context.Context, in ExtractInput) (map[string]models.AttributeValue, error)
	Name() string
}

// ExtractorConfig configures an LLM-backed extractor.
type ExtractorConfig struct {
	Client   llm.Client
	Governor *budget.Governor
	// Model is the extraction model; empty uses the client default.
	Model string
	// Prompt overrides the built-in prompt template.
	Prompt string
	Logger *zap.Logger
}

type llmExtractor struct {
	client   llm.Client
	governor *budget.Governor
	model    string
	prompt   string
	vocab    Vocabulary
	logger   *zap.Logger
}

func newLLMExtractor(cfg ExtractorConfig, defaultPrompt string, vocab Vocabulary) llmExtractor {
	e := llmExtractor{
		client:   cfg.Client,
		governor: cfg.Governor,
		model:    cfg.Model,
		prompt:   cfg.Prompt,
		vocab:    vocab,
		logger:   cfg.Logger,
	}
	if e.prompt == "" {
		e.prompt = defaultPrompt
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// run renders the prompt, calls the model and parses the answer.
func (e *llmExtractor) run(ctx context.Context, in ExtractInput, data any) (map[string]models.AttributeValue, error) {
	keys := in.Template.Keys()
	prompt, err := config.Render(e.prompt, data)
	if err != nil {
		return nil, err
	}
	req := llm.Request{Prompt: prompt, Model: e.model, JSONMode: true}
	var resp *llm.Response
	if e.governor != nil {
		resp, err = e.governor.Complete(ctx, e.client, config.TaskAttributeExtraction, req)
	} else {
		resp, err = e.client.Complete(ctx, req)
	}
	if err != nil {
		level := e.logger.Warn
		if errors.Is(err, budget.ErrDenied) {
			level = e.logger.Info
		}
		level("attribute extraction call failed",
			zap.String("entity", in.EntityName),
			zap.String("document_id", in.DocumentID),
			zap.Error(err))
		return failedAttributes(keys), nil
	}

	var raw map[string]any
	if err := llm.DecodeJSON(resp.Text, &raw); err != nil {
		e.logger.Warn("malformed attribute response",
			zap.String("entity", in.EntityName),
			zap.String("document_id", in.DocumentID),
			zap.Error(err))
		return unknownAttributes(keys), nil
	}
	return ParseAttributes(Unwrap(raw, keys, in.EntityName), keys, e.vocab, in.DocumentID), nil
}

// CharacterExtractor is the character pipeline. Its confidence vocabulary is
// explicit/inferred/unknown, and with a focus window transient attributes
// must be supported by quotes from focused passages.
type CharacterExtractor struct {
	llmExtractor
}

// NewCharacterExtractor creates the character pipeline extractor.
func NewCharacterExtractor(cfg ExtractorConfig) *CharacterExtractor {
	return &CharacterExtractor{newLLMExtractor(cfg, config.DefaultPrompts().CharacterExtraction, CharacterVocabulary)}
}

// Name returns "character".
func (e *CharacterExtractor) Name() string { return TypeCharacter }

// Extract implements Extractor.
func (e *CharacterExtractor) Extract(ctx context.Context, in ExtractInput) (map[string]models.AttributeValue, error) {
	text, focused := renderContext(in.Fragments, in.Window)
	attrs, err := e.run(ctx, in, struct {
		EntityName string
		Attributes []string
		HasWindow  bool
		FocusText  string
		Transient  []string
		Context    string
	}{in.EntityName, in.Template.Keys(), in.Window != nil, in.FocusText, in.Template.Transient(), text})
	if err != nil {
		return nil, fmt.Errorf("character extraction: %w", err)
	}
	if in.Window != nil {
		dropped := partitionTransient(attrs, in.Template, focused)
		if len(dropped) > 0 {
			e.logger.Debug("transient attributes without focused evidence reset",
				zap.String("entity", in.EntityName),
				zap.Strings("attributes", dropped))
		}
	}
	return attrs, nil
}

// GenericExtractor serves every non-character template. Its confidence
// vocabulary is high/medium/low/none.
type GenericExtractor struct {
	llmExtractor
}

// NewGenericExtractor creates the generic pipeline extractor.
func NewGenericExtractor(cfg ExtractorConfig) *GenericExtractor {
	return &GenericExtractor{newLLMExtractor(cfg, config.DefaultPrompts().GenericExtraction, GenericVocabulary)}
}

// Name returns "generic".
func (e *GenericExtractor) Name() string { return TypeGeneric }

// Extract implements Extractor.
func (e *GenericExtractor) Extract(ctx context.Context, in ExtractInput) (map[string]models.AttributeValue, error) {
	text, _ := renderContext(in.Fragments, in.Window)
	entityType := in.EntityType
	if entityType == "" {
		entityType = in.Template.EntityType
	}
	attrs, err := e.run(ctx, in, struct {
		EntityName string
		EntityType string
		Attributes []string
		HasWindow  bool
		FocusText  string
		Context    string
	}{in.EntityName, entityType, in.Template.Keys(), in.Window != nil, in.FocusText, text})
	if err != nil {
		return nil, fmt.Errorf("generic extraction: %w", err)
	}
	return attrs, nil
}

// renderContext numbers the passages for the prompt. With a window every
// passage is tagged [FOCUS] or [BASELINE]; the focused text is returned too.
func renderContext(frags []models.ScoredFragment, window *models.FocusWindow) (string, string) {
	var b, focused strings.Builder
	for i, sf := range frags {
		f := sf.Fragment
		fmt.Fprintf(&b, "[%d] ", i+1)
		if window != nil {
			if inWindow(f, window) {
				b.WriteString("[FOCUS] ")
				focused.WriteString(f.Text)
				focused.WriteByte('\n')
			} else {
				b.WriteString("[BASELINE] ")
			}
		}
		if f.GlobalSceneIndex != nil {
			fmt.Fprintf(&b, "(scene %d) ", *f.GlobalSceneIndex)
		}
		b.WriteString(strings.TrimSpace(f.Text))
		b.WriteString("\n\n")
	}
	return b.String(), focused.String()
}

func inWindow(f *models.Fragment, window *models.FocusWindow) bool {
	return window != nil && f.GlobalSceneIndex != nil && window.Range().Contains(*f.GlobalSceneIndex)
}

// partitionTransient resets every transient attribute whose quotes do not
// occur in the focused text. It returns the reset keys.
func partitionTransient(attrs map[string]models.AttributeValue, tmpl *Template, focusedText string) []string {
	haystack := matchForm(focusedText)
	var dropped []string
	for _, key := range tmpl.Transient() {
		v, ok := attrs[key]
		if !ok || !v.HasValue() || isFailed(v) {
			continue
		}
		if quotedIn(v.Evidence, haystack) {
			continue
		}
		reset := models.UnknownValue()
		reset.Notes = "no supporting quote inside the focus window"
		attrs[key] = reset
		dropped = append(dropped, key)
	}
	return dropped
}

func quotedIn(evidence []models.Evidence, haystack string) bool {
	for _, e := range evidence {
		if e.Quote == models.QuotePlaceholder {
			continue
		}
		q := strings.Trim(matchForm(e.Quote), `"'.,;:!? `)
		if q != "" && strings.Contains(haystack, q) {
			return true
		}
	}
	return false
}

// matchForm lowercases s, folds typographic quotes and collapses whitespace.
func matchForm(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.In(r, unicode.Pi, unicode.Pf):
			return '\''
		case unicode.IsSpace(r):
			return ' '
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
