package config

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"github.com/pelletier/go-toml/v2"
)

// Prompts holds the LLM prompt templates. Templates use text/template syntax.
type Prompts struct {
	SceneExtraction      string `toml:"scene_extraction"`
	CharacterExtraction  string `toml:"character_extraction"`
	GenericExtraction    string `toml:"generic_extraction"`
	SnippetLabeling      string `toml:"snippet_labeling"`
	EntityClassification string `toml:"entity_classification"`
	BlockSummary         string `toml:"block_summary"`
}

// DefaultPrompts returns the built-in prompt templates.
func DefaultPrompts() *Prompts {
	return &Prompts{
		SceneExtraction:      defaultSceneExtraction,
		CharacterExtraction:  defaultCharacterExtraction,
		GenericExtraction:    defaultGenericExtraction,
		SnippetLabeling:      defaultSnippetLabeling,
		EntityClassification: defaultEntityClassification,
		BlockSummary:         defaultBlockSummary,
	}
}

// LoadPrompts reads prompt overrides from a TOML file. Keys missing from the
// file keep their built-in template. An empty path returns the defaults.
func LoadPrompts(path string) (*Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file '%s': %w", path, err)
	}
	var override Prompts
	if err := toml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	merge := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	merge(&p.SceneExtraction, override.SceneExtraction)
	merge(&p.CharacterExtraction, override.CharacterExtraction)
	merge(&p.GenericExtraction, override.GenericExtraction)
	merge(&p.SnippetLabeling, override.SnippetLabeling)
	merge(&p.EntityClassification, override.EntityClassification)
	merge(&p.BlockSummary, override.BlockSummary)
	if err := p.check(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Prompts) check() error {
	for name, tmpl := range map[string]string{
		"scene_extraction":      p.SceneExtraction,
		"character_extraction":  p.CharacterExtraction,
		"generic_extraction":    p.GenericExtraction,
		"snippet_labeling":      p.SnippetLabeling,
		"entity_classification": p.EntityClassification,
		"block_summary":         p.BlockSummary,
	} {
		if _, err := template.New(name).Parse(tmpl); err != nil {
			return fmt.Errorf("invalid prompt %s: %w", name, err)
		}
	}
	return nil
}

// Render executes a prompt template with data.
func Render(tmpl string, data any) (string, error) {
	t, err := template.New("prompt").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse prompt: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

const defaultSceneExtraction = `You are segmenting chapter {{.ChapterIndex}} ("{{.ChapterTitle}}") of a novel into scenes.
A scene is one continuous narrative beat (same place, same time span, same participants).
Return JSON only, shaped as:
{"scenes":[{"summary":"...","pov":"...","location":"...","events":["..."],"temporal_hints":["..."],"start_quote":"...","end_quote":"..."}]}
start_quote and end_quote must be short verbatim excerpts (8-15 words) copied exactly from the text,
marking where the scene begins and ends. List scenes in reading order.

CHAPTER TEXT:
{{.Text}}`

const defaultCharacterExtraction = `You are describing the visual appearance of the character "{{.EntityName}}".
Use only the passages below. Return JSON only: an object whose keys are exactly:
{{range .Attributes}}- {{.}}
{{end}}
Each key maps to {"value": string or null, "confidence": "explicit" | "inferred" | "unknown", "evidence": [{"quote": "...", "location": "..."}]}.
"explicit" means the text states it directly; "inferred" means it follows from the text; use null and "unknown" otherwise.
{{if .HasWindow}}Passages marked [FOCUS] describe the requested moment ({{.FocusText}}). Passages marked [BASELINE] are from other times.
Transient attributes ({{range $i, $a := .Transient}}{{if $i}}, {{end}}{{$a}}{{end}}) may only use [FOCUS] passages. Persistent attributes may use any passage.
{{end}}
PASSAGES:
{{.Context}}`

const defaultGenericExtraction = `You are describing the visual appearance of "{{.EntityName}}", a {{.EntityType}}.
Use only the passages below. Return JSON only: an object whose keys are exactly:
{{range .Attributes}}- {{.}}
{{end}}
Each key maps to {"value": string or null, "confidence": "high" | "medium" | "low" | "none", "evidence": [{"quote": "...", "location": "..."}]}.
Use null and "none" when the passages say nothing.
{{if .HasWindow}}The request is focused on: {{.FocusText}}. Prefer passages marked [FOCUS].
{{end}}
PASSAGES:
{{.Context}}`

const defaultSnippetLabeling = `For each numbered fragment, list the named entities (people, places, objects, groups) it mentions
and up to three category labels from: appearance, clothing, weapon, injury, location, action, dialogue, emotion, other.
Return JSON only: {"fragments":[{"index":0,"entities":["..."],"labels":["..."]}]} with one entry per fragment, same order.

FRAGMENTS:
{{range .Fragments}}[{{.Index}}] {{.Text}}
{{end}}`

const defaultEntityClassification = `Decide whether "{{.Name}}" is a character in this story, based on these excerpts.
Return JSON only: {"is_character": true|false, "role": "...", "traits": ["..."], "aliases": ["..."]}.

EXCERPTS:
{{range .Samples}}- {{.}}
{{end}}`

const defaultBlockSummary = `Summarize what happens in these consecutive excerpts of a story in two or three sentences,
and list the characters who appear. Return JSON only: {"summary":"...","characters":["..."]}.

EXCERPTS:
{{range .Snippets}}- {{.}}
{{end}}`
