package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperjump/taleweave/internal/models"
)

// Vocabulary maps the confidence words a prompt allows onto numbers.
type Vocabulary map[string]float64

var (
	// CharacterVocabulary is used by the character pipeline.
	CharacterVocabulary = Vocabulary{"explicit": 0.9, "inferred": 0.6, "unknown": 0}
	// GenericVocabulary is used by the generic pipeline.
	GenericVocabulary = Vocabulary{"high": 0.9, "medium": 0.6, "low": 0.3, "none": 0}
)

const (
	// FailedValue is the placeholder value of an attribute whose extraction
	// call failed or was denied by the budget.
	FailedValue      = "extraction failed"
	failedConfidence = 0.05
	// bareConfidence is used when the model answered with a bare value.
	bareConfidence = 0.6
	maxUnwrapDepth = 3
)

var wrapperKeys = []string{"attributes", "result", "data"}

var (
	constantCue = regexp.MustCompile(`(?i)\b(always|since birth|born with|all (his|her|their) life|never changed)\b`)
	beforeCue   = regexp.MustCompile(`(?i)\b(before|used to|once had|formerly|previously|earlier|as a (child|boy|girl)|years ago|back then)\b`)
	afterCue    = regexp.MustCompile(`(?i)\b(after|afterwards|later|since|no longer|had become|by then|now)\b`)
)

// Confidence maps a raw confidence (a vocabulary word or a number) to [0,1].
func (v Vocabulary) Confidence(raw any) float64 {
	switch c := raw.(type) {
	case float64:
		return c
	case string:
		s := strings.ToLower(strings.TrimSpace(c))
		if f, ok := v[s]; ok {
			return f
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}

// Unwrap finds the object holding the attribute keys in a decoded model
// response. Models sometimes nest it under "attributes", "result", "data" or
// the entity name; at most three levels are unwrapped.
func Unwrap(raw map[string]any, keys []string, entityName string) map[string]any {
	cur := raw
	for depth := 0; ; depth++ {
		if depth == maxUnwrapDepth || hasAnyKey(cur, keys) {
			return cur
		}
		next := wrapped(cur, entityName)
		if next == nil {
			return cur
		}
		cur = next
	}
}

func wrapped(m map[string]any, entityName string) map[string]any {
	candidates := append([]string{}, wrapperKeys...)
	if name := strings.TrimSpace(entityName); name != "" {
		candidates = append(candidates, name)
	}
	for _, c := range candidates {
		if v, ok := lookup(m, c); ok {
			if inner, ok := v.(map[string]any); ok {
				return inner
			}
		}
	}
	if len(m) == 1 {
		for _, v := range m {
			if inner, ok := v.(map[string]any); ok {
				return inner
			}
		}
	}
	return nil
}

func hasAnyKey(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := lookup(m, k); ok {
			return true
		}
	}
	return false
}

// lookup returns m[key], falling back to a case-insensitive match.
func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return v, true
		}
	}
	return nil, false
}

// ParseAttributes reads every key of keys out of obj. Missing keys are unknown.
// Evidence is attributed to documentID.
func ParseAttributes(obj map[string]any, keys []string, vocab Vocabulary, documentID string) map[string]models.AttributeValue {
	out := make(map[string]models.AttributeValue, len(keys))
	for _, k := range keys {
		raw, ok := lookup(obj, k)
		if !ok {
			out[k] = models.UnknownValue()
			continue
		}
		out[k] = parseValue(raw, vocab, documentID)
	}
	return out
}

func parseValue(raw any, vocab Vocabulary, documentID string) models.AttributeValue {
	var av models.AttributeValue
	switch v := raw.(type) {
	case nil:
		return models.UnknownValue()
	case map[string]any:
		av.Value = valueString(v["value"])
		av.Confidence = vocab.Confidence(v["confidence"])
		av.Evidence = parseEvidence(v["evidence"], documentID)
		if notes, ok := v["notes"].(string); ok {
			av.Notes = strings.TrimSpace(notes)
		}
	default:
		av.Value = valueString(v)
		av.Confidence = bareConfidence
	}
	av.TimeState = InferTimeState(av.Evidence)
	return av.Normalize()
}

func valueString(raw any) *string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" || strings.EqualFold(s, "null") {
			return nil
		}
		return &s
	case []any:
		var parts []string
		for _, item := range v {
			if s := valueString(item); s != nil {
				parts = append(parts, *s)
			}
		}
		if len(parts) == 0 {
			return nil
		}
		return models.StringPtr(strings.Join(parts, ", "))
	case bool, float64:
		return models.StringPtr(fmt.Sprint(v))
	}
	return nil
}

func parseEvidence(raw any, documentID string) []models.Evidence {
	var items []any
	switch v := raw.(type) {
	case nil:
		return []models.Evidence{}
	case []any:
		items = v
	default:
		items = []any{v}
	}
	out := make([]models.Evidence, 0, len(items))
	for _, item := range items {
		switch e := item.(type) {
		case string:
			out = append(out, models.Evidence{Quote: strings.TrimSpace(e), DocumentID: documentID})
		case map[string]any:
			ev := models.Evidence{DocumentID: documentID}
			if q, ok := e["quote"].(string); ok {
				ev.Quote = strings.TrimSpace(q)
			}
			if loc, ok := e["location"].(string); ok {
				ev.Location = strings.TrimSpace(loc)
			}
			out = append(out, ev)
		}
	}
	return out
}

// InferTimeState classifies evidence by lexical cues in its quotes: a
// constancy cue wins, otherwise the first before or after cue decides.
func InferTimeState(evidence []models.Evidence) models.TimeState {
	var quotes []string
	for _, e := range evidence {
		if e.Quote != "" && e.Quote != models.QuotePlaceholder {
			quotes = append(quotes, e.Quote)
		}
	}
	text := strings.Join(quotes, " ")
	if text == "" {
		return models.TimeUnknown
	}
	if constantCue.MatchString(text) {
		return models.TimeConstant
	}
	b := beforeCue.FindStringIndex(text)
	a := afterCue.FindStringIndex(text)
	switch {
	case b == nil && a == nil:
		return models.TimeUnknown
	case a == nil:
		return models.TimeBefore
	case b == nil:
		return models.TimeAfter
	case b[0] <= a[0]:
		return models.TimeBefore
	default:
		return models.TimeAfter
	}
}

// unknownAttributes returns an unknown value for every key.
func unknownAttributes(keys []string) map[string]models.AttributeValue {
	out := make(map[string]models.AttributeValue, len(keys))
	for _, k := range keys {
		out[k] = models.UnknownValue()
	}
	return out
}

// failedAttributes returns the failure placeholder for every key.
func failedAttributes(keys []string) map[string]models.AttributeValue {
	out := make(map[string]models.AttributeValue, len(keys))
	for _, k := range keys {
		out[k] = models.AttributeValue{
			Value:      models.StringPtr(FailedValue),
			Confidence: failedConfidence,
			TimeState:  models.TimeUnknown,
			Evidence:   []models.Evidence{},
		}
	}
	return out
}

func isFailed(v models.AttributeValue) bool {
	return v.Value != nil && *v.Value == FailedValue
}
