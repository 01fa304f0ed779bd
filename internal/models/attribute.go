package models

import (
	"strings"

	"github.com/hyperjump/taleweave/pkg/utils"
)

// TimeState classifies attribute evidence relative to a focus window.
type TimeState string

const (
	TimeBefore   TimeState = "BEFORE"
	TimeAfter    TimeState = "AFTER"
	TimeConstant TimeState = "CONSTANT"
	TimeUnknown  TimeState = "UNKNOWN"
)

// QuotePlaceholder replaces an evidence quote the model did not provide.
const QuotePlaceholder = "[quote not provided]"

// Evidence is a quoted span supporting an attribute value.
type Evidence struct {
	Quote      string `json:"quote"`
	DocumentID string `json:"document_id,omitempty"`
	Location   string `json:"location,omitempty"`
}

// AttributeValue is the extracted value of one named property of an entity.
type AttributeValue struct {
	Value      *string    `json:"value"`
	Confidence float64    `json:"confidence"`
	TimeState  TimeState  `json:"time_state"`
	Evidence   []Evidence `json:"evidence"`
	Notes      string     `json:"notes,omitempty"`
}

// UnknownValue returns an attribute value with no value.
func UnknownValue() AttributeValue {
	return AttributeValue{TimeState: TimeUnknown, Evidence: []Evidence{}}
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// HasValue reports whether the value is non-nil and not blank.
func (a AttributeValue) HasValue() bool {
	return a.Value != nil && strings.TrimSpace(*a.Value) != ""
}

// Normalize enforces the value invariants: confidence is clamped to [0,1],
// a nil value forces confidence 0 and UNKNOWN, and empty quotes become the placeholder.
func (a AttributeValue) Normalize() AttributeValue {
	if a.Value != nil && strings.TrimSpace(*a.Value) == "" {
		a.Value = nil
	}
	a.Confidence = utils.Clamp01(a.Confidence)
	if a.TimeState == "" {
		a.TimeState = TimeUnknown
	}
	if a.Value == nil {
		a.Confidence = 0
		a.TimeState = TimeUnknown
	}
	ev := make([]Evidence, 0, len(a.Evidence))
	for _, e := range a.Evidence {
		if strings.TrimSpace(e.Quote) == "" {
			e.Quote = QuotePlaceholder
		}
		ev = append(ev, e)
	}
	a.Evidence = ev
	return a
}
