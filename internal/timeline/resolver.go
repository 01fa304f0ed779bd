// Package timeline resolves a free-text moment ("after the fire at the mill")
// into a window of global scene indices of a document.
package timeline

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/embedding"
	"github.com/hyperjump/taleweave/internal/fragment"
	"github.com/hyperjump/taleweave/internal/models"
)

// Direction is the temporal cue found in focus text.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionBefore
	DirectionAfter
)

var (
	beforeCue = regexp.MustCompile(`(?i)\b(before|prior to|earlier|until|leading up to|ahead of)\b`)
	afterCue  = regexp.MustCompile(`(?i)\b(after|following|later|since|aftermath|once)\b`)
)

// DetectDirection returns the cue class of text. When both classes appear the
// one mentioned first wins.
func DetectDirection(text string) Direction {
	b := beforeCue.FindStringIndex(text)
	a := afterCue.FindStringIndex(text)
	switch {
	case b == nil && a == nil:
		return DirectionNone
	case a == nil:
		return DirectionBefore
	case b == nil:
		return DirectionAfter
	case b[0] <= a[0]:
		return DirectionBefore
	default:
		return DirectionAfter
	}
}

// SceneIndexer reports the last global scene index of a document.
type SceneIndexer interface {
	MaxGlobalSceneIndex(ctx context.Context, docID string) (int, error)
}

// Resolver maps focus text onto scene summaries.
type Resolver struct {
	fragments *fragment.Store
	embedder  embedding.Embedder
	scenes    SceneIndexer
	cfg       config.TimelineConfig
	logger    *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver.
func NewResolver(fragments *fragment.Store, embedder embedding.Embedder, scenes SceneIndexer, cfg config.TimelineConfig, opts ...Option) *Resolver {
	r := &Resolver{fragments: fragments, embedder: embedder, scenes: scenes, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.TopK <= 0 {
		r.cfg.TopK = 12
	}
	if r.cfg.Padding < 0 {
		r.cfg.Padding = 0
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// ResolveFocusWindow returns the scene window focusText refers to, or nil
// when focusText is blank, when more or fewer than one document is targeted,
// or when no scene summary scores at least SimilarityThreshold.
//
// A before-class cue opens the window at scene 0 and an after-class cue
// extends it to the document's last scene; otherwise the matched span is
// padded by Padding scenes on both sides. The window is clamped to the
// document's scenes.
func (r *Resolver) ResolveFocusWindow(ctx context.Context, ownerID string, documentIDs []string, focusText string) (*models.FocusWindow, error) {
	focusText = strings.TrimSpace(focusText)
	if focusText == "" || len(documentIDs) != 1 {
		return nil, nil
	}
	docID := documentIDs[0]

	vec, err := r.embedder.Embed(ctx, focusText)
	if err != nil {
		return nil, fmt.Errorf("embed focus text: %w", err)
	}
	hits, err := r.fragments.Search(ctx, fragment.SearchRequest{
		OwnerID:    ownerID,
		DocumentID: docID,
		Embedding:  vec,
		Layers:     []models.Layer{models.LayerScene},
		TopK:       r.cfg.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("search scenes: %w", err)
	}

	var matches []models.SceneMatch
	for _, h := range hits {
		if h.Score < r.cfg.SimilarityThreshold || h.Fragment.GlobalSceneIndex == nil {
			continue
		}
		matches = append(matches, models.SceneMatch{
			SceneID:     h.Fragment.SceneID,
			GlobalIndex: *h.Fragment.GlobalSceneIndex,
			Score:       h.Score,
			Summary:     h.Fragment.Text,
		})
	}
	if len(matches) == 0 {
		r.logger.Debug("no scene matched focus text", zap.String("document_id", docID), zap.String("focus", focusText))
		return nil, nil
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].GlobalIndex < matches[j].GlobalIndex })

	maxIndex, err := r.scenes.MaxGlobalSceneIndex(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("last scene index: %w", err)
	}
	first := matches[0].GlobalIndex
	last := matches[len(matches)-1].GlobalIndex
	if maxIndex < last {
		maxIndex = last
	}

	start, end := first-r.cfg.Padding, last+r.cfg.Padding
	switch DetectDirection(focusText) {
	case DirectionBefore:
		start = 0
	case DirectionAfter:
		end = maxIndex
	}
	start = max(0, min(start, maxIndex))
	end = max(start, min(end, maxIndex))

	w := &models.FocusWindow{StartGlobalIndex: start, EndGlobalIndex: end, MatchedScenes: matches}
	r.logger.Debug("focus window resolved",
		zap.String("document_id", docID),
		zap.Int("start", start), zap.Int("end", end), zap.Int("matches", len(matches)))
	return w, nil
}
