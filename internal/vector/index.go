// Package vector provides fragment vector indexes with payload filtering.
package vector

import (
	"context"
	"strings"

	"github.com/hyperjump/taleweave/internal/models"
)

// Index stores fragments with their embeddings and answers filtered similarity queries.
// Filters are applied before ranking so Top-K is computed over the scoped candidates.
type Index interface {
	// EnsureCollection creates the collection if absent.
	EnsureCollection(ctx context.Context) error
	// Upsert inserts or replaces fragments by ID.
	Upsert(ctx context.Context, fragments []*models.Fragment) error
	Search(ctx context.Context, query []float32, filter Filter, k int) ([]models.ScoredFragment, error)
	Delete(ctx context.Context, filter Filter) error
	// Scroll returns matching fragments without vectors ordered by position.
	Scroll(ctx context.Context, filter Filter) ([]*models.Fragment, error)
	Count(ctx context.Context, filter Filter) (int, error)
	Health(ctx context.Context) error
	Dimensions() int
	Close() error
}

// Filter scopes index operations. Empty fields do not constrain.
// EntityNames and Labels match when any value matches (case-insensitive).
type Filter struct {
	OwnerID     string
	DocumentID  string
	Layers      []models.Layer
	EntityNames []string
	Labels      []string
	SceneRange  *models.SceneRange
	IDs         []string
}

// Matches reports whether f satisfies the filter.
func (flt Filter) Matches(f *models.Fragment) bool {
	if flt.OwnerID != "" && f.OwnerID != flt.OwnerID {
		return false
	}
	if flt.DocumentID != "" && f.DocumentID != flt.DocumentID {
		return false
	}
	if len(flt.Layers) > 0 {
		ok := false
		for _, l := range flt.Layers {
			if f.Layer == l {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(flt.IDs) > 0 {
		ok := false
		for _, id := range flt.IDs {
			if f.ID == id {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if flt.SceneRange != nil {
		if f.GlobalSceneIndex == nil || !flt.SceneRange.Contains(*f.GlobalSceneIndex) {
			return false
		}
	}
	if len(flt.EntityNames) > 0 && !anyFold(flt.EntityNames, f.EntityNames) {
		return false
	}
	if len(flt.Labels) > 0 && !anyFold(flt.Labels, f.Labels) {
		return false
	}
	return true
}

func anyFold(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(w, h) {
				return true
			}
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
