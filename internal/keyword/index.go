// Package keyword provides an auxiliary BM25 index over fragment text. It is
// fused with vector search during targeted retrieval and never replaces it.
package keyword

import (
	"context"

	"github.com/hyperjump/taleweave/internal/models"
)

// Scope restricts a keyword search. OwnerID and DocumentID are required.
type Scope struct {
	OwnerID    string
	DocumentID string
	Layers     []models.Layer
	SceneRange *models.SceneRange
}

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// FuzzyEnabled enables fuzzy matching so misspelled names still match.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 1 when FuzzyEnabled is true.
	Fuzziness int
}

// FragmentIndex defines keyword indexing and search over fragments.
type FragmentIndex interface {
	Index(ctx context.Context, fragments []*models.Fragment) error
	Search(ctx context.Context, query string, scope Scope, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	DeleteDocument(ctx context.Context, documentID string) error
	DeleteFragments(ctx context.Context, ids []string) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit; ID is the fragment ID.
type KeywordResult struct {
	ID    string
	Score float64
}
