// Package fragment is the Fragment Store: scoped upsert, filtered similarity
// search, hybrid targeted retrieval and best-effort deletion over a vector index.
package fragment

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/keyword"
	"github.com/hyperjump/taleweave/internal/models"
	"github.com/hyperjump/taleweave/internal/vector"
)

// SearchRequest is a scoped similarity query. OwnerID and DocumentID are required.
type SearchRequest struct {
	OwnerID     string
	DocumentID  string
	Embedding   []float32
	Layers      []models.Layer
	EntityNames []string
	Labels      []string
	SceneRange  *models.SceneRange
	TopK        int
}

func (r SearchRequest) filter() vector.Filter {
	return vector.Filter{
		OwnerID:     r.OwnerID,
		DocumentID:  r.DocumentID,
		Layers:      r.Layers,
		EntityNames: r.EntityNames,
		Labels:      r.Labels,
		SceneRange:  r.SceneRange,
	}
}

// Store persists and retrieves fragments.
type Store struct {
	index         vector.Index
	keyword       keyword.FragmentIndex
	keywordWeight float64
	logger        *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithKeywordIndex enables hybrid search with the given keyword index. weight
// is the share of the fused score given to keyword hits, in [0,1].
func WithKeywordIndex(k keyword.FragmentIndex, weight float64) Option {
	return func(s *Store) {
		s.keyword = k
		s.keywordWeight = weight
	}
}

// NewStore creates a fragment store over index.
func NewStore(index vector.Index, opts ...Option) *Store {
	s := &Store{index: index, keywordWeight: 0.3}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Dimensions returns the embedding dimension the store expects.
func (s *Store) Dimensions() int {
	return s.index.Dimensions()
}

// Upsert inserts or replaces fragments by ID. The keyword index is auxiliary;
// a failure there is logged and does not fail the upsert.
func (s *Store) Upsert(ctx context.Context, fragments []*models.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	for _, f := range fragments {
		if f.OwnerID == "" || f.DocumentID == "" {
			return fmt.Errorf("fragment %s: %w", f.ID, models.ErrMissingScope)
		}
	}
	if err := s.index.Upsert(ctx, fragments); err != nil {
		return fmt.Errorf("upsert fragments: %w", err)
	}
	if s.keyword != nil {
		if err := s.keyword.Index(ctx, fragments); err != nil {
			s.logger.Warn("keyword index upsert failed", zap.Int("fragments", len(fragments)), zap.Error(err))
		}
	}
	return nil
}

// Search returns the top-k fragments inside the request scope.
func (s *Store) Search(ctx context.Context, req SearchRequest) ([]models.ScoredFragment, error) {
	if req.OwnerID == "" || req.DocumentID == "" {
		return nil, models.ErrMissingScope
	}
	if req.TopK <= 0 {
		return nil, nil
	}
	return s.index.Search(ctx, req.Embedding, req.filter(), req.TopK)
}

// HybridSearch fuses vector hits with keyword hits for queryText under the same
// scope. Without a keyword index it is a plain Search.
func (s *Store) HybridSearch(ctx context.Context, req SearchRequest, queryText string) ([]models.ScoredFragment, error) {
	if s.keyword == nil || queryText == "" {
		return s.Search(ctx, req)
	}
	if req.OwnerID == "" || req.DocumentID == "" {
		return nil, models.ErrMissingScope
	}
	if req.TopK <= 0 {
		return nil, nil
	}
	candidates := req.TopK * 4

	var (
		semantic  []models.ScoredFragment
		keywordRs []*keyword.KeywordResult
		semErr    error
		wg        sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		semantic, semErr = s.index.Search(ctx, req.Embedding, req.filter(), candidates)
	}()
	go func() {
		defer wg.Done()
		var err error
		keywordRs, err = s.keyword.Search(ctx, queryText, keyword.Scope{
			OwnerID:    req.OwnerID,
			DocumentID: req.DocumentID,
			Layers:     req.Layers,
			SceneRange: req.SceneRange,
		}, candidates, &keyword.SearchOptions{FuzzyEnabled: true})
		if err != nil {
			s.logger.Warn("keyword search failed, using vector hits only", zap.Error(err))
			keywordRs = nil
		}
	}()
	wg.Wait()
	if semErr != nil {
		return nil, semErr
	}

	byID := make(map[string]*models.Fragment, len(semantic))
	semScores := make(map[string]float64, len(semantic))
	for _, sf := range semantic {
		byID[sf.Fragment.ID] = sf.Fragment
		semScores[sf.Fragment.ID] = sf.Score
	}
	fused := Fuse(NormalizeKeywordScores(keywordRs), semScores, s.keywordWeight, 1-s.keywordWeight)

	// Keyword-only hits still need payloads, and must satisfy the entity and label filters.
	var missing []string
	for _, r := range fused {
		if _, ok := byID[r.ID]; !ok {
			missing = append(missing, r.ID)
		}
	}
	if len(missing) > 0 {
		flt := req.filter()
		flt.IDs = missing
		extra, err := s.index.Scroll(ctx, flt)
		if err != nil {
			return nil, fmt.Errorf("resolve keyword hits: %w", err)
		}
		for _, f := range extra {
			byID[f.ID] = f
		}
	}

	out := make([]models.ScoredFragment, 0, req.TopK)
	for _, r := range fused {
		f, ok := byID[r.ID]
		if !ok {
			continue
		}
		out = append(out, models.ScoredFragment{Fragment: f, Score: r.Score})
		if len(out) == req.TopK {
			break
		}
	}
	return out, nil
}

// DeleteAllFor removes every fragment of a document. It is best effort: index
// failures are logged and nil is returned so relational deletion can proceed.
func (s *Store) DeleteAllFor(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("%w: document id required", models.ErrInvalidInput)
	}
	if err := s.index.Delete(ctx, vector.Filter{DocumentID: documentID}); err != nil {
		s.logger.Warn("vector index delete failed", zap.String("document_id", documentID), zap.Error(err))
	}
	if s.keyword != nil {
		if err := s.keyword.DeleteDocument(ctx, documentID); err != nil {
			s.logger.Warn("keyword index delete failed", zap.String("document_id", documentID), zap.Error(err))
		}
	}
	return nil
}

// DeleteLayer removes one layer of a document's fragments from the vector and
// keyword indexes, used before re-ingestion.
func (s *Store) DeleteLayer(ctx context.Context, documentID string, layer models.Layer) error {
	if documentID == "" {
		return fmt.Errorf("%w: document id required", models.ErrInvalidInput)
	}
	return s.deleteMatching(ctx, vector.Filter{DocumentID: documentID, Layers: []models.Layer{layer}})
}

// DeleteFragments removes the listed fragments of a document from the vector
// and keyword indexes.
func (s *Store) DeleteFragments(ctx context.Context, documentID string, ids []string) error {
	if documentID == "" {
		return fmt.Errorf("%w: document id required", models.ErrInvalidInput)
	}
	if len(ids) == 0 {
		return nil
	}
	return s.deleteMatching(ctx, vector.Filter{DocumentID: documentID, IDs: ids})
}

func (s *Store) deleteMatching(ctx context.Context, filter vector.Filter) error {
	var ids []string
	if s.keyword != nil {
		frags, err := s.index.Scroll(ctx, filter)
		if err != nil {
			return fmt.Errorf("list fragments to delete: %w", err)
		}
		ids = make([]string, len(frags))
		for i, f := range frags {
			ids[i] = f.ID
		}
	}
	if err := s.index.Delete(ctx, filter); err != nil {
		return err
	}
	if s.keyword != nil && len(ids) > 0 {
		if err := s.keyword.DeleteFragments(ctx, ids); err != nil {
			return fmt.Errorf("keyword index delete failed: %w", err)
		}
	}
	return nil
}

// ScrollAllSnippets returns every SNIPPET fragment of a document ordered by position.
func (s *Store) ScrollAllSnippets(ctx context.Context, documentID, ownerID string) ([]*models.Fragment, error) {
	return s.Scroll(ctx, documentID, ownerID, models.LayerSnippet)
}

// Scroll returns every fragment of a layer ordered by position.
func (s *Store) Scroll(ctx context.Context, documentID, ownerID string, layer models.Layer) ([]*models.Fragment, error) {
	if ownerID == "" || documentID == "" {
		return nil, models.ErrMissingScope
	}
	return s.index.Scroll(ctx, vector.Filter{
		OwnerID:    ownerID,
		DocumentID: documentID,
		Layers:     []models.Layer{layer},
	})
}

// Count returns the number of fragments matching filter.
func (s *Store) Count(ctx context.Context, filter vector.Filter) (int, error) {
	return s.index.Count(ctx, filter)
}

// Health checks the vector index.
func (s *Store) Health(ctx context.Context) error {
	return s.index.Health(ctx)
}
