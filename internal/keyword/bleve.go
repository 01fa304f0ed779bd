package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/taleweave/internal/models"
)

const (
	fieldText       = "text"
	fieldOwner      = "owner_id"
	fieldDocument   = "document_id"
	fieldLayer      = "layer"
	fieldSceneIndex = "global_scene_index"
	fieldEntities   = "entities"

	deletePageSize = 1000
)

// BleveIndex implements FragmentIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// If you change the index mapping in code, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemBleveIndex creates an in-memory Bleve index.
func NewMemBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func buildMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so names match exactly.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldText, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldEntities, textFieldMapping)

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt(fieldOwner, keywordFieldMapping)
	docMapping.AddFieldMappingsAt(fieldDocument, keywordFieldMapping)
	docMapping.AddFieldMappingsAt(fieldLayer, keywordFieldMapping)
	docMapping.AddFieldMappingsAt(fieldSceneIndex, bleve.NewNumericFieldMapping())

	im.AddDocumentMapping("fragment", docMapping)
	im.DefaultType = "fragment"
	im.DefaultMapping = docMapping
	return im
}

// Index indexes fragments in one batch, replacing existing entries with the same ID.
func (b *BleveIndex) Index(ctx context.Context, fragments []*models.Fragment) error {
	batch := b.index.NewBatch()
	for _, f := range fragments {
		sceneIdx := -1.0
		if f.GlobalSceneIndex != nil {
			sceneIdx = float64(*f.GlobalSceneIndex)
		}
		doc := map[string]interface{}{
			fieldText:       f.Text,
			fieldOwner:      f.OwnerID,
			fieldDocument:   f.DocumentID,
			fieldLayer:      string(f.Layer),
			fieldSceneIndex: sceneIdx,
			fieldEntities:   strings.Join(f.EntityNames, " "),
		}
		if err := batch.Index(f.ID, doc); err != nil {
			return fmt.Errorf("failed to index fragment %s: %w", f.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Search runs a match query over text and entity names within scope.
func (b *BleveIndex) Search(ctx context.Context, query string, scope Scope, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if scope.OwnerID == "" || scope.DocumentID == "" {
		return nil, models.ErrMissingScope
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	fuzzyEnabled := false
	fuzziness := 1
	if opts != nil {
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	var textQuery blevequery.Query
	if fuzzyEnabled {
		textQuery = bleve.NewDisjunctionQuery(buildFuzzyQuery(query, fuzziness, fieldText), buildFuzzyQuery(query, fuzziness, fieldEntities))
	} else {
		tq := bleve.NewMatchQuery(query)
		tq.SetField(fieldText)
		eq := bleve.NewMatchQuery(query)
		eq.SetField(fieldEntities)
		textQuery = bleve.NewDisjunctionQuery(tq, eq)
	}

	search := bleve.NewSearchRequest(bleve.NewConjunctionQuery(append(scopeQueries(scope), textQuery)...))
	search.Size = limit
	results, err := b.index.SearchInContext(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

func scopeQueries(scope Scope) []blevequery.Query {
	owner := bleve.NewTermQuery(scope.OwnerID)
	owner.SetField(fieldOwner)
	doc := bleve.NewTermQuery(scope.DocumentID)
	doc.SetField(fieldDocument)
	qs := []blevequery.Query{owner, doc}

	if len(scope.Layers) > 0 {
		layers := make([]blevequery.Query, len(scope.Layers))
		for i, l := range scope.Layers {
			lq := bleve.NewTermQuery(string(l))
			lq.SetField(fieldLayer)
			layers[i] = lq
		}
		qs = append(qs, bleve.NewDisjunctionQuery(layers...))
	}
	if scope.SceneRange != nil {
		lo, hi := float64(scope.SceneRange.Start), float64(scope.SceneRange.End)
		inclusive := true
		rq := bleve.NewNumericRangeInclusiveQuery(&lo, &hi, &inclusive, &inclusive)
		rq.SetField(fieldSceneIndex)
		qs = append(qs, rq)
	}
	return qs
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries for each term in the query.
func buildFuzzyQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := strings.Fields(strings.ToLower(queryStr))
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(field)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DeleteDocument removes every fragment of a document from the index.
func (b *BleveIndex) DeleteDocument(ctx context.Context, documentID string) error {
	for {
		q := bleve.NewTermQuery(documentID)
		q.SetField(fieldDocument)
		req := bleve.NewSearchRequest(q)
		req.Size = deletePageSize
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("Bleve search failed: %w", err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete fragments: %w", err)
		}
	}
}

// DeleteFragments removes the fragments with the given IDs. Unknown IDs are ignored.
func (b *BleveIndex) DeleteFragments(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += deletePageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := b.index.NewBatch()
		for _, id := range ids[start:min(start+deletePageSize, len(ids))] {
			batch.Delete(id)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete fragments: %w", err)
		}
	}
	return nil
}

// DocCount returns the total number of fragments in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
