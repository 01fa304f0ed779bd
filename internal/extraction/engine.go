package extraction

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/taleweave/internal/budget"
	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/embedding"
	"github.com/hyperjump/taleweave/internal/fragment"
	"github.com/hyperjump/taleweave/internal/llm"
	"github.com/hyperjump/taleweave/internal/models"
)

// refineConcurrency bounds the per-attribute searches of the second pass.
const refineConcurrency = 4

// DocumentLookup loads documents for ownership checks.
type DocumentLookup interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

// WindowResolver resolves focus text into a scene window.
type WindowResolver interface {
	ResolveFocusWindow(ctx context.Context, ownerID string, documentIDs []string, focusText string) (*models.FocusWindow, error)
}

// AnalyzeRequest asks for the appearance of one entity across documents.
type AnalyzeRequest struct {
	OwnerID     string   `json:"owner_id"`
	DocumentIDs []string `json:"document_ids"`
	EntityName  string   `json:"entity_name"`
	EntityType  string   `json:"entity_type"`
	FocusText   string   `json:"focus_text,omitempty"`
}

// Engine runs attribute extraction.
type Engine struct {
	docs      DocumentLookup
	fragments *fragment.Store
	embedder  embedding.Embedder
	resolver  WindowResolver
	client    llm.Client
	governor  *budget.Governor
	cfg       config.ExtractionConfig
	registry  *Registry
	prompts   *config.Prompts
	model     string
	character Extractor
	generic   Extractor
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRegistry replaces the built-in template registry.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithPrompts overrides the extraction prompts.
func WithPrompts(p *config.Prompts) Option {
	return func(e *Engine) { e.prompts = p }
}

// WithModel sets the extraction model. Empty uses the client default.
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithExtractors replaces the character and generic extractors. A nil
// argument keeps the built-in one.
func WithExtractors(character, generic Extractor) Option {
	return func(e *Engine) {
		e.character = character
		e.generic = generic
	}
}

// NewEngine creates an engine. resolver may be nil, in which case focus text
// never narrows the context.
func NewEngine(
	docs DocumentLookup,
	fragments *fragment.Store,
	embedder embedding.Embedder,
	resolver WindowResolver,
	client llm.Client,
	governor *budget.Governor,
	cfg config.ExtractionConfig,
	opts ...Option,
) *Engine {
	e := &Engine{
		docs:      docs,
		fragments: fragments,
		embedder:  embedder,
		resolver:  resolver,
		client:    client,
		governor:  governor,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	if e.prompts == nil {
		e.prompts = config.DefaultPrompts()
	}
	if e.cfg.GlobalTopK <= 0 {
		e.cfg.GlobalTopK = 40
	}
	if e.cfg.WindowTopK <= 0 {
		e.cfg.WindowTopK = 30
	}
	if e.cfg.RefineTopK <= 0 {
		e.cfg.RefineTopK = 5
	}
	if e.cfg.MaxContextFragments <= 0 {
		e.cfg.MaxContextFragments = 40
	}
	if e.cfg.MaxRefineTargets <= 0 {
		e.cfg.MaxRefineTargets = 5
	}
	if e.cfg.PoorThreshold <= 0 {
		e.cfg.PoorThreshold = 0.15
	}
	xcfg := ExtractorConfig{Client: client, Governor: governor, Model: e.model, Logger: e.logger}
	if e.character == nil {
		xcfg.Prompt = e.prompts.CharacterExtraction
		e.character = NewCharacterExtractor(xcfg)
	}
	if e.generic == nil {
		xcfg.Prompt = e.prompts.GenericExtraction
		e.generic = NewGenericExtractor(xcfg)
	}
	return e
}

// Registry returns the template registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Analyze extracts the attributes of req.EntityName. Only invalid input and
// storage failures are returned as errors: failed or denied model calls yield
// placeholder values instead.
func (e *Engine) Analyze(ctx context.Context, req AnalyzeRequest) (*models.AnalysisResult, error) {
	name := strings.TrimSpace(req.EntityName)
	if name == "" {
		return nil, fmt.Errorf("entity name is required: %w", models.ErrInvalidInput)
	}
	if req.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required: %w", models.ErrInvalidInput)
	}
	docIDs := uniqueIDs(req.DocumentIDs)
	if len(docIDs) == 0 {
		return nil, fmt.Errorf("at least one document is required: %w", models.ErrInvalidInput)
	}
	for _, id := range docIDs {
		doc, err := e.docs.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc.OwnerID != req.OwnerID {
			return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
		}
	}
	tmpl, err := e.registry.Resolve(req.EntityType)
	if err != nil {
		return nil, err
	}
	entityType := NormalizeType(req.EntityType)
	if entityType == "" {
		entityType = tmpl.EntityType
	}
	extractor := e.route(tmpl)
	keys := tmpl.Keys()

	var window *models.FocusWindow
	if e.resolver != nil && strings.TrimSpace(req.FocusText) != "" {
		window, err = e.resolver.ResolveFocusWindow(ctx, req.OwnerID, docIDs, req.FocusText)
		if err != nil {
			e.logger.Warn("focus window resolution failed", zap.String("focus", req.FocusText), zap.Error(err))
			window = nil
		}
	}

	result := &models.AnalysisResult{
		EntityName: name,
		EntityType: entityType,
		Window:     window,
		Pipeline:   extractor.Name(),
	}

	query := fmt.Sprintf("visual appearance of %s. %s.", name, entityType)
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.logger.Warn("embedding analysis query failed", zap.String("entity", name), zap.Error(err))
		result.Attributes = failedAttributes(keys)
		result.Description = describe(name, tmpl, result.Attributes)
		result.ContextSources = []models.SourceRef{}
		return result, nil
	}

	contexts, err := e.gatherContext(ctx, req.OwnerID, docIDs, vec, window)
	if err != nil {
		return nil, err
	}

	input := func(i int) ExtractInput {
		return ExtractInput{
			EntityName: name,
			EntityType: entityType,
			DocumentID: docIDs[i],
			Template:   tmpl,
			Fragments:  storyOrder(contexts[i]),
			Window:     window,
			FocusText:  req.FocusText,
		}
	}
	perDoc := make([]map[string]models.AttributeValue, len(docIDs))
	for i := range docIDs {
		if perDoc[i], err = extractor.Extract(ctx, input(i)); err != nil {
			return nil, err
		}
	}
	attrs := mergeDocuments(keys, perDoc)

	weaponLike := IsWeaponLike(name, entityType)
	gaps := FindGaps(tmpl, attrs, weaponLike, e.cfg.PoorThreshold, e.cfg.MaxRefineTargets)
	if len(gaps) > 0 {
		added := e.refine(ctx, req.OwnerID, docIDs, name, tmpl, gaps, window, contexts)
		for i := range docIDs {
			if added[i] == 0 {
				continue
			}
			again, err := extractor.Extract(ctx, input(i))
			if err != nil {
				return nil, err
			}
			perDoc[i] = keepBetter(perDoc[i], again)
			result.Refined = true
		}
		if result.Refined {
			attrs = mergeDocuments(keys, perDoc)
		}
	}

	if weaponLike {
		if refined := RefineWeapon(attrs, tmpl, name, flatten(contexts)); len(refined) > 0 {
			e.logger.Debug("weapon attributes refined", zap.String("entity", name), zap.Strings("attributes", refined))
		}
	}
	for _, k := range keys {
		attrs[k] = attrs[k].Normalize()
	}

	result.Attributes = attrs
	result.Description = describe(name, tmpl, attrs)
	result.ContextSources = sources(contexts)
	e.logger.Info("entity analyzed",
		zap.String("entity", name),
		zap.String("pipeline", result.Pipeline),
		zap.Int("documents", len(docIDs)),
		zap.Int("gaps", len(gaps)),
		zap.Bool("refined", result.Refined),
		zap.Bool("windowed", window != nil))
	return result, nil
}

func (e *Engine) route(tmpl *Template) Extractor {
	if tmpl.EntityType == TypeCharacter {
		return e.character
	}
	return e.generic
}

// gatherContext runs the first retrieval pass: a global search per document
// and, for a single document with a window, a windowed search merged in.
func (e *Engine) gatherContext(ctx context.Context, ownerID string, docIDs []string, vec []float32, window *models.FocusWindow) ([][]models.ScoredFragment, error) {
	contexts := make([][]models.ScoredFragment, len(docIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range docIDs {
		g.Go(func() error {
			req := fragment.SearchRequest{OwnerID: ownerID, DocumentID: id, Embedding: vec, TopK: e.cfg.GlobalTopK}
			hits, err := e.fragments.Search(gctx, req)
			if err != nil {
				return fmt.Errorf("search document %s: %w", id, err)
			}
			if window != nil && len(docIDs) == 1 {
				r := window.Range()
				req.SceneRange = &r
				req.TopK = e.cfg.WindowTopK
				windowed, err := e.fragments.Search(gctx, req)
				if err != nil {
					return fmt.Errorf("windowed search document %s: %w", id, err)
				}
				hits = mergeHits(hits, windowed)
			}
			contexts[i] = topByScore(hits, e.cfg.MaxContextFragments)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return contexts, nil
}

// refine runs the targeted second pass for gaps and appends unseen fragments
// to contexts. It returns the number of fragments added per document.
func (e *Engine) refine(
	ctx context.Context,
	ownerID string,
	docIDs []string,
	name string,
	tmpl *Template,
	gaps []AttributeSpec,
	window *models.FocusWindow,
	contexts [][]models.ScoredFragment,
) []int {
	slots := make([][]models.ScoredFragment, len(gaps))
	var g errgroup.Group
	g.SetLimit(refineConcurrency)
	for i, spec := range gaps {
		g.Go(func() error {
			slots[i] = e.searchAttribute(ctx, ownerID, docIDs, name, tmpl, spec, window)
			return nil
		})
	}
	_ = g.Wait()

	docIndex := make(map[string]int, len(docIDs))
	seen := make([]map[string]bool, len(docIDs))
	for i, id := range docIDs {
		docIndex[id] = i
		seen[i] = make(map[string]bool, len(contexts[i]))
		for _, sf := range contexts[i] {
			seen[i][sf.Fragment.ID] = true
		}
	}
	added := make([]int, len(docIDs))
	for _, hits := range slots {
		for _, h := range hits {
			i, ok := docIndex[h.Fragment.DocumentID]
			if !ok || seen[i][h.Fragment.ID] {
				continue
			}
			seen[i][h.Fragment.ID] = true
			contexts[i] = append(contexts[i], h)
			added[i]++
		}
	}
	return added
}

// searchAttribute collects the hybrid hits of every query for one attribute.
// Failures are logged and leave the slot short.
func (e *Engine) searchAttribute(ctx context.Context, ownerID string, docIDs []string, name string, tmpl *Template, spec AttributeSpec, window *models.FocusWindow) []models.ScoredFragment {
	var out []models.ScoredFragment
	for _, q := range tmpl.Queries(name, spec) {
		vec, err := e.embedder.Embed(ctx, q)
		if err != nil {
			e.logger.Warn("embedding refinement query failed", zap.String("attribute", spec.Key), zap.Error(err))
			continue
		}
		for _, id := range docIDs {
			req := fragment.SearchRequest{OwnerID: ownerID, DocumentID: id, Embedding: vec, TopK: e.cfg.RefineTopK}
			if spec.TimeBound && window != nil {
				r := window.Range()
				req.SceneRange = &r
			}
			hits, err := e.fragments.HybridSearch(ctx, req, q)
			if err != nil {
				e.logger.Warn("refinement search failed",
					zap.String("attribute", spec.Key),
					zap.String("document_id", id),
					zap.Error(err))
				continue
			}
			out = append(out, hits...)
		}
	}
	return out
}

// mergeHits unions two hit lists keeping the best score per fragment.
func mergeHits(a, b []models.ScoredFragment) []models.ScoredFragment {
	best := make(map[string]int, len(a)+len(b))
	out := make([]models.ScoredFragment, 0, len(a)+len(b))
	for _, list := range [][]models.ScoredFragment{a, b} {
		for _, h := range list {
			if i, ok := best[h.Fragment.ID]; ok {
				if h.Score > out[i].Score {
					out[i].Score = h.Score
				}
				continue
			}
			best[h.Fragment.ID] = len(out)
			out = append(out, h)
		}
	}
	return out
}

func topByScore(hits []models.ScoredFragment, n int) []models.ScoredFragment {
	out := append([]models.ScoredFragment(nil), hits...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// storyOrder returns a copy of frags ordered by scene, then position.
// Fragments without a scene come last.
func storyOrder(frags []models.ScoredFragment) []models.ScoredFragment {
	out := append([]models.ScoredFragment(nil), frags...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Fragment, out[j].Fragment
		switch {
		case a.GlobalSceneIndex == nil || b.GlobalSceneIndex == nil:
			return a.GlobalSceneIndex != nil && b.GlobalSceneIndex == nil
		case *a.GlobalSceneIndex != *b.GlobalSceneIndex:
			return *a.GlobalSceneIndex < *b.GlobalSceneIndex
		case a.Layer != b.Layer:
			return a.Layer == models.LayerScene
		}
		return a.StartChar < b.StartChar
	})
	return out
}

// better reports whether cand should replace cur.
func better(cand, cur models.AttributeValue) bool {
	switch {
	case isFailed(cur) && !isFailed(cand):
		return true
	case !cand.HasValue():
		return false
	case !cur.HasValue():
		return true
	}
	return cand.Confidence > cur.Confidence
}

// mergeDocuments keeps, per attribute, the best value over all documents and
// concatenates the evidence of every document that answered.
func mergeDocuments(keys []string, perDoc []map[string]models.AttributeValue) map[string]models.AttributeValue {
	out := make(map[string]models.AttributeValue, len(keys))
	for _, k := range keys {
		best := models.UnknownValue()
		winner := -1
		for i, attrs := range perDoc {
			if v, ok := attrs[k]; ok && (winner == -1 || better(v, best)) {
				best = v
				winner = i
			}
		}
		if winner >= 0 && len(perDoc) > 1 && best.HasValue() && !isFailed(best) {
			evidence := append([]models.Evidence(nil), best.Evidence...)
			for i, attrs := range perDoc {
				if v := attrs[k]; i != winner && v.HasValue() && !isFailed(v) {
					evidence = append(evidence, v.Evidence...)
				}
			}
			best.Evidence = evidence
		}
		out[k] = best
	}
	return out
}

// keepBetter merges a re-extraction into a previous answer attribute by attribute.
func keepBetter(prev, next map[string]models.AttributeValue) map[string]models.AttributeValue {
	out := make(map[string]models.AttributeValue, len(prev))
	for k, v := range prev {
		out[k] = v
	}
	for k, v := range next {
		if cur, ok := out[k]; !ok || better(v, cur) {
			out[k] = v
		}
	}
	return out
}

func flatten(contexts [][]models.ScoredFragment) []models.ScoredFragment {
	var out []models.ScoredFragment
	for _, c := range contexts {
		out = append(out, c...)
	}
	return out
}

// sources lists every context fragment once, best score first.
func sources(contexts [][]models.ScoredFragment) []models.SourceRef {
	refs := []models.SourceRef{}
	seen := make(map[string]bool)
	all := flatten(contexts)
	for _, sf := range topByScore(all, len(all)) {
		f := sf.Fragment
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		refs = append(refs, models.SourceRef{
			FragmentID:       f.ID,
			DocumentID:       f.DocumentID,
			Layer:            f.Layer,
			GlobalSceneIndex: f.GlobalSceneIndex,
			Score:            sf.Score,
		})
	}
	return refs
}

// describe composes the description from the known attribute values in
// template order.
func describe(name string, tmpl *Template, attrs map[string]models.AttributeValue) string {
	var parts []string
	for _, k := range tmpl.Keys() {
		v := attrs[k]
		if !v.HasValue() || isFailed(v) || IsPoor(v, 0) {
			continue
		}
		parts = append(parts, HumanizeKey(k)+": "+strings.TrimSpace(*v.Value))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("No visual details were found for %s.", name)
	}
	return fmt.Sprintf("%s. %s.", name, strings.Join(parts, "; "))
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
