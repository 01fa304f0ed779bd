// Package aggregate builds document-level records from labeled snippets:
// character records for the most mentioned entities and coarse digests of
// consecutive snippet blocks.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/budget"
	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/fragment"
	"github.com/hyperjump/taleweave/internal/llm"
	"github.com/hyperjump/taleweave/internal/models"
	"github.com/hyperjump/taleweave/internal/storage"
	"github.com/hyperjump/taleweave/pkg/utils"
)

// maxSampleRunes bounds one snippet inside a prompt.
const maxSampleRunes = 400

var errEmptySummary = errors.New("empty block summary")

// SweepResult reports one aggregation run.
type SweepResult struct {
	DocumentID      string                    `json:"document_id"`
	Snippets        int                       `json:"snippets"`
	Candidates      int                       `json:"candidates"`
	Characters      []*models.CharacterRecord `json:"characters"`
	Digests         []*models.SceneDigest     `json:"digests"`
	SkippedEntities int                       `json:"skipped_entities"`
	SkippedBlocks   int                       `json:"skipped_blocks"`
}

// Sweeper runs aggregation sweeps.
type Sweeper struct {
	store     storage.Storage
	fragments *fragment.Store
	client    llm.Client
	governor  *budget.Governor
	cfg       config.AggregateConfig
	prompts   *config.Prompts
	model     string
	logger    *zap.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// WithPrompts overrides the classification and summary prompts.
func WithPrompts(p *config.Prompts) Option {
	return func(s *Sweeper) {
		if p != nil {
			s.prompts = p
		}
	}
}

// WithModel sets the model. Empty uses the client default.
func WithModel(model string) Option {
	return func(s *Sweeper) { s.model = model }
}

// NewSweeper creates a sweeper.
func NewSweeper(store storage.Storage, fragments *fragment.Store, client llm.Client, governor *budget.Governor, cfg config.AggregateConfig, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:     store,
		fragments: fragments,
		client:    client,
		governor:  governor,
		cfg:       cfg,
		prompts:   config.DefaultPrompts(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.TopEntities <= 0 {
		s.cfg.TopEntities = 30
	}
	if s.cfg.SamplesPerEntity <= 0 {
		s.cfg.SamplesPerEntity = 40
	}
	if s.cfg.BlockSize <= 0 {
		s.cfg.BlockSize = 50
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Aggregate sweeps the SNIPPET fragments of a document. Failed entity or
// block calls are logged and skipped; storage failures abort the sweep.
func (s *Sweeper) Aggregate(ctx context.Context, documentID, ownerID string) (*SweepResult, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, fmt.Errorf("document %s: %w", documentID, models.ErrNotFound)
	}
	snippets, err := s.fragments.ScrollAllSnippets(ctx, documentID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("scroll snippets: %w", err)
	}
	res := &SweepResult{
		DocumentID: documentID,
		Snippets:   len(snippets),
		Characters: []*models.CharacterRecord{},
		Digests:    []*models.SceneDigest{},
	}
	if len(snippets) == 0 {
		s.logger.Info("no snippets to aggregate", zap.String("document_id", documentID))
		return res, nil
	}

	tallies := tally(snippets, s.cfg.SamplesPerEntity)
	if len(tallies) > s.cfg.TopEntities {
		tallies = tallies[:s.cfg.TopEntities]
	}
	res.Candidates = len(tallies)
	for _, t := range tallies {
		rec, err := s.classify(ctx, doc, t)
		if err != nil {
			s.logger.Warn("entity classification failed", zap.String("document_id", documentID), zap.String("entity", t.name), zap.Error(err))
			res.SkippedEntities++
			continue
		}
		if rec == nil {
			continue
		}
		if err := s.store.UpsertCharacter(ctx, rec); err != nil {
			return nil, fmt.Errorf("store character %s: %w", rec.Name, err)
		}
		res.Characters = append(res.Characters, rec)
	}

	known, err := s.store.ListCharacters(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	for i, start := 0, 0; start < len(snippets); i, start = i+1, start+s.cfg.BlockSize {
		block := snippets[start:min(start+s.cfg.BlockSize, len(snippets))]
		digest, err := s.summarize(ctx, documentID, i, block, known)
		if err != nil {
			s.logger.Warn("block summary failed", zap.String("document_id", documentID), zap.Int("block", i), zap.Error(err))
			res.SkippedBlocks++
			continue
		}
		if err := s.store.UpsertSceneDigest(ctx, digest); err != nil {
			return nil, fmt.Errorf("store digest %d: %w", i, err)
		}
		res.Digests = append(res.Digests, digest)
	}

	s.logger.Info("aggregation sweep finished",
		zap.String("document_id", documentID),
		zap.Int("snippets", res.Snippets),
		zap.Int("characters", len(res.Characters)),
		zap.Int("digests", len(res.Digests)),
		zap.Int("skipped_entities", res.SkippedEntities),
		zap.Int("skipped_blocks", res.SkippedBlocks))
	return res, nil
}

func (s *Sweeper) complete(ctx context.Context, task, prompt string) (string, error) {
	req := llm.Request{Prompt: prompt, Model: s.model, JSONMode: true}
	var (
		resp *llm.Response
		err  error
	)
	if s.governor != nil {
		resp, err = s.governor.Complete(ctx, s.client, task, req)
	} else {
		resp, err = s.client.Complete(ctx, req)
	}
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

type classification struct {
	IsCharacter bool     `json:"is_character"`
	Role        string   `json:"role"`
	Traits      []string `json:"traits"`
	Aliases     []string `json:"aliases"`
}

// classify returns the character record of t, or nil when the model decides
// it is not a character.
func (s *Sweeper) classify(ctx context.Context, doc *models.Document, t *entityTally) (*models.CharacterRecord, error) {
	prompt, err := config.Render(s.prompts.EntityClassification, struct {
		Name    string
		Samples []string
	}{t.name, t.samples})
	if err != nil {
		return nil, err
	}
	text, err := s.complete(ctx, config.TaskEntityClassification, prompt)
	if err != nil {
		return nil, err
	}
	var c classification
	if err := llm.DecodeJSON(text, &c); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	if !c.IsCharacter {
		return nil, nil
	}
	return &models.CharacterRecord{
		ID:           uuid.New().String(),
		DocumentID:   doc.ID,
		OwnerID:      doc.OwnerID,
		Name:         t.name,
		Aliases:      clean(c.Aliases, t.name),
		Role:         strings.TrimSpace(c.Role),
		Traits:       clean(c.Traits, ""),
		MentionCount: t.count,
	}, nil
}

type blockSummary struct {
	Summary    string   `json:"summary"`
	Characters []string `json:"characters"`
}

func (s *Sweeper) summarize(ctx context.Context, documentID string, index int, block []*models.Fragment, known []*models.CharacterRecord) (*models.SceneDigest, error) {
	texts := make([]string, len(block))
	for i, f := range block {
		texts[i] = utils.Truncate(strings.TrimSpace(f.Text), maxSampleRunes)
	}
	prompt, err := config.Render(s.prompts.BlockSummary, struct{ Snippets []string }{texts})
	if err != nil {
		return nil, err
	}
	text, err := s.complete(ctx, config.TaskBlockSummary, prompt)
	if err != nil {
		return nil, err
	}
	var bs blockSummary
	if err := llm.DecodeJSON(text, &bs); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	summary := strings.TrimSpace(bs.Summary)
	if summary == "" {
		return nil, errEmptySummary
	}
	return &models.SceneDigest{
		ID:            uuid.New().String(),
		DocumentID:    documentID,
		BlockIndex:    index,
		Summary:       summary,
		Characters:    LinkCharacters(bs.Characters, known),
		StartPosition: block[0].Position,
		EndPosition:   block[len(block)-1].Position,
	}, nil
}

type entityTally struct {
	name    string
	count   int
	samples []string
	// spellings counts the casings seen, the most frequent becomes name.
	spellings map[string]int
}

// tally counts entity mentions per snippet, most mentioned first. Names are
// grouped case-insensitively and at most samples snippet texts are kept each.
func tally(snippets []*models.Fragment, samples int) []*entityTally {
	byKey := make(map[string]*entityTally)
	for _, f := range snippets {
		seen := make(map[string]bool, len(f.EntityNames))
		for _, raw := range f.EntityNames {
			name := strings.TrimSpace(raw)
			key := strings.ToLower(name)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			t, ok := byKey[key]
			if !ok {
				t = &entityTally{spellings: make(map[string]int)}
				byKey[key] = t
			}
			t.count++
			t.spellings[name]++
			if len(t.samples) < samples {
				t.samples = append(t.samples, utils.Truncate(strings.TrimSpace(f.Text), maxSampleRunes))
			}
		}
	}
	out := make([]*entityTally, 0, len(byKey))
	for _, t := range byKey {
		best := 0
		for spelling, n := range t.spellings {
			if n > best || (n == best && spelling < t.name) {
				t.name, best = spelling, n
			}
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	return out
}

// LinkCharacters maps names onto known character records. A name matches a
// record name or alias case-insensitively, or within one edit when both are
// at least five runes long. Unmatched names are dropped; the result holds
// record names in first-match order.
func LinkCharacters(names []string, known []*models.CharacterRecord) []string {
	var out []string
	seen := make(map[string]bool)
	for _, n := range names {
		rec := matchCharacter(strings.TrimSpace(n), known)
		if rec == nil || seen[rec.Name] {
			continue
		}
		seen[rec.Name] = true
		out = append(out, rec.Name)
	}
	return out
}

func matchCharacter(name string, known []*models.CharacterRecord) *models.CharacterRecord {
	if name == "" {
		return nil
	}
	for _, rec := range known {
		for _, cand := range append([]string{rec.Name}, rec.Aliases...) {
			if strings.EqualFold(name, cand) {
				return rec
			}
		}
	}
	lower := strings.ToLower(name)
	if utf8.RuneCountInString(lower) < 5 {
		return nil
	}
	for _, rec := range known {
		cand := strings.ToLower(rec.Name)
		if utf8.RuneCountInString(cand) >= 5 && utils.Levenshtein(lower, cand) <= 1 {
			return rec
		}
	}
	return nil
}

// clean trims and case-insensitively dedupes values, dropping blanks and exclude.
func clean(values []string, exclude string) []string {
	seen := map[string]bool{strings.ToLower(exclude): true, "": true}
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		out = append(out, v)
	}
	return out
}
