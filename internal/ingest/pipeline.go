// Package ingest segments a registered document into chapters, scenes and
// scene-aligned chunks, and indexes them into the fragment store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/blob"
	"github.com/hyperjump/taleweave/internal/budget"
	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/embedding"
	"github.com/hyperjump/taleweave/internal/extract"
	"github.com/hyperjump/taleweave/internal/fragment"
	"github.com/hyperjump/taleweave/internal/models"
	"github.com/hyperjump/taleweave/internal/storage"
)

// Stats counts what one ingestion produced.
type Stats struct {
	Chapters int `json:"chapters"`
	Scenes   int `json:"scenes"`
	Chunks   int `json:"chunks"`
}

// IngestResult is the outcome of Ingest.
type IngestResult struct {
	Success bool   `json:"success"`
	Stats   Stats  `json:"stats"`
	Error   string `json:"error,omitempty"`
}

// Enqueuer schedules micro-fragment labeling for a ready document.
type Enqueuer interface {
	Enqueue(ctx context.Context, documentID string) (*models.IngestionJob, error)
}

// Pipeline ingests documents.
type Pipeline struct {
	store     storage.Storage
	blobs     blob.Store
	fragments *fragment.Store
	embedder  embedding.Embedder
	scenes    *SceneExtractor
	governor  *budget.Governor
	chunker   *Chunker
	batchSize int
	extractor *extract.Extractor
	labeling  Enqueuer
	logger    *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithExtractor sets the file text extractor used by RegisterFile.
func WithExtractor(e *extract.Extractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// WithLabeling enqueues labeling for every document that becomes READY.
func WithLabeling(q Enqueuer) Option {
	return func(p *Pipeline) { p.labeling = q }
}

// NewPipeline creates a pipeline.
func NewPipeline(
	store storage.Storage,
	blobs blob.Store,
	fragments *fragment.Store,
	embedder embedding.Embedder,
	scenes *SceneExtractor,
	governor *budget.Governor,
	cfg config.IngestConfig,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		store:     store,
		blobs:     blobs,
		fragments: fragments,
		embedder:  embedder,
		scenes:    scenes,
		governor:  governor,
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		batchSize: cfg.EmbedBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.batchSize <= 0 {
		p.batchSize = 64
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// Start runs Ingest in the background and returns immediately. The document
// status is the only progress signal; the caller's cancellation does not stop it.
func (p *Pipeline) Start(ctx context.Context, documentID string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		res, err := p.Ingest(ctx, documentID)
		if err != nil {
			p.logger.Error("background ingestion failed", zap.String("document_id", documentID), zap.Error(err))
			return
		}
		p.logger.Info("background ingestion finished",
			zap.String("document_id", documentID),
			zap.Int("chapters", res.Stats.Chapters),
			zap.Int("scenes", res.Stats.Scenes),
			zap.Int("chunks", res.Stats.Chunks))
	}()
}

// Ingest segments, chunks and indexes a document. A missing document is an
// input error. Any later unrecoverable error marks the document FAILED with
// the message stored and returns a failed result; work already persisted is
// kept.
func (p *Pipeline) Ingest(ctx context.Context, documentID string) (*IngestResult, error) {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	log := p.logger.With(zap.String("document_id", doc.ID))
	res := &IngestResult{}

	fail := func(err error) (*IngestResult, error) {
		log.Error("ingestion failed", zap.Error(err))
		if uerr := p.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentFailed, err.Error()); uerr != nil {
			log.Error("failed to record ingestion failure", zap.Error(uerr))
		}
		res.Success = false
		res.Error = err.Error()
		return res, err
	}

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentProcessing, ""); err != nil {
		return fail(fmt.Errorf("mark processing: %w", err))
	}
	raw, err := p.blobs.Get(ctx, doc.RawTextRef)
	if err != nil {
		return fail(fmt.Errorf("load raw text: %w", err))
	}
	text := NormalizeText(raw)
	chapters := SplitChapters(text)
	if len(chapters) == 0 {
		return fail(fmt.Errorf("%w: document has no text", models.ErrInvalidInput))
	}
	if err := p.governor.Preflight(ctx, config.TaskSceneExtraction, p.scenes.Model(), len(chapters)); err != nil {
		return fail(err)
	}

	if err := p.clearPrevious(ctx, doc.ID); err != nil {
		return fail(err)
	}

	chapterRecs := make([]*models.Chapter, len(chapters))
	for i, ch := range chapters {
		chapterRecs[i] = &models.Chapter{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			Index:      ch.Index,
			Title:      ch.Title,
			StartChar:  ch.Start,
			EndChar:    ch.End,
		}
	}
	if err := p.store.CreateChapters(ctx, chapterRecs); err != nil {
		return fail(fmt.Errorf("store chapters: %w", err))
	}
	res.Stats.Chapters = len(chapterRecs)

	globalIndex := 0
	position := 0
	for i, ch := range chapters {
		spans := p.scenes.Extract(ctx, text, ch)
		scenes := make([]*models.Scene, len(spans))
		for j, sp := range spans {
			scenes[j] = &models.Scene{
				ID:            uuid.New().String(),
				DocumentID:    doc.ID,
				ChapterID:     chapterRecs[i].ID,
				LocalIndex:    j,
				GlobalIndex:   globalIndex,
				StartChar:     sp.Start,
				EndChar:       sp.End,
				Summary:       sp.Summary,
				POV:           sp.POV,
				Location:      sp.Location,
				TemporalHints: sp.TemporalHints,
				MainEvents:    sp.Events,
			}
			globalIndex++
		}
		if err := p.store.CreateScenes(ctx, scenes); err != nil {
			return fail(fmt.Errorf("store scenes of chapter %d: %w", ch.Index, err))
		}
		res.Stats.Scenes += len(scenes)

		frags := make([]*models.Fragment, 0, len(scenes)*4)
		for _, sc := range scenes {
			frags = append(frags, sceneFragment(doc, sc, text))
			for k, span := range p.chunker.ChunkScene(text, sc.StartChar, sc.EndChar) {
				frags = append(frags, &models.Fragment{
					ID:               fmt.Sprintf("%s:chunk:%d:%d", doc.ID, sc.GlobalIndex, k),
					DocumentID:       doc.ID,
					OwnerID:          doc.OwnerID,
					Layer:            models.LayerChunk,
					Text:             text[span.Start:span.End],
					ChapterID:        sc.ChapterID,
					SceneID:          sc.ID,
					GlobalSceneIndex: models.IntPtr(sc.GlobalIndex),
					StartChar:        span.Start,
					EndChar:          span.End,
					Position:         position,
					TemporalHints:    sc.TemporalHints,
				})
				position++
				res.Stats.Chunks++
			}
		}
		if err := p.embedAndUpsert(ctx, frags); err != nil {
			return fail(fmt.Errorf("index chapter %d: %w", ch.Index, err))
		}
		log.Debug("chapter ingested", zap.Int("chapter", ch.Index), zap.Int("scenes", len(scenes)))
	}

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentReady, ""); err != nil {
		return fail(fmt.Errorf("mark ready: %w", err))
	}
	res.Success = true
	log.Info("document ingested",
		zap.Int("chapters", res.Stats.Chapters),
		zap.Int("scenes", res.Stats.Scenes),
		zap.Int("chunks", res.Stats.Chunks))

	if p.labeling != nil {
		if _, err := p.labeling.Enqueue(ctx, doc.ID); err != nil {
			log.Warn("failed to enqueue labeling", zap.Error(err))
		}
	}
	return res, nil
}

// clearPrevious removes structure and CHUNK/SCENE fragments of an earlier pass.
func (p *Pipeline) clearPrevious(ctx context.Context, documentID string) error {
	if err := p.store.DeleteStructure(ctx, documentID); err != nil {
		return fmt.Errorf("clear previous structure: %w", err)
	}
	for _, layer := range []models.Layer{models.LayerChunk, models.LayerScene} {
		if err := p.fragments.DeleteLayer(ctx, documentID, layer); err != nil {
			p.logger.Warn("failed to clear previous fragments",
				zap.String("document_id", documentID), zap.String("layer", string(layer)), zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) embedAndUpsert(ctx context.Context, frags []*models.Fragment) error {
	for start := 0; start < len(frags); start += p.batchSize {
		end := start + p.batchSize
		if end > len(frags) {
			end = len(frags)
		}
		batch := frags[start:end]
		texts := make([]string, len(batch))
		for i, f := range batch {
			texts[i] = f.Text
		}
		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embedding count mismatch: got %d, want %d", len(vecs), len(batch))
		}
		for i := range batch {
			batch[i].Embedding = vecs[i]
		}
		if err := p.fragments.Upsert(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// sceneFragment builds the SCENE-layer fragment: summary, events and temporal hints.
func sceneFragment(doc *models.Document, sc *models.Scene, text string) *models.Fragment {
	var b strings.Builder
	summary := sc.Summary
	if summary == "" {
		start, end := min(sc.StartChar, len(text)), min(sc.EndChar, len(text))
		summary = excerpt(text[start:max(start, end)], 300)
	}
	b.WriteString(summary)
	if sc.Location != "" {
		b.WriteString("\nLocation: " + sc.Location)
	}
	if len(sc.MainEvents) > 0 {
		b.WriteString("\nEvents: " + strings.Join(sc.MainEvents, "; "))
	}
	if len(sc.TemporalHints) > 0 {
		b.WriteString("\nTime: " + strings.Join(sc.TemporalHints, "; "))
	}
	return &models.Fragment{
		ID:               fmt.Sprintf("%s:scene:%d", doc.ID, sc.GlobalIndex),
		DocumentID:       doc.ID,
		OwnerID:          doc.OwnerID,
		Layer:            models.LayerScene,
		Text:             b.String(),
		ChapterID:        sc.ChapterID,
		SceneID:          sc.ID,
		GlobalSceneIndex: models.IntPtr(sc.GlobalIndex),
		StartChar:        sc.StartChar,
		EndChar:          sc.EndChar,
		Position:         sc.GlobalIndex,
		TemporalHints:    sc.TemporalHints,
	}
}

// IsQuotaError reports whether err is a budget quota failure.
func IsQuotaError(err error) bool {
	var q *budget.QuotaError
	return errors.As(err, &q)
}
