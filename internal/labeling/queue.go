// Package labeling runs the micro-fragment labeling queue: READY documents
// have their chunks split into short sentence groups, labeled with entities
// and categories by an LLM, embedded and stored as SNIPPET fragments.
package labeling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/budget"
	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/embedding"
	"github.com/hyperjump/taleweave/internal/fragment"
	"github.com/hyperjump/taleweave/internal/llm"
	"github.com/hyperjump/taleweave/internal/models"
	"github.com/hyperjump/taleweave/internal/storage"
)

// Queue schedules and processes labeling jobs. One worker polls it; jobs are
// not retried automatically.
type Queue struct {
	store     storage.Storage
	fragments *fragment.Store
	embedder  embedding.Embedder
	client    llm.Client
	governor  *budget.Governor
	cfg       config.LabelingConfig
	model     string
	prompt    string
	logger    *zap.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithPrompts overrides the labeling prompt.
func WithPrompts(p *config.Prompts) Option {
	return func(q *Queue) {
		if p != nil {
			q.prompt = p.SnippetLabeling
		}
	}
}

// NewQueue creates a queue. model is the labeling model; empty uses the client default.
func NewQueue(
	store storage.Storage,
	fragments *fragment.Store,
	embedder embedding.Embedder,
	client llm.Client,
	governor *budget.Governor,
	cfg config.LabelingConfig,
	model string,
	opts ...Option,
) *Queue {
	q := &Queue{
		store:     store,
		fragments: fragments,
		embedder:  embedder,
		client:    client,
		governor:  governor,
		cfg:       cfg,
		model:     model,
		prompt:    config.DefaultPrompts().SnippetLabeling,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.cfg.BatchSize <= 0 {
		q.cfg.BatchSize = 500
	}
	if q.cfg.FragmentChars <= 0 {
		q.cfg.FragmentChars = 100
	}
	if q.cfg.PollInterval <= 0 {
		q.cfg.PollInterval = 10 * time.Second
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}
	return q
}

// Enqueue schedules labeling of a document. While a job for the document is
// queued or processing, that job is returned instead of a new one.
func (q *Queue) Enqueue(ctx context.Context, documentID string) (*models.IngestionJob, error) {
	doc, err := q.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.DocumentReady {
		return nil, fmt.Errorf("%w: document %s is %s, not READY", models.ErrInvalidInput, doc.ID, doc.Status)
	}
	active, err := q.store.GetActiveJob(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("look up active job: %w", err)
	}
	if active != nil {
		return active, nil
	}
	job := &models.IngestionJob{ID: uuid.New().String(), DocumentID: doc.ID, Status: models.JobQueued}
	if err := q.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	q.logger.Debug("labeling job queued", zap.String("job_id", job.ID), zap.String("document_id", doc.ID))
	return job, nil
}

// Model returns the model labeling calls use.
func (q *Queue) Model() string {
	return llm.ModelFor(q.client, llm.Request{Model: q.model})
}

// ProcessNext runs one tick: it takes the oldest queued job and labels its
// document. When today's usage of the labeling model has reached
// ModelDailyCeiling the job is left queued and processed is false. A job that
// fails is marked failed with its error; only store errors are returned.
func (q *Queue) ProcessNext(ctx context.Context) (processed bool, err error) {
	job, err := q.store.NextQueuedJob(ctx)
	if err != nil {
		return false, fmt.Errorf("next job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	model := q.Model()
	if q.cfg.ModelDailyCeiling > 0 {
		used, err := q.governor.ModelUsage(ctx, model)
		if err != nil {
			return false, fmt.Errorf("read model usage: %w", err)
		}
		if used >= q.cfg.ModelDailyCeiling {
			q.logger.Info("labeling model over daily ceiling, job stays queued",
				zap.String("job_id", job.ID), zap.String("model", model),
				zap.Int64("used", used), zap.Int64("ceiling", q.cfg.ModelDailyCeiling))
			return false, nil
		}
	}

	job.Status = models.JobProcessing
	job.Attempts++
	if err := q.store.UpdateJob(ctx, job); err != nil {
		return false, fmt.Errorf("mark job processing: %w", err)
	}
	log := q.logger.With(zap.String("job_id", job.ID), zap.String("document_id", job.DocumentID))

	stats, lerr := q.label(ctx, job.DocumentID)
	if lerr != nil {
		log.Error("labeling failed", zap.Error(lerr))
		job.Status = models.JobFailed
		job.Error = lerr.Error()
	} else {
		log.Info("labeling finished", zap.Int("snippets", stats.Snippets), zap.Int("skipped_batches", stats.SkippedBatches))
		job.Status = models.JobDone
		job.Error = ""
	}
	if err := q.store.UpdateJob(ctx, job); err != nil {
		return true, fmt.Errorf("record job result: %w", err)
	}
	return true, nil
}

// Drain processes jobs until the queue is empty or the ceiling stops it and
// returns how many were processed.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ok, err := q.ProcessNext(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// Run polls the queue every PollInterval until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	q.logger.Info("labeling worker started", zap.Duration("poll_interval", q.cfg.PollInterval))
	for {
		if _, err := q.ProcessNext(ctx); err != nil && ctx.Err() == nil {
			q.logger.Warn("labeling tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			q.logger.Info("labeling worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}
