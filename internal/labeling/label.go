package labeling

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/llm"
	"github.com/hyperjump/taleweave/internal/models"
)

// Stats counts the outcome of labeling one document.
type Stats struct {
	Snippets       int
	SkippedBatches int
}

type labelResponse struct {
	Fragments []struct {
		Index    int      `json:"index"`
		Entities []string `json:"entities"`
		Labels   []string `json:"labels"`
	} `json:"fragments"`
}

type promptFragment struct {
	Index int
	Text  string
}

func (q *Queue) label(ctx context.Context, documentID string) (*Stats, error) {
	doc, err := q.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	chunks, err := q.fragments.Scroll(ctx, doc.ID, doc.OwnerID, models.LayerChunk)
	if err != nil {
		return nil, fmt.Errorf("scroll chunks: %w", err)
	}

	snippets := splitSnippets(chunks, q.cfg.FragmentChars)
	stats := &Stats{}
	stored := make(map[string]bool, len(snippets))
	for start := 0; start < len(snippets); start += q.cfg.BatchSize {
		end := min(start+q.cfg.BatchSize, len(snippets))
		batch := snippets[start:end]
		n, err := q.labelBatch(ctx, batch)
		if err != nil {
			return stats, fmt.Errorf("batch at position %d: %w", start, err)
		}
		if n == 0 {
			stats.SkippedBatches++
			continue
		}
		for _, f := range batch {
			stored[f.ID] = true
		}
		stats.Snippets += n
	}
	if err := q.removeStale(ctx, doc, stored); err != nil {
		return stats, err
	}
	return stats, nil
}

// removeStale deletes the document's SNIPPET fragments this pass did not
// store: positions past the new end and batches that were skipped. It runs
// only after every batch succeeded, so a failed pass keeps the previous layer.
func (q *Queue) removeStale(ctx context.Context, doc *models.Document, stored map[string]bool) error {
	existing, err := q.fragments.ScrollAllSnippets(ctx, doc.ID, doc.OwnerID)
	if err != nil {
		return fmt.Errorf("scroll snippets: %w", err)
	}
	var stale []string
	for _, f := range existing {
		if !stored[f.ID] {
			stale = append(stale, f.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := q.fragments.DeleteFragments(ctx, doc.ID, stale); err != nil {
		return fmt.Errorf("remove stale snippets: %w", err)
	}
	q.logger.Debug("removed stale snippets", zap.String("document_id", doc.ID), zap.Int("count", len(stale)))
	return nil
}

// labelBatch labels, embeds and upserts one batch and returns how many
// snippets were stored. A batch whose label or embedding count does not match
// is skipped and reports 0.
func (q *Queue) labelBatch(ctx context.Context, batch []*models.Fragment) (int, error) {
	items := make([]promptFragment, len(batch))
	texts := make([]string, len(batch))
	for i, f := range batch {
		items[i] = promptFragment{Index: i, Text: f.Text}
		texts[i] = f.Text
	}
	prompt, err := config.Render(q.prompt, map[string]any{"Fragments": items})
	if err != nil {
		return 0, err
	}
	resp, err := q.governor.Complete(ctx, q.client, config.TaskSnippetLabeling, llm.Request{
		Prompt:   prompt,
		Model:    q.model,
		JSONMode: true,
	})
	if err != nil {
		return 0, fmt.Errorf("label snippets: %w", err)
	}
	var parsed labelResponse
	if err := llm.DecodeJSON(resp.Text, &parsed); err != nil {
		q.logger.Warn("unparseable labeling response, batch skipped", zap.Int("batch_size", len(batch)), zap.Error(err))
		return 0, nil
	}
	if len(parsed.Fragments) != len(batch) {
		q.logger.Warn("label count mismatch, batch skipped",
			zap.Int("labels", len(parsed.Fragments)), zap.Int("batch_size", len(batch)))
		return 0, nil
	}

	vecs, err := q.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed snippets: %w", err)
	}
	if len(vecs) != len(batch) {
		q.logger.Warn("embedding count mismatch, batch skipped",
			zap.Int("embeddings", len(vecs)), zap.Int("batch_size", len(batch)))
		return 0, nil
	}

	for i, entry := range parsed.Fragments {
		idx := entry.Index
		if idx < 0 || idx >= len(batch) {
			idx = i
		}
		batch[idx].EntityNames = compact(entry.Entities)
		batch[idx].Labels = compact(entry.Labels)
	}
	for i, f := range batch {
		f.Embedding = vecs[i]
	}
	if err := q.fragments.Upsert(ctx, batch); err != nil {
		return 0, fmt.Errorf("upsert snippets: %w", err)
	}
	return len(batch), nil
}
