package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/taleweave/internal/models"
)

const jobColumns = `id, document_id, status, error_message, attempts, created_at, updated_at`

func scanJob(row scanner) (*models.IngestionJob, error) {
	var job models.IngestionJob
	var status string
	if err := row.Scan(&job.ID, &job.DocumentID, &status, &job.Error, &job.Attempts, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	return &job, nil
}

// CreateJob inserts a labeling job.
func (s *SQLiteStorage) CreateJob(ctx context.Context, job *models.IngestionJob) error {
	if job.Status == "" {
		job.Status = models.JobQueued
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.DocumentID, string(job.Status), job.Error, job.Attempts, job.CreatedAt, job.UpdatedAt,
	)
	return err
}

// GetJob returns a job by ID.
func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*models.IngestionJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	return job, err
}

// GetActiveJob returns the queued or processing job of a document, or nil when there is none.
func (s *SQLiteStorage) GetActiveJob(ctx context.Context, docID string) (*models.IngestionJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs
		 WHERE document_id = ? AND status IN ('queued', 'processing')
		 ORDER BY created_at LIMIT 1`, docID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// NextQueuedJob returns the oldest queued job, or nil when the queue is empty.
func (s *SQLiteStorage) NextQueuedJob(ctx context.Context) (*models.IngestionJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs
		 WHERE status = 'queued' ORDER BY created_at, rowid LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// UpdateJob writes the status, error and attempt count of a job.
func (s *SQLiteStorage) UpdateJob(ctx context.Context, job *models.IngestionJob) error {
	job.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_jobs SET status = ?, error_message = ?, attempts = ?, updated_at = ? WHERE id = ?`,
		string(job.Status), job.Error, job.Attempts, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, models.ErrNotFound)
	}
	return nil
}
