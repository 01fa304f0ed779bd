// Package storage defines the relational persistence interface for documents,
// their structure, labeling jobs, budget counters and aggregation records.
package storage

import (
	"context"

	"github.com/hyperjump/taleweave/internal/models"
)

// Storage defines relational persistence operations.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, errMsg string) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, ownerID string, offset, limit int) ([]*models.Document, error)

	// Structure operations
	CreateChapters(ctx context.Context, chapters []*models.Chapter) error
	GetChapters(ctx context.Context, docID string) ([]*models.Chapter, error)
	CreateScenes(ctx context.Context, scenes []*models.Scene) error
	GetScenes(ctx context.Context, docID string) ([]*models.Scene, error)
	MaxGlobalSceneIndex(ctx context.Context, docID string) (int, error)
	DeleteStructure(ctx context.Context, docID string) error

	// Labeling jobs
	CreateJob(ctx context.Context, job *models.IngestionJob) error
	GetJob(ctx context.Context, id string) (*models.IngestionJob, error)
	GetActiveJob(ctx context.Context, docID string) (*models.IngestionJob, error)
	NextQueuedJob(ctx context.Context) (*models.IngestionJob, error)
	UpdateJob(ctx context.Context, job *models.IngestionJob) error

	// Budget counters
	IncrementTaskUsage(ctx context.Context, u models.BudgetUsage) error
	IncrementModelUsage(ctx context.Context, u models.BudgetUsage) error
	GetTaskUsage(ctx context.Context, date, task string) (int64, error)
	GetModelUsage(ctx context.Context, date, model string) (int64, error)
	ListUsage(ctx context.Context, date string) ([]*models.BudgetUsage, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error

	// Aggregation records
	UpsertCharacter(ctx context.Context, rec *models.CharacterRecord) error
	ListCharacters(ctx context.Context, docID string) ([]*models.CharacterRecord, error)
	UpsertSceneDigest(ctx context.Context, d *models.SceneDigest) error
	ListSceneDigests(ctx context.Context, docID string) ([]*models.SceneDigest, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)

	Close() error
}
