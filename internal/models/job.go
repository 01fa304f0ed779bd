package models

import "time"

// JobStatus is the state of a labeling job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// IngestionJob is a labeling queue record. One per document per labeling pass.
type IngestionJob struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Status     JobStatus `json:"status" db:"status"`
	Error      string    `json:"error,omitempty" db:"error_message"`
	Attempts   int       `json:"attempts" db:"attempts"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Active reports whether the job is queued or processing.
func (j *IngestionJob) Active() bool {
	return j.Status == JobQueued || j.Status == JobProcessing
}

// BudgetUsage holds request and token counters for a date key.
// Task rows leave Provider and Model empty; model rows leave Task empty.
type BudgetUsage struct {
	Date      string `json:"date"`
	Task      string `json:"task,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Requests  int64  `json:"requests"`
	TokensIn  int64  `json:"tokens_in"`
	TokensOut int64  `json:"tokens_out"`
}
