// Package models defines core data structures for documents, scenes, fragments and extraction results.
package models

import "time"

// DocumentStatus is the lifecycle state of an ingested document.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "PENDING"
	DocumentProcessing DocumentStatus = "PROCESSING"
	DocumentReady      DocumentStatus = "READY"
	DocumentFailed     DocumentStatus = "FAILED"
)

// Document represents an ingested book.
type Document struct {
	ID         string         `json:"id" db:"id"`
	OwnerID    string         `json:"owner_id" db:"owner_id"`
	Title      string         `json:"title" db:"title"`
	SourcePath string         `json:"source_path,omitempty" db:"source_path"`
	RawTextRef string         `json:"raw_text_ref" db:"raw_text_ref"`
	PageCount  int            `json:"page_count" db:"page_count"`
	Status     DocumentStatus `json:"status" db:"status"`
	Error      string         `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

// Chapter is a contiguous character range of a document. Immutable after creation.
type Chapter struct {
	ID         string `json:"id" db:"id"`
	DocumentID string `json:"document_id" db:"document_id"`
	Index      int    `json:"index" db:"chapter_index"`
	Title      string `json:"title" db:"title"`
	StartChar  int    `json:"start_char" db:"start_char"`
	EndChar    int    `json:"end_char" db:"end_char"`
}

// Scene is one narrative beat inside a chapter.
// GlobalIndex is monotonic across the whole document and is the temporal coordinate.
type Scene struct {
	ID            string   `json:"id" db:"id"`
	DocumentID    string   `json:"document_id" db:"document_id"`
	ChapterID     string   `json:"chapter_id" db:"chapter_id"`
	LocalIndex    int      `json:"local_index" db:"local_index"`
	GlobalIndex   int      `json:"global_index" db:"global_index"`
	StartChar     int      `json:"start_char" db:"start_char"`
	EndChar       int      `json:"end_char" db:"end_char"`
	Summary       string   `json:"summary" db:"summary"`
	POV           string   `json:"pov,omitempty" db:"pov"`
	Location      string   `json:"location,omitempty" db:"location"`
	TemporalHints []string `json:"temporal_hints,omitempty" db:"temporal_hints"`
	MainEvents    []string `json:"main_events,omitempty" db:"main_events"`
}

// Len returns the scene length in characters.
func (s *Scene) Len() int {
	return s.EndChar - s.StartChar
}

// DocumentInput is the input for registering a document.
type DocumentInput struct {
	ID         string `json:"id,omitempty"`
	OwnerID    string `json:"owner_id"`
	Title      string `json:"title,omitempty"`
	Text       string `json:"text"`
	PageCount  int    `json:"page_count,omitempty"`
	SourcePath string `json:"source_path,omitempty"`
}
