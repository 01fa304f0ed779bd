package vector

import (
	"context"
	"fmt"
)

// IndexType represents the vector index backend.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search persisted to a gob file.
	IndexTypeMemory IndexType = "memory"
	// IndexTypePGVector uses Postgres with the pgvector extension.
	IndexTypePGVector IndexType = "pgvector"
)

// Options configures NewIndex.
type Options struct {
	Type        string
	Dimensions  int
	Path        string // memory: gob snapshot loaded on open
	DatabaseURL string // pgvector
	Collection  string // pgvector table
}

// NewIndex creates an index of the requested type and ensures its collection exists.
// Supported types: "memory" (default), "pgvector".
func NewIndex(ctx context.Context, opts Options) (Index, error) {
	switch IndexType(opts.Type) {
	case IndexTypeMemory, "":
		idx, err := NewMemoryIndex(opts.Dimensions)
		if err != nil {
			return nil, err
		}
		if err := idx.Load(opts.Path); err != nil {
			return nil, err
		}
		return idx, nil
	case IndexTypePGVector:
		idx, err := NewPGVectorIndex(ctx, opts.DatabaseURL, opts.Collection, opts.Dimensions)
		if err != nil {
			return nil, err
		}
		if err := idx.EnsureCollection(ctx); err != nil {
			_ = idx.Close()
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, pgvector)", opts.Type)
	}
}
