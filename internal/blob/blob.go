// Package blob keeps the raw text of ingested documents outside the
// relational store. Documents reference their text by key (RawTextRef).
package blob

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hyperjump/taleweave/internal/config"
)

// Store saves and loads raw document text.
type Store interface {
	// Put stores text for documentID and returns the reference to keep on the Document.
	Put(ctx context.Context, documentID string, text string) (string, error)
	Get(ctx context.Context, ref string) (string, error)
	// Delete removes ref; a missing object is not an error.
	Delete(ctx context.Context, ref string) error
}

// Type is the blob backend type.
type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)

// New creates the store configured by cfg.
func New(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch Type(cfg.Backend) {
	case "", TypeLocal:
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case TypeS3:
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", cfg.Backend)
	}
}

// objectKey returns the key for a document's raw text.
func objectKey(prefix, documentID string) string {
	return path.Join(strings.Trim(prefix, "/"), documentID+".txt")
}

func validID(documentID string) error {
	if documentID == "" || strings.ContainsAny(documentID, `/\`) || strings.Contains(documentID, "..") {
		return fmt.Errorf("invalid document id %q", documentID)
	}
	return nil
}
