package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/taleweave/internal/models"
)

// LocalStore keeps raw text as files under a base directory.
type LocalStore struct {
	basePath string
	prefix   string
}

// NewLocalStore creates basePath if needed.
func NewLocalStore(basePath, prefix string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &LocalStore{basePath: basePath, prefix: prefix}, nil
}

// Put writes text atomically and returns its key.
func (s *LocalStore) Put(ctx context.Context, documentID, text string) (string, error) {
	if err := validID(documentID); err != nil {
		return "", err
	}
	key := objectKey(s.prefix, documentID)
	full, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return key, nil
}

// Get reads the text stored under ref.
func (s *LocalStore) Get(ctx context.Context, ref string) (string, error) {
	full, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("blob %s: %w", ref, models.ErrNotFound)
		}
		return "", fmt.Errorf("failed to read blob: %w", err)
	}
	return string(data), nil
}

// Delete removes the file under ref.
func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	full, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// resolve maps a key to a path inside basePath, rejecting escapes.
func (s *LocalStore) resolve(ref string) (string, error) {
	full := filepath.Join(s.basePath, filepath.FromSlash(ref))
	rel, err := filepath.Rel(s.basePath, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: blob ref %q", models.ErrInvalidInput, ref)
	}
	return full, nil
}
