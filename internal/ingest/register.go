package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/fileid"
	"github.com/hyperjump/taleweave/internal/models"
)

// Register stores the raw text of input and creates a PENDING document.
func (p *Pipeline) Register(ctx context.Context, input *models.DocumentInput) (*models.Document, error) {
	if input.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id required", models.ErrInvalidInput)
	}
	if strings.TrimSpace(input.Text) == "" {
		return nil, fmt.Errorf("%w: document text is empty", models.ErrInvalidInput)
	}
	if input.ID == "" {
		input.ID = uuid.New().String()
	}
	ref, err := p.blobs.Put(ctx, input.ID, input.Text)
	if err != nil {
		return nil, fmt.Errorf("store raw text: %w", err)
	}
	doc := &models.Document{
		ID:         input.ID,
		OwnerID:    input.OwnerID,
		Title:      input.Title,
		RawTextRef: ref,
		PageCount:  input.PageCount,
		SourcePath: input.SourcePath,
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		_ = p.blobs.Delete(ctx, ref)
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	return doc, nil
}

// RegisterFile extracts the text of a book file and registers it for ownerID.
// The document ID is derived from owner and absolute path, so a file that was
// registered before is replaced when its text changed and returned unchanged
// (with registered=false) otherwise. If allowedExts is non-empty the file's
// extension must be in it.
func (p *Pipeline) RegisterFile(ctx context.Context, path, ownerID string, allowedExts []string) (doc *models.Document, registered bool, err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, false, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return nil, false, fmt.Errorf("%w: extension %q not in allowed list", models.ErrInvalidInput, ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, false, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, false, fmt.Errorf("%w: not a regular file: %s", models.ErrInvalidInput, absPath)
	}
	if p.extractor == nil {
		return nil, false, errors.New("no file extractor configured")
	}
	extracted, err := p.extractor.Extract(absPath)
	if err != nil {
		return nil, false, fmt.Errorf("extract content: %w", err)
	}

	docID := fileid.FileDocID(ownerID, absPath)
	if existing, gerr := p.store.GetDocument(ctx, docID); gerr == nil {
		if existing.Status != models.DocumentFailed && p.sameText(ctx, existing, extracted.Text) {
			p.logger.Debug("skipping unchanged file", zap.String("path", absPath), zap.String("document_id", docID))
			return existing, false, nil
		}
		if err := p.Delete(ctx, docID); err != nil {
			return nil, false, fmt.Errorf("replace document: %w", err)
		}
	} else if !errors.Is(gerr, models.ErrNotFound) {
		return nil, false, gerr
	}

	doc, err = p.Register(ctx, &models.DocumentInput{
		ID:         docID,
		OwnerID:    ownerID,
		Title:      strings.TrimSuffix(filepath.Base(absPath), ext),
		Text:       extracted.Text,
		PageCount:  extracted.PageCount,
		SourcePath: absPath,
	})
	if err != nil {
		return nil, false, err
	}
	p.logger.Debug("file registered", zap.String("path", absPath), zap.String("document_id", doc.ID))
	return doc, true, nil
}

func (p *Pipeline) sameText(ctx context.Context, doc *models.Document, text string) bool {
	stored, err := p.blobs.Get(ctx, doc.RawTextRef)
	return err == nil && stored == text
}

// Delete removes a document: fragments (best effort), raw text (logged on
// failure) and every relational record.
func (p *Pipeline) Delete(ctx context.Context, documentID string) error {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	_ = p.fragments.DeleteAllFor(ctx, doc.ID)
	if doc.RawTextRef != "" {
		if err := p.blobs.Delete(ctx, doc.RawTextRef); err != nil {
			p.logger.Warn("failed to delete raw text", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	if err := p.store.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	p.logger.Debug("document deleted", zap.String("document_id", doc.ID))
	return nil
}

// DeleteFile deletes the document registered from path for ownerID. A file
// that was never registered is not an error.
func (p *Pipeline) DeleteFile(ctx context.Context, path, ownerID string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	err = p.Delete(ctx, fileid.FileDocID(ownerID, absPath))
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}
