// Package watcher turns directories into ingestion inboxes. Book files that
// appear or change under an inbox are registered and ingested in the
// background; removing a file deletes its document.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/models"
)

const defaultDebounce = 400 * time.Millisecond

// Ingester registers book files and runs ingestion. *ingest.Pipeline satisfies it.
type Ingester interface {
	RegisterFile(ctx context.Context, path, ownerID string, allowedExts []string) (*models.Document, bool, error)
	Start(ctx context.Context, documentID string)
	DeleteFile(ctx context.Context, path, ownerID string) error
}

// Inbox watches directories and feeds book files to an Ingester.
type Inbox struct {
	dirs       []string
	extensions []string
	recursive  bool
	ownerID    string
	ingester   Ingester
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	ctx      context.Context
	pending  map[string]*time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Inbox) { in.logger = l }
}

// WithDebounce sets how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) {
		if d > 0 {
			in.debounce = d
		}
	}
}

// NewInbox creates an inbox over cfg.Directories. Files are ingested for cfg.OwnerID.
func NewInbox(cfg config.WatchConfig, ingester Ingester, opts ...Option) (*Inbox, error) {
	if cfg.OwnerID == "" {
		return nil, errors.New("watch: owner id required")
	}
	in := &Inbox{
		dirs:       append([]string(nil), cfg.Directories...),
		extensions: cfg.Extensions,
		recursive:  cfg.RecursiveOrDefault(),
		ownerID:    cfg.OwnerID,
		ingester:   ingester,
		debounce:   defaultDebounce,
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.logger == nil {
		in.logger = zap.NewNop()
	}
	return in, nil
}

// Start begins watching. Missing inbox directories are created. It returns
// once the watches are in place; events are handled until ctx is cancelled
// or Stop is called.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.started {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	in.fsw = fsw
	for _, dir := range in.dirs {
		if err := in.watchLocked(dir); err != nil {
			_ = fsw.Close()
			in.fsw = nil
			return err
		}
	}
	in.ctx = ctx
	in.started = true
	in.logger.Info("inbox watching",
		zap.Strings("directories", in.dirs),
		zap.Strings("extensions", in.extensions),
		zap.Bool("recursive", in.recursive))
	go in.run(ctx, fsw)
	return nil
}

// SyncExisting ingests the files already present in the inbox directories.
// Files whose text did not change since they were registered are skipped.
func (in *Inbox) SyncExisting(ctx context.Context) {
	for _, dir := range in.dirs {
		in.syncDir(ctx, dir)
	}
}

// Directories returns the watched inbox directories.
func (in *Inbox) Directories() []string {
	return append([]string(nil), in.dirs...)
}

// Stop stops watching and drops pending files.
func (in *Inbox) Stop() {
	in.mu.Lock()
	if !in.started {
		in.mu.Unlock()
		return
	}
	for path, t := range in.pending {
		t.Stop()
		delete(in.pending, path)
	}
	_ = in.fsw.Close()
	in.started = false
	in.mu.Unlock()
	in.stopOnce.Do(func() { close(in.done) })
}

func (in *Inbox) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			in.Stop()
			return
		case <-in.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			in.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			in.logger.Warn("inbox watch error", zap.Error(err))
		}
	}
}

func (in *Inbox) handle(ev fsnotify.Event) {
	path := ev.Name
	if !in.underInbox(path) {
		return
	}
	in.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			in.handleNewDir(path)
			return
		}
		if matchExtension(path, in.extensions) {
			in.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		in.cancel(path)
		if matchExtension(path, in.extensions) {
			in.remove(path)
		}
	}
}

// handleNewDir watches a directory moved or created inside an inbox and
// ingests what it already holds.
func (in *Inbox) handleNewDir(dir string) {
	in.mu.Lock()
	if !in.started || !in.recursive {
		in.mu.Unlock()
		return
	}
	err := in.watchLocked(dir)
	ctx := in.ctx
	in.mu.Unlock()
	if err != nil {
		in.logger.Warn("inbox failed to watch directory", zap.String("path", dir), zap.Error(err))
		return
	}
	in.syncDir(ctx, dir)
}

func (in *Inbox) schedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.started {
		return
	}
	if t, ok := in.pending[path]; ok {
		t.Stop()
	}
	ctx := in.ctx
	in.pending[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.pending, path)
		in.mu.Unlock()
		in.ingest(ctx, path)
	})
}

func (in *Inbox) cancel(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok {
		t.Stop()
		delete(in.pending, path)
	}
}

func (in *Inbox) ingest(ctx context.Context, path string) {
	doc, registered, err := in.ingester.RegisterFile(ctx, path, in.ownerID, in.extensions)
	if err != nil {
		in.logger.Warn("inbox registration failed", zap.String("path", path), zap.Error(err))
		return
	}
	if !registered {
		return
	}
	in.logger.Info("inbox file registered", zap.String("path", path), zap.String("document_id", doc.ID))
	in.ingester.Start(ctx, doc.ID)
}

func (in *Inbox) remove(path string) {
	in.mu.Lock()
	ctx := in.ctx
	in.mu.Unlock()
	if err := in.ingester.DeleteFile(ctx, path, in.ownerID); err != nil {
		in.logger.Warn("inbox delete failed", zap.String("path", path), zap.Error(err))
		return
	}
	in.logger.Debug("inbox file removed", zap.String("path", path))
}

func (in *Inbox) syncDir(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !in.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchExtension(path, in.extensions) {
			in.ingest(ctx, path)
		}
		return nil
	})
}

func (in *Inbox) watchLocked(dir string) error {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if !in.recursive {
		return in.fsw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return in.fsw.Add(path)
		}
		return nil
	})
}

func (in *Inbox) underInbox(path string) bool {
	clean := filepath.Clean(path)
	for _, dir := range in.dirs {
		if inDir(filepath.Clean(dir), clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}
