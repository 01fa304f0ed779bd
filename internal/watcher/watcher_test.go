package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/models"
)

type fakeIngester struct {
	mu         sync.Mutex
	registered []string
	started    []string
	deleted    []string
	// unchanged paths register with registered=false.
	unchanged map[string]bool
}

func (f *fakeIngester) RegisterFile(_ context.Context, path, ownerID string, _ []string) (*models.Document, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, filepath.Base(path))
	doc := &models.Document{ID: ownerID + ":" + filepath.Base(path), OwnerID: ownerID}
	return doc, !f.unchanged[filepath.Base(path)], nil
}

func (f *fakeIngester) Start(_ context.Context, documentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, documentID)
}

func (f *fakeIngester) DeleteFile(_ context.Context, path, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, filepath.Base(path))
	return nil
}

func (f *fakeIngester) snapshot() (registered, started, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.registered...), append([]string(nil), f.started...), append([]string(nil), f.deleted...)
}

func newInbox(t *testing.T, dir string, ing Ingester) *Inbox {
	t.Helper()
	in, err := NewInbox(config.WatchConfig{
		Directories: []string{dir},
		Extensions:  []string{".txt", ".md"},
		OwnerID:     "reader",
	}, ing, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	return in
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestNewInbox_RequiresOwner(t *testing.T) {
	_, err := NewInbox(config.WatchConfig{Directories: []string{t.TempDir()}}, &fakeIngester{})
	assert.Error(t, err)
}

func TestInbox_SyncExisting(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "saga.txt"), "Chapter 1")
	writeFile(t, filepath.Join(dir, "old.md"), "# One")
	writeFile(t, filepath.Join(dir, "cover.png"), "png")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "drafts"), 0755))
	writeFile(t, filepath.Join(dir, "drafts", "draft.txt"), "Chapter 0")

	ing := &fakeIngester{unchanged: map[string]bool{"old.md": true}}
	in := newInbox(t, dir, ing)
	in.SyncExisting(context.Background())

	registered, started, _ := ing.snapshot()
	assert.ElementsMatch(t, []string{"saga.txt", "old.md", "draft.txt"}, registered)
	assert.ElementsMatch(t, []string{"reader:saga.txt", "reader:draft.txt"}, started)
}

func TestInbox_IngestsNewAndDeletesRemoved(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	in := newInbox(t, dir, ing)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, in.Start(ctx))
	defer in.Stop()

	path := filepath.Join(dir, "saga.txt")
	writeFile(t, path, "Chapter 1")
	writeFile(t, filepath.Join(dir, "notes.json"), "{}")
	assert.Eventually(t, func() bool {
		_, started, _ := ing.snapshot()
		return len(started) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		_, _, deleted := ing.snapshot()
		return len(deleted) == 1 && deleted[0] == "saga.txt"
	}, 2*time.Second, 10*time.Millisecond)

	registered, _, _ := ing.snapshot()
	assert.NotContains(t, registered, "notes.json")
}

func TestInbox_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	in, err := NewInbox(config.WatchConfig{Directories: []string{dir}, OwnerID: "reader"}, ing,
		WithDebounce(200*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, in.Start(context.Background()))
	defer in.Stop()

	path := filepath.Join(dir, "saga.txt")
	for i := 0; i < 5; i++ {
		writeFile(t, path, "Chapter "+string(rune('1'+i)))
		time.Sleep(10 * time.Millisecond)
	}
	assert.Eventually(t, func() bool {
		registered, _, _ := ing.snapshot()
		return len(registered) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	registered, _, _ := ing.snapshot()
	assert.Len(t, registered, 1)
}

func TestInbox_NewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	in := newInbox(t, dir, ing)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, in.Start(ctx))
	defer in.Stop()

	nested := filepath.Join(dir, "series", "book-two")
	require.NoError(t, os.MkdirAll(nested, 0755))
	writeFile(t, filepath.Join(nested, "sequel.md"), "# Chapter 1")

	assert.Eventually(t, func() bool {
		registered, _, _ := ing.snapshot()
		for _, r := range registered {
			if r == "sequel.md" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInbox_StartCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox", "books")
	in := newInbox(t, dir, &fakeIngester{})
	require.NoError(t, in.Start(context.Background()))
	defer in.Stop()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, []string{dir}, in.Directories())
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{"txt"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchExtension(tt.path, tt.extensions), tt.path)
	}
}

func TestInDir(t *testing.T) {
	assert.True(t, inDir("/tmp/a", "/tmp/a"))
	assert.True(t, inDir("/tmp/a", "/tmp/a/b.txt"))
	assert.False(t, inDir("/tmp/a", "/tmp/b"))
	assert.False(t, inDir("/tmp/a", "/tmp/a/../b"))
}
