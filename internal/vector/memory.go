package vector

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/taleweave/internal/models"
)

// MemoryIndex is an in-memory fragment index using brute-force cosine search.
// Suitable for tests and single-book workloads; persisted with gob.
type MemoryIndex struct {
	dimensions int
	points     map[string]*models.Fragment
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		points:     make(map[string]*models.Fragment),
	}, nil
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// EnsureCollection is a no-op for MemoryIndex.
func (m *MemoryIndex) EnsureCollection(ctx context.Context) error {
	return nil
}

// Upsert stores copies of the fragments, replacing any with the same ID.
func (m *MemoryIndex) Upsert(ctx context.Context, fragments []*models.Fragment) error {
	for _, f := range fragments {
		if f.ID == "" {
			return fmt.Errorf("fragment without id")
		}
		if len(f.Embedding) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(f.Embedding), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range fragments {
		cp := *f
		cp.Embedding = append([]float32(nil), f.Embedding...)
		m.points[f.ID] = &cp
	}
	return nil
}

// Search returns the top-k fragments matching filter by cosine similarity.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, filter Filter, k int) ([]models.ScoredFragment, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var scored []models.ScoredFragment
	for _, f := range m.points {
		if !filter.Matches(f) {
			continue
		}
		scored = append(scored, models.ScoredFragment{Fragment: withoutVector(f), Score: CosineSimilarity(query, f.Embedding)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Fragment.ID < scored[j].Fragment.ID
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// Delete removes every fragment matching filter.
func (m *MemoryIndex) Delete(ctx context.Context, filter Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, f := range m.points {
		if filter.Matches(f) {
			delete(m.points, id)
		}
	}
	return nil
}

// Scroll returns matching fragments without vectors ordered by position, then ID.
func (m *MemoryIndex) Scroll(ctx context.Context, filter Filter) ([]*models.Fragment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Fragment
	for _, f := range m.points {
		if filter.Matches(f) {
			out = append(out, withoutVector(f))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Count returns the number of fragments matching filter.
func (m *MemoryIndex) Count(ctx context.Context, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, f := range m.points {
		if filter.Matches(f) {
			n++
		}
	}
	return n, nil
}

// Health always succeeds for MemoryIndex.
func (m *MemoryIndex) Health(ctx context.Context) error {
	return nil
}

// Size returns the number of stored fragments.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

type memorySnapshot struct {
	Dimensions int
	Points     []*models.Fragment
}

// Save persists the index to path. Directory is created if needed.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	snap := memorySnapshot{Dimensions: m.dimensions, Points: make([]*models.Fragment, 0, len(m.points))}
	for _, f := range m.points {
		snap.Points = append(snap.Points, f)
	}
	m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		f.Close()
		return fmt.Errorf("encode index: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads the index from path and replaces the in-memory contents. Dimensions must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	var snap memorySnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}
	if snap.Dimensions != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", snap.Dimensions, m.dimensions)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = make(map[string]*models.Fragment, len(snap.Points))
	for _, p := range snap.Points {
		m.points[p.ID] = p
	}
	return nil
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}

func withoutVector(f *models.Fragment) *models.Fragment {
	cp := *f
	cp.Embedding = nil
	return &cp
}
