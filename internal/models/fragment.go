package models

// Layer is the granularity tag of a fragment.
type Layer string

const (
	LayerChunk   Layer = "CHUNK"
	LayerScene   Layer = "SCENE"
	LayerSnippet Layer = "SNIPPET"
)

// ParseLayer returns the layer for s, or false if s is not a known layer.
func ParseLayer(s string) (Layer, bool) {
	switch Layer(s) {
	case LayerChunk, LayerScene, LayerSnippet:
		return Layer(s), true
	}
	return "", false
}

// Fragment is an embedded, retrievable span of text stored in the vector index.
type Fragment struct {
	ID               string    `json:"id"`
	DocumentID       string    `json:"document_id"`
	OwnerID          string    `json:"owner_id"`
	Layer            Layer     `json:"layer"`
	Text             string    `json:"text"`
	Embedding        []float32 `json:"-"`
	ChapterID        string    `json:"chapter_id,omitempty"`
	SceneID          string    `json:"scene_id,omitempty"`
	GlobalSceneIndex *int      `json:"global_scene_index,omitempty"`
	EntityNames      []string  `json:"entity_names,omitempty"`
	Labels           []string  `json:"labels,omitempty"`
	StartChar        int       `json:"start_char"`
	EndChar          int       `json:"end_char"`
	Position         int       `json:"position"`
	TemporalHints    []string  `json:"temporal_hints,omitempty"`
}

// ScoredFragment is a fragment with its similarity score.
type ScoredFragment struct {
	Fragment *Fragment `json:"fragment"`
	Score    float64   `json:"score"`
}

// SceneRange is an inclusive range of global scene indices.
type SceneRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether idx is inside the range.
func (r SceneRange) Contains(idx int) bool {
	return idx >= r.Start && idx <= r.End
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
