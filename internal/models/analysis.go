package models

// SceneMatch is a scene summary hit used to resolve a focus window.
type SceneMatch struct {
	SceneID     string  `json:"scene_id,omitempty"`
	GlobalIndex int     `json:"global_index"`
	Score       float64 `json:"score"`
	Summary     string  `json:"summary,omitempty"`
}

// FocusWindow is a resolved inclusive range of global scene indices.
type FocusWindow struct {
	StartGlobalIndex int          `json:"start_global_index"`
	EndGlobalIndex   int          `json:"end_global_index"`
	MatchedScenes    []SceneMatch `json:"matched_scenes"`
}

// Range returns the window as a SceneRange.
func (w *FocusWindow) Range() SceneRange {
	return SceneRange{Start: w.StartGlobalIndex, End: w.EndGlobalIndex}
}

// SourceRef points at a fragment that contributed context to an analysis.
type SourceRef struct {
	FragmentID       string  `json:"fragment_id"`
	DocumentID       string  `json:"document_id"`
	Layer            Layer   `json:"layer"`
	GlobalSceneIndex *int    `json:"global_scene_index,omitempty"`
	Score            float64 `json:"score"`
}

// AnalysisResult is the structured answer for an entity.
type AnalysisResult struct {
	EntityName     string                    `json:"entity_name"`
	EntityType     string                    `json:"entity_type"`
	Description    string                    `json:"description"`
	Attributes     map[string]AttributeValue `json:"attributes"`
	ContextSources []SourceRef               `json:"context_sources"`
	Window         *FocusWindow              `json:"window,omitempty"`
	Pipeline       string                    `json:"pipeline"`
	Refined        bool                      `json:"refined"`
}

// CharacterRecord is a character seeded by the aggregation sweep.
type CharacterRecord struct {
	ID           string   `json:"id"`
	DocumentID   string   `json:"document_id"`
	OwnerID      string   `json:"owner_id"`
	Name         string   `json:"name"`
	Aliases      []string `json:"aliases,omitempty"`
	Role         string   `json:"role,omitempty"`
	Traits       []string `json:"traits,omitempty"`
	MentionCount int      `json:"mention_count"`
}

// SceneDigest is a coarse summary of a block of snippets.
type SceneDigest struct {
	ID            string   `json:"id"`
	DocumentID    string   `json:"document_id"`
	BlockIndex    int      `json:"block_index"`
	Summary       string   `json:"summary"`
	Characters    []string `json:"characters,omitempty"`
	StartPosition int      `json:"start_position"`
	EndPosition   int      `json:"end_position"`
}
