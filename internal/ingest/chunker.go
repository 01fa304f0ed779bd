package ingest

// ChunkSpan is a chunk's byte range in the document text.
type ChunkSpan struct {
	Start int
	End   int
}

// Chunker cuts scenes into overlapping windows of a fixed size.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. overlap must be smaller than size; config
// validation enforces it, and a bad pair falls back to no overlap.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap}
}

// Stride is the distance between consecutive window starts.
func (c *Chunker) Stride() int {
	return c.size - c.overlap
}

// ChunkScene returns the windows of [start, end) in text. Windows start at
// start + k*stride while inside the scene and are clamped to end, so a scene
// of length L yields ceil(L/stride) chunks and no chunk leaves the scene.
// Boundaries are moved back to rune starts.
func (c *Chunker) ChunkScene(text string, start, end int) []ChunkSpan {
	if end > len(text) {
		end = len(text)
	}
	if start < 0 {
		start = 0
	}
	if end <= start {
		return nil
	}
	stride := c.Stride()
	spans := make([]ChunkSpan, 0, (end-start+stride-1)/stride)
	for s := start; s < end; s += stride {
		cs := runeFloor(text, s, start)
		ce := end
		if s+c.size < end {
			ce = runeFloor(text, s+c.size, cs)
		}
		if ce <= cs {
			ce = end
		}
		spans = append(spans, ChunkSpan{Start: cs, End: ce})
	}
	return spans
}

// ExpectedChunks returns ceil(length/stride).
func (c *Chunker) ExpectedChunks(length int) int {
	if length <= 0 {
		return 0
	}
	stride := c.Stride()
	return (length + stride - 1) / stride
}
