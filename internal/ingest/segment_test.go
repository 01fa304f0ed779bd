package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitChapters(t *testing.T) {
	text := "Foreword text.\n\nChapter 1\nThe mill.\n\nCHAPTER II: The Ford\nRiver.\n\n## Epilogue notes\nEnd."
	chapters := SplitChapters(text)
	require.Len(t, chapters, 3)

	assert.Equal(t, 0, chapters[0].Start, "text before the first marker belongs to chapter one")
	assert.Equal(t, "Chapter 1", chapters[0].Title)
	assert.Equal(t, "CHAPTER II: The Ford", chapters[1].Title)
	assert.Equal(t, "Epilogue notes", chapters[2].Title)
	assert.Equal(t, len(text), chapters[2].End)
	for i := 1; i < len(chapters); i++ {
		assert.Equal(t, chapters[i-1].End, chapters[i].Start, "chapters tile the text")
		assert.Equal(t, i, chapters[i].Index)
	}
	assert.True(t, strings.HasPrefix(text[chapters[1].Start:], "CHAPTER II"))
}

func TestSplitChapters_noMarkers(t *testing.T) {
	text := "Just a story without any headings.\nIt goes on."
	chapters := SplitChapters(text)
	require.Len(t, chapters, 1)
	assert.Equal(t, ChapterSpan{Index: 0, Start: 0, End: len(text)}, chapters[0])
}

func TestSplitChapters_markerMustBeWholeLine(t *testing.T) {
	text := "He read chapter 3 of the ledger aloud.\nPrologue\nThe fire."
	chapters := SplitChapters(text)
	require.Len(t, chapters, 1, "an inline mention is not a marker")
	assert.Equal(t, "Prologue", chapters[0].Title)
}

func TestSplitChapters_empty(t *testing.T) {
	assert.Nil(t, SplitChapters(""))
	assert.Nil(t, SplitChapters("  \n\t"))
}

func TestChunker_ContainmentAndCount(t *testing.T) {
	text := strings.Repeat("abcdefghij", 30)
	c := NewChunker(40, 10)
	assert.Equal(t, 30, c.Stride())

	tests := []struct {
		name       string
		start, end int
	}{
		{"shorter than size", 0, 25},
		{"exact stride multiple", 10, 100},
		{"long", 17, 300},
		{"single byte", 5, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := c.ChunkScene(text, tt.start, tt.end)
			assert.Len(t, spans, c.ExpectedChunks(tt.end-tt.start))
			for i, s := range spans {
				assert.GreaterOrEqual(t, s.Start, tt.start)
				assert.LessOrEqual(t, s.End, tt.end)
				assert.Less(t, s.Start, s.End)
				assert.LessOrEqual(t, s.End-s.Start, 40)
				assert.Equal(t, tt.start+i*30, s.Start)
			}
		})
	}
}

func TestChunker_EmptyAndInvalid(t *testing.T) {
	c := NewChunker(10, 2)
	assert.Nil(t, c.ChunkScene("hello", 3, 3))
	assert.Nil(t, c.ChunkScene("hello", 4, 2))
	assert.Equal(t, 0, c.ExpectedChunks(0))

	bad := NewChunker(10, 10)
	assert.Equal(t, 10, bad.Stride(), "overlap not smaller than size falls back to none")
}

func TestChunker_RuneBoundaries(t *testing.T) {
	text := strings.Repeat("é", 20)
	for _, s := range NewChunker(5, 2).ChunkScene(text, 0, len(text)) {
		assert.True(t, utf8.ValidString(text[s.Start:s.End]), "chunk %d:%d splits a rune", s.Start, s.End)
	}
}

func TestNormalizeText(t *testing.T) {
	got := NormalizeText("\r\n\r\nChapter 1  \r\nLine\ttwo\t\r\rEnd\n\n")
	assert.Equal(t, "Chapter 1\nLine\ttwo\n\nEnd", got)
}

func TestLocateStarts(t *testing.T) {
	body := "The door opened. She ran. Later that night the fire began. Dawn came at last."
	starts := locateStarts(body, []anchor{
		{start: "The door opened.", end: "She ran."},
		{start: "missing quote entirely", end: ""},
		{start: "Dawn came", end: "at last."},
	})
	require.Len(t, starts, 3)
	assert.Equal(t, 0, starts[0])
	assert.Equal(t, strings.Index(body, " Later"), starts[1], "missing quote falls back to the cursor")
	assert.Equal(t, strings.Index(body, "Dawn"), starts[2])
}

func TestLocateStarts_NeverDecreases(t *testing.T) {
	body := "Alpha beta. Gamma delta. Alpha again."
	starts := locateStarts(body, []anchor{
		{start: "Gamma delta."},
		{start: "Alpha"},
	})
	assert.Equal(t, strings.Index(body, "Gamma"), starts[0])
	assert.Equal(t, strings.LastIndex(body, "Alpha"), starts[1], "search resumes from the cursor")
}

func TestFindQuote_ReflowedText(t *testing.T) {
	body := "It was cold. The old man walked\ninto the\nsea slowly."
	pos, n := findQuote(body, "The old man walked into the sea slowly.", 0)
	assert.Equal(t, strings.Index(body, "The old"), pos)
	assert.Equal(t, len("The old man walked"), n, "only the matched prefix counts")
	pos, _ = findQuote(body, "nowhere in it", 0)
	assert.Equal(t, -1, pos)
	pos, _ = findQuote(body, "", 0)
	assert.Equal(t, -1, pos)
}

func TestLocateStarts_InventedEndQuoteTail(t *testing.T) {
	body := "Alpha beta gamma delta epsilon zeta."
	starts := locateStarts(body, []anchor{
		{start: "Alpha beta", end: "gamma delta epsilon zeta and a long invented tail that is not in the chapter"},
		{start: "a start quote that does not exist"},
	})
	require.Len(t, starts, 2)
	assert.Equal(t, 0, starts[0])
	// The cursor only advances past the matched words.
	assert.Equal(t, strings.Index(body, "."), starts[1])
	for _, s := range starts {
		assert.LessOrEqual(t, s, len(body))
	}
}
