package ingest

import (
	"regexp"
	"strings"
)

// ChapterSpan is a chapter's byte range in the document text.
type ChapterSpan struct {
	Index int
	Title string
	Start int
	End   int
}

// chapterMarker matches a whole line that announces a chapter: "Chapter 12",
// "CHAPTER XII: The Ford", "Part One", "Prologue", "Epilogue" or a markdown heading.
var chapterMarker = regexp.MustCompile(`(?im)^[ \t]*(?:(?:chapter|part|book)[ \t]+(?:\d+|[ivxlcdm]+|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty)\b(?:[ \t]*[.:\-–—][^\n]*)?|prologue|epilogue|interlude|#{1,2}[ \t]+[^\n]+)[ \t]*$`)

// SplitChapters splits text at chapter markers. Text before the first marker
// belongs to the first chapter. Without markers the whole text is one chapter.
// Empty or whitespace-only text yields no chapters.
func SplitChapters(text string) []ChapterSpan {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	locs := chapterMarker.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []ChapterSpan{{Index: 0, Title: "", Start: 0, End: len(text)}}
	}
	chapters := make([]ChapterSpan, 0, len(locs))
	for i, loc := range locs {
		start := loc[0]
		if i == 0 {
			start = 0
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		title := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(text[loc[0]:loc[1]]), "#"))
		chapters = append(chapters, ChapterSpan{Index: i, Title: title, Start: start, End: end})
	}
	return chapters
}
