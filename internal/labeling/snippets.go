package labeling

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/taleweave/internal/models"
)

// span is a byte range into a chunk's text.
type span struct {
	start, end int
}

// sentenceSpans splits text after sentence punctuation followed by space and
// at line breaks. Leading and trailing space is excluded from each span.
func sentenceSpans(text string) []span {
	var out []span
	start := 0
	emit := func(end int) {
		s, e := trimSpan(text, start, end)
		if e > s {
			out = append(out, span{s, e})
		}
		start = end
	}
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		next := i + size
		switch {
		case r == '\n':
			emit(next)
		case r == '.' || r == '!' || r == '?':
			// Absorb closing quotes and brackets after the punctuation.
			for next < len(text) && strings.IndexByte(`"')]`, text[next]) >= 0 {
				next++
			}
			if next >= len(text) || text[next] == ' ' || text[next] == '\t' || text[next] == '\n' {
				emit(next)
			}
		}
		i = next
	}
	emit(len(text))
	return out
}

func trimSpan(text string, s, e int) (int, int) {
	for s < e {
		r, size := utf8.DecodeRuneInString(text[s:e])
		if !unicode.IsSpace(r) {
			break
		}
		s += size
	}
	for e > s {
		r, size := utf8.DecodeLastRuneInString(text[s:e])
		if !unicode.IsSpace(r) {
			break
		}
		e -= size
	}
	return s, e
}

// groupSentences joins consecutive sentences until a group reaches target bytes.
func groupSentences(sentences []span, target int) []span {
	var groups []span
	var cur *span
	for _, s := range sentences {
		if cur == nil {
			cur = &span{s.start, s.end}
		} else {
			cur.end = s.end
		}
		if cur.end-cur.start >= target {
			groups = append(groups, *cur)
			cur = nil
		}
	}
	if cur != nil {
		groups = append(groups, *cur)
	}
	return groups
}

// splitSnippets cuts CHUNK fragments (in document order) into SNIPPET
// fragments of roughly target bytes. Text a previous chunk already covered is
// skipped so overlapping windows do not produce duplicate snippets. Positions
// start at 0 and increase by one per snippet.
func splitSnippets(chunks []*models.Fragment, target int) []*models.Fragment {
	var out []*models.Fragment
	covered := -1
	for _, c := range chunks {
		offset := 0
		if covered > c.StartChar {
			offset = covered - c.StartChar
		}
		if offset >= len(c.Text) {
			continue
		}
		for offset < len(c.Text) && !utf8.RuneStart(c.Text[offset]) {
			offset++
		}
		body := c.Text[offset:]
		for _, g := range groupSentences(sentenceSpans(body), target) {
			pos := len(out)
			out = append(out, &models.Fragment{
				ID:               SnippetID(c.DocumentID, pos),
				DocumentID:       c.DocumentID,
				OwnerID:          c.OwnerID,
				Layer:            models.LayerSnippet,
				Text:             body[g.start:g.end],
				ChapterID:        c.ChapterID,
				SceneID:          c.SceneID,
				GlobalSceneIndex: c.GlobalSceneIndex,
				StartChar:        c.StartChar + offset + g.start,
				EndChar:          c.StartChar + offset + g.end,
				Position:         pos,
				TemporalHints:    c.TemporalHints,
			})
		}
		if c.EndChar > covered {
			covered = c.EndChar
		}
	}
	return out
}

// SnippetID is the deterministic ID of the snippet at position in a document.
func SnippetID(documentID string, position int) string {
	return fmt.Sprintf("%s:snippet:%d", documentID, position)
}

func compact(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
