package ingest

import (
	"strings"
	"unicode/utf8"
)

// NormalizeText prepares raw book text for segmentation: valid UTF-8, "\n"
// line endings, no trailing spaces on lines and no leading or trailing blank
// lines. Paragraph breaks are kept because chapter detection is line based.
func NormalizeText(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\ufffd")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\u00a0")
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}

// runeFloor moves i back to the start of the rune containing it, never below lo.
func runeFloor(text string, i, lo int) int {
	if i >= len(text) {
		return len(text)
	}
	for i > lo && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// excerpt returns at most n bytes of s cut at a rune boundary.
func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:runeFloor(s, n, 0)]) + "..."
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
