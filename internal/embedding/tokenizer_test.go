package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("Mara crossed the ford", 8)
	assert.Len(t, ids, 8)
	assert.Len(t, types, 8)
	assert.Equal(t, int64(101), ids[0])
	assert.Equal(t, int64(102), ids[5])
	assert.Equal(t, []int64{1, 1, 1, 1, 1, 1, 0, 0}, attn)
	for _, id := range ids[1:5] {
		assert.GreaterOrEqual(t, id, int64(1000))
	}
}

func TestSimpleTokenizer_CaseInsensitive(t *testing.T) {
	tok := &SimpleTokenizer{}
	a, _, _ := tok.Tokenize("The Siege", 6)
	b, _, _ := tok.Tokenize("the siege", 6)
	assert.Equal(t, a, b)
}

func TestSimpleTokenizer_TruncatesLongText(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("one two three four five six seven", 4)
	assert.Len(t, ids, 4)
	// CLS, two words and SEP.
	assert.Equal(t, []int64{1, 1, 1, 1}, attn)
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"before", "the", "battle"}, SplitWords("  before\tthe\nbattle "))
	assert.Nil(t, SplitWords(" \n"))
}

func TestHashString(t *testing.T) {
	assert.Equal(t, HashString("cloak"), HashString("cloak"))
	assert.NotEqual(t, HashString("cloak"), HashString("sword"))
	long := "a very long sentence about a bloodied cloak that overflows a naive hash"
	assert.GreaterOrEqual(t, HashString(long), 0)
}
