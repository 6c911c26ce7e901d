package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrigramsSingleWord(t *testing.T) {
	got := Trigrams("cat")
	assert.ElementsMatch(t, []string{"  c", " ca", "cat", "at "}, got)
}

func TestTrigramsLowercases(t *testing.T) {
	assert.ElementsMatch(t, Trigrams("aspirin"), Trigrams("ASPIRIN"))
}

func TestTrigramsSplitsWords(t *testing.T) {
	got := Trigrams("atrial fibrillation")
	assert.Contains(t, got, "  a")
	assert.Contains(t, got, "  f")
	assert.Contains(t, got, "ial")
	assert.Contains(t, got, "ion")
	// No trigram spans the word boundary.
	assert.NotContains(t, got, "l f")
}

func TestTrigramsPunctuationIsSeparator(t *testing.T) {
	assert.ElementsMatch(t, Trigrams("type-2 diabetes"), Trigrams("type 2 diabetes"))
}

func TestTrigramsEmpty(t *testing.T) {
	assert.Nil(t, Trigrams(""))
	assert.Nil(t, Trigrams("  ,!  "))
}

func TestTrigramSimilarityIdentical(t *testing.T) {
	a := Trigrams("fibrillation")
	assert.InDelta(t, 1.0, TrigramSimilarity(a, a), 1e-6)
}

func TestTrigramSimilarityDisjoint(t *testing.T) {
	assert.Zero(t, TrigramSimilarity(Trigrams("xyz"), Trigrams("cat")))
}

func TestTrigramSimilarityPartial(t *testing.T) {
	sim := TrigramSimilarity(Trigrams("fibrillation"), Trigrams("fibrilation"))
	assert.Greater(t, sim, float32(0.5))
	assert.Less(t, sim, float32(1.0))
}

func TestTrigramSimilarityEmpty(t *testing.T) {
	assert.Zero(t, TrigramSimilarity(nil, Trigrams("cat")))
	assert.Zero(t, TrigramSimilarity(Trigrams("cat"), nil))
}
