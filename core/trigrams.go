package core

import (
	"strings"
	"unicode"
)

// Trigrams extracts the set of character trigrams from s, following the
// conventions of Postgres pg_trgm: the input is lowercased and split into
// alphanumeric words, each word is padded with two leading blanks and one
// trailing blank, and the distinct three-character windows are collected.
// The result is deduplicated but unordered.
func Trigrams(s string) []string {
	words := splitWords(strings.ToLower(s))
	if len(words) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	for _, w := range words {
		padded := "  " + w + " "
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			t := string(runes[i : i+3])
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// TrigramSimilarity returns the similarity of two trigram sets as the
// ratio of shared trigrams to the size of their union. Returns 0 when
// either set is empty.
func TrigramSimilarity(a, b []string) float32 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}

	shared := 0
	union := len(set)
	counted := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, ok := counted[t]; ok {
			continue
		}
		counted[t] = struct{}{}
		if _, ok := set[t]; ok {
			shared++
		} else {
			union++
		}
	}
	return float32(shared) / float32(union)
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
