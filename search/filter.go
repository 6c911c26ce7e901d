package search

import "github.com/poiesic/vocabdex/core"

// filterPredicate compiles a SearchFilter into a keep function, or nil
// when the filter is inactive. Filters run before any limit truncation so
// a narrow filter never starves the result set.
func filterPredicate(f core.SearchFilter) func(*core.Concept) bool {
	if f.VocabularyID == "" && f.DomainID == "" && !f.StandardOnly {
		return nil
	}
	return func(c *core.Concept) bool {
		if f.VocabularyID != "" && c.VocabularyID != f.VocabularyID {
			return false
		}
		if f.DomainID != "" && c.DomainID != f.DomainID {
			return false
		}
		if f.StandardOnly && c.Standard != core.StandardFlagStandard {
			return false
		}
		return true
	}
}
