package core

import "time"

// StandardFlag designates whether a concept is canonical for analytic use.
// Values follow the vocabulary release encoding: "S" for standard concepts,
// "C" for classification concepts, and the empty string for non-standard
// concepts retained for reference only.
type StandardFlag string

const (
	// StandardFlagStandard marks a canonical standard concept.
	StandardFlagStandard StandardFlag = "S"
	// StandardFlagClassification marks a classification concept.
	StandardFlagClassification StandardFlag = "C"
	// StandardFlagNone marks a non-standard concept.
	StandardFlagNone StandardFlag = ""
)

// Concept is a single entry of the controlled vocabulary corpus.
// Concepts are immutable for search: they are loaded from out-of-band
// vocabulary releases and never mutated by the search or embedding paths.
type Concept struct {
	ConceptID      uint64
	Name           string
	Code           string
	DomainID       string
	VocabularyID   string
	ConceptClassID string
	Standard       StandardFlag
	ValidStart     time.Time
	ValidEnd       time.Time
	InvalidReason  string
}

// Embeddable reports whether the concept is eligible for embedding
// generation: a standard concept with a non-empty name.
func (c *Concept) Embeddable() bool {
	return c.Standard == StandardFlagStandard && c.Name != ""
}

// ConceptEmbedding is the stored semantic vector for a concept.
// Vectors are L2-normalized before persistence so cosine similarity
// reduces to a dot product. At most one embedding exists per concept.
type ConceptEmbedding struct {
	ConceptID    uint64
	Vector       []float32
	ModelName    string
	ModelVersion string
	GeneratedAt  time.Time
}

// SearchFilter is the request-scoped constraint applied uniformly across
// all matchers. Zero-valued fields are inactive.
type SearchFilter struct {
	VocabularyID string
	DomainID     string
	StandardOnly bool
}

// MatchKind identifies which matching mechanism produced a hit.
type MatchKind string

const (
	MatchKindExact    MatchKind = "exact"
	MatchKindFuzzy    MatchKind = "fuzzy"
	MatchKindSemantic MatchKind = "semantic"
)

// SearchHit is a single ranked search result. Hits are constructed per
// request and discarded after serialization.
type SearchHit struct {
	ConceptID    uint64
	Name         string
	Code         string
	DomainID     string
	VocabularyID string
	Standard     StandardFlag
	Score        float32
	Kind         MatchKind
}

// HitFromConcept builds a SearchHit from a concept with the given score
// and match kind.
func HitFromConcept(c *Concept, score float32, kind MatchKind) SearchHit {
	return SearchHit{
		ConceptID:    c.ConceptID,
		Name:         c.Name,
		Code:         c.Code,
		DomainID:     c.DomainID,
		VocabularyID: c.VocabularyID,
		Standard:     c.Standard,
		Score:        score,
		Kind:         kind,
	}
}

// SimilarityMatch is a raw nearest-neighbor result from the vector index.
type SimilarityMatch struct {
	ConceptID uint64
	Score     float32
}

// ModelCount reports how many stored embeddings belong to a given
// embedding model identity.
type ModelCount struct {
	Name    string
	Version string
	Count   int
}

// GenerationRun is the persisted record of the most recent embedding
// generation run. It exists for observability: resume never reads it,
// the pending set is derived from the embedding table itself.
type GenerationRun struct {
	Holder       string
	ModelName    string
	ModelVersion string
	StartedAt    time.Time
	FinishedAt   time.Time
	Processed    int
	Failed       int
	FailedIDs    []uint64
}
