package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConcept(t *testing.T) {
	t.Run("valid standard concept", func(t *testing.T) {
		c := &Concept{
			ConceptID:    201826,
			Name:         "Type 2 diabetes mellitus",
			Code:         "44054006",
			DomainID:     "Condition",
			VocabularyID: "SNOMED",
			Standard:     StandardFlagStandard,
		}
		require.NoError(t, ValidateConcept(c))
	})

	t.Run("valid non-standard concept", func(t *testing.T) {
		c := &Concept{ConceptID: 44054006, Standard: StandardFlagNone}
		require.NoError(t, ValidateConcept(c))
	})

	t.Run("nil concept", func(t *testing.T) {
		err := ValidateConcept(nil)
		assert.ErrorIs(t, err, ErrInvalidConcept)
	})

	t.Run("zero concept id", func(t *testing.T) {
		err := ValidateConcept(&Concept{Name: "x"})
		assert.ErrorIs(t, err, ErrInvalidConcept)
		assert.ErrorIs(t, err, ErrZeroConceptID)
	})

	t.Run("unknown standard flag", func(t *testing.T) {
		err := ValidateConcept(&Concept{ConceptID: 1, Standard: StandardFlag("X")})
		assert.ErrorIs(t, err, ErrInvalidStandardFlag)
	})
}

func TestValidateEmbedding(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		e := &ConceptEmbedding{
			ConceptID: 201826,
			Vector:    make([]float32, 384),
			ModelName: "all-MiniLM-L6-v2",
		}
		require.NoError(t, ValidateEmbedding(e))
	})

	t.Run("nil embedding", func(t *testing.T) {
		assert.ErrorIs(t, ValidateEmbedding(nil), ErrInvalidEmbedding)
	})

	t.Run("zero concept id", func(t *testing.T) {
		e := &ConceptEmbedding{Vector: []float32{1}, ModelName: "m"}
		assert.ErrorIs(t, ValidateEmbedding(e), ErrZeroConceptID)
	})

	t.Run("empty vector", func(t *testing.T) {
		e := &ConceptEmbedding{ConceptID: 1, ModelName: "m"}
		assert.ErrorIs(t, ValidateEmbedding(e), ErrEmptyVector)
	})

	t.Run("empty model name", func(t *testing.T) {
		e := &ConceptEmbedding{ConceptID: 1, Vector: []float32{1}}
		assert.ErrorIs(t, ValidateEmbedding(e), ErrEmptyModelName)
	})
}

func TestConceptEmbeddable(t *testing.T) {
	cases := []struct {
		name     string
		concept  Concept
		expected bool
	}{
		{"standard with name", Concept{Standard: StandardFlagStandard, Name: "Aspirin"}, true},
		{"standard without name", Concept{Standard: StandardFlagStandard}, false},
		{"classification", Concept{Standard: StandardFlagClassification, Name: "Drug"}, false},
		{"non-standard", Concept{Standard: StandardFlagNone, Name: "Aspirin 81mg"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.concept.Embeddable())
		})
	}
}
