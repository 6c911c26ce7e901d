package core

import "fmt"

// ValidateConcept validates a Concept according to domain rules.
//
// Validation rules:
//   - ConceptID must be positive
//   - Standard must be one of the recognized flags
//
// NOT validated:
//   - Name and Code (vocabulary releases contain entries with empty
//     names; they are simply never embedded or matched)
func ValidateConcept(c *Concept) error {
	if c == nil {
		return fmt.Errorf("%w: concept is nil", ErrInvalidConcept)
	}

	if c.ConceptID == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConcept, ErrZeroConceptID)
	}

	if err := ValidateStandardFlag(c.Standard); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConcept, err)
	}

	return nil
}

// ValidateEmbedding validates a ConceptEmbedding according to domain rules.
//
// Validation rules:
//   - ConceptID must be positive
//   - Vector must be non-empty
//   - ModelName must be non-empty
//
// Dimensionality is not validated here: the expected dimension belongs to
// the embedding model configuration, not the domain model.
func ValidateEmbedding(e *ConceptEmbedding) error {
	if e == nil {
		return fmt.Errorf("%w: embedding is nil", ErrInvalidEmbedding)
	}

	if e.ConceptID == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidEmbedding, ErrZeroConceptID)
	}

	if len(e.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidEmbedding, ErrEmptyVector)
	}

	if e.ModelName == "" {
		return fmt.Errorf("%w: %w", ErrInvalidEmbedding, ErrEmptyModelName)
	}

	return nil
}

// ValidateStandardFlag validates that a StandardFlag has a recognized value.
func ValidateStandardFlag(flag StandardFlag) error {
	switch flag {
	case StandardFlagStandard, StandardFlagClassification, StandardFlagNone:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidStandardFlag, flag)
}
