// Package storage defines the repository contracts for the vocabulary
// store and the MUS wire format shared by every backend.
//
// Three repositories partition the persistence surface: ConceptRepository
// holds concept records together with the text indexes used for exact and
// fuzzy lookup, EmbeddingRepository holds concept vectors and the ANN
// index over them, and RunRepository coordinates embedding generation
// runs. Backends live in subpackages; the Badger backend is the default.
package storage
