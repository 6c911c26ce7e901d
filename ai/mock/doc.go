// Package mock provides a deterministic test double for the ai.Embedder
// interface. Identical text always produces the identical unit vector, so
// similarity-dependent tests are reproducible without an embedding service.
package mock
