package storage

import (
	"context"
	"time"

	"github.com/poiesic/vocabdex/core"
)

// ConceptRepository provides read-mostly access to the vocabulary corpus.
// Implementations must be thread-safe and support concurrent access.
//
// Concepts are written only by the vocabulary release loader; search and
// the embedding pipeline treat the corpus as read-only.
type ConceptRepository interface {
	// AddConcepts stores one or more concepts and maintains all secondary
	// indexes (substring, trigram, embeddable set). Existing concepts with
	// the same id are replaced.
	AddConcepts(ctx context.Context, concepts ...*core.Concept) error

	// DeleteConcepts removes concepts by id, cascading to their secondary
	// indexes, stored embeddings and vector index postings. This is the
	// only path that destroys an embedding.
	DeleteConcepts(ctx context.Context, ids ...uint64) error

	// GetConcept retrieves a single concept by id.
	// Returns ErrNotFound if the concept doesn't exist.
	GetConcept(ctx context.Context, id uint64) (*core.Concept, error)

	// GetConcepts retrieves multiple concepts by id, in request order.
	// Missing ids are skipped without error.
	GetConcepts(ctx context.Context, ids ...uint64) ([]*core.Concept, error)

	// FindBySubstring returns up to limit concepts whose name or code
	// contains the query as a case-insensitive substring and that satisfy
	// keep (nil keeps everything). Results are ordered by ascending
	// concept id for determinism.
	FindBySubstring(ctx context.Context, query string, limit int, keep func(*core.Concept) bool) ([]*core.Concept, error)

	// FindByTrigrams returns the ids of concepts whose name shares at
	// least one trigram with the given set, in ascending order.
	FindByTrigrams(ctx context.Context, trigrams []string) ([]uint64, error)

	// CountEmbeddable returns the number of standard concepts with a
	// non-empty name, the population eligible for embedding.
	CountEmbeddable(ctx context.Context) (int, error)

	// Close releases repository resources.
	Close() error
}

// EmbeddingRepository persists concept embeddings and serves approximate
// nearest-neighbor queries over them. Implementations must be thread-safe:
// reads may proceed concurrently with an in-progress generation run and
// must tolerate a partially populated embedding set.
type EmbeddingRepository interface {
	// UpsertBatch writes a batch of embeddings atomically: the batch is
	// either fully persisted or not persisted at all.
	UpsertBatch(ctx context.Context, embeddings []*core.ConceptEmbedding) error

	// GetEmbedding retrieves the embedding for a concept.
	// Returns ErrNotFound if no embedding is stored.
	GetEmbedding(ctx context.Context, conceptID uint64) (*core.ConceptEmbedding, error)

	// SearchSimilar returns up to k concepts ordered by descending cosine
	// similarity to the query vector, excluding scores below minScore.
	// probes bounds how many inverted-file lists are scanned; higher
	// probes trades latency for recall. Falls back to an exact scan while
	// the index is untrained.
	SearchSimilar(ctx context.Context, vector []float32, k, probes int, minScore float32) ([]core.SimilarityMatch, error)

	// Train builds the inverted-file index over the stored vectors using
	// the given number of lists. Rebuilding is safe at any time; queries
	// issued during a rebuild may observe the old or new partitioning.
	Train(ctx context.Context, lists int) error

	// PendingEmbeddable returns the standard concepts with non-empty names
	// that lack an embedding under the given model identity, in ascending
	// concept id order. If resume is false, all embeddable concepts are
	// returned regardless of stored state (full regeneration).
	PendingEmbeddable(ctx context.Context, modelName, modelVersion string, resume bool) ([]*core.Concept, error)

	// Coverage reports how many embeddable concepts have an embedding.
	Coverage(ctx context.Context) (embedded, total int, err error)

	// ModelInfo reports the distinct model identities present among stored
	// embeddings with their counts.
	ModelInfo(ctx context.Context) ([]core.ModelCount, error)

	// ForEachEmbedding iterates all stored embeddings in ascending concept
	// id order, stopping at the first error from fn.
	ForEachEmbedding(ctx context.Context, fn func(*core.ConceptEmbedding) error) error

	// Count returns the number of stored embeddings.
	Count(ctx context.Context) (int, error)

	// Close releases repository resources.
	Close() error
}

// RunRepository persists generation-run coordination state: the advisory
// run lock that serializes concurrent generator processes, and the log of
// the most recent run.
type RunRepository interface {
	// AcquireRunLock takes the advisory generation lock for holder.
	// Returns ErrRunLockHeld if another live holder owns it. A lock older
	// than ttl is considered stale and is taken over.
	AcquireRunLock(ctx context.Context, holder string, ttl time.Duration) error

	// ReleaseRunLock releases the lock if holder owns it. Releasing a lock
	// held by someone else is an error; releasing a free lock is not.
	ReleaseRunLock(ctx context.Context, holder string) error

	// SaveRun persists the summary of a completed generation run.
	SaveRun(ctx context.Context, run *core.GenerationRun) error

	// LastRun retrieves the most recently saved run summary.
	// Returns nil, nil if no run has been recorded.
	LastRun(ctx context.Context) (*core.GenerationRun, error)
}
