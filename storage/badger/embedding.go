package badger

import (
	"context"
	"slices"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/vocabdex/core"
	"github.com/poiesic/vocabdex/storage"
)

// EmbeddingRepository implements storage.EmbeddingRepository for
// BadgerDB. Nearest-neighbor queries go through an inverted-file index
// maintained in ivf.go; until the index is trained they fall back to an
// exact scan of all stored vectors.
type EmbeddingRepository struct {
	backend *Backend
	index   *ivfIndex
}

var _ storage.EmbeddingRepository = (*EmbeddingRepository)(nil)

// NewEmbeddingRepository creates a new EmbeddingRepository.
func NewEmbeddingRepository(backend *Backend) (*EmbeddingRepository, error) {
	return &EmbeddingRepository{
		backend: backend,
		index:   newIVFIndex(backend),
	}, nil
}

// Close releases resources. EmbeddingRepository has no resources to release.
func (r *EmbeddingRepository) Close() error {
	return nil
}

// UpsertBatch writes a batch of embeddings in a single transaction, so
// the batch is either fully persisted or not at all. Stored vectors are
// added to the inverted-file index when one is trained.
func (r *EmbeddingRepository) UpsertBatch(ctx context.Context, embeddings []*core.ConceptEmbedding) error {
	centroids, err := r.index.loadCentroids()
	if err != nil {
		return err
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, embedding := range embeddings {
			if err := core.ValidateEmbedding(embedding); err != nil {
				return err
			}

			key := makeEmbeddingKey(embedding.ConceptID)
			if err := tx.Set(key, storage.MarshalEmbedding(embedding)); err != nil {
				return err
			}

			if len(centroids) > 0 {
				list := nearestCentroid(centroids, embedding.Vector)
				if err := reassignPosting(tx, embedding.ConceptID, list); err != nil {
					return err
				}
			}
		}
		return tx.Commit()
	}, true)
}

// GetEmbedding retrieves the stored embedding for a concept.
func (r *EmbeddingRepository) GetEmbedding(ctx context.Context, conceptID uint64) (*core.ConceptEmbedding, error) {
	var result *core.ConceptEmbedding
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readEmbedding(tx, conceptID)
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// SearchSimilar returns up to k concepts by descending cosine similarity
// to the query vector. Stored vectors are unit length, so similarity is
// the dot product.
func (r *EmbeddingRepository) SearchSimilar(ctx context.Context, vector []float32, k, probes int, minScore float32) ([]core.SimilarityMatch, error) {
	matches, err := r.index.search(ctx, vector, probes, minScore)
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ConceptID < matches[j].ConceptID
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Train rebuilds the inverted-file index over all stored vectors.
func (r *EmbeddingRepository) Train(ctx context.Context, lists int) error {
	return r.index.train(ctx, lists)
}

// PendingEmbeddable returns the embeddable concepts that still need an
// embedding under the given model identity, in ascending id order. With
// resume disabled every embeddable concept is returned, which forces a
// full regeneration.
func (r *EmbeddingRepository) PendingEmbeddable(ctx context.Context, modelName, modelVersion string, resume bool) ([]*core.Concept, error) {
	var pending []*core.Concept

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(conceptStandardPrefix + ":")
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			id, err := idFromKey(iter.Item().Key())
			if err != nil {
				return err
			}

			if resume {
				embedding, err := readEmbedding(tx, id)
				if err != nil {
					return err
				}
				if embedding != nil &&
					embedding.ModelName == modelName &&
					embedding.ModelVersion == modelVersion {
					continue
				}
			}

			concept, err := readConcept(tx, makeConceptKey(id))
			if err != nil {
				return err
			}
			if concept != nil {
				pending = append(pending, concept)
			}
		}
		return nil
	}, false)

	return pending, err
}

// Coverage reports how many embeddable concepts have a stored embedding.
func (r *EmbeddingRepository) Coverage(ctx context.Context) (embedded, total int, err error) {
	err = r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(conceptStandardPrefix + ":")
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			id, err := idFromKey(iter.Item().Key())
			if err != nil {
				return err
			}
			total++

			if _, err := tx.Get(makeEmbeddingKey(id)); err == nil {
				embedded++
			} else if err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	}, false)
	return embedded, total, err
}

// ModelInfo reports the distinct model identities among stored
// embeddings, ordered by name then version.
func (r *EmbeddingRepository) ModelInfo(ctx context.Context) ([]core.ModelCount, error) {
	type modelKey struct {
		name    string
		version string
	}
	counts := make(map[modelKey]int)

	err := r.ForEachEmbedding(ctx, func(e *core.ConceptEmbedding) error {
		counts[modelKey{e.ModelName, e.ModelVersion}]++
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]core.ModelCount, 0, len(counts))
	for key, count := range counts {
		result = append(result, core.ModelCount{
			Name:    key.name,
			Version: key.version,
			Count:   count,
		})
	}
	slices.SortFunc(result, func(a, b core.ModelCount) int {
		if a.Name != b.Name {
			if a.Name < b.Name {
				return -1
			}
			return 1
		}
		if a.Version < b.Version {
			return -1
		}
		if a.Version > b.Version {
			return 1
		}
		return 0
	})
	return result, nil
}

// ForEachEmbedding iterates all stored embeddings in ascending concept
// id order.
func (r *EmbeddingRepository) ForEachEmbedding(ctx context.Context, fn func(*core.ConceptEmbedding) error) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(embeddingRecordPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var embedding *core.ConceptEmbedding
			err := iter.Item().Value(func(val []byte) error {
				var err error
				embedding, err = storage.UnmarshalEmbedding(val)
				return err
			})
			if err != nil {
				return err
			}
			if embedding == nil {
				continue
			}
			if err := fn(embedding); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

// Count returns the number of stored embeddings.
func (r *EmbeddingRepository) Count(ctx context.Context) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(embeddingRecordPrefix + ":")
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// readEmbedding reads a stored embedding from the transaction.
// Returns nil, nil if the key is absent.
func readEmbedding(tx *badger.Txn, conceptID uint64) (*core.ConceptEmbedding, error) {
	item, err := tx.Get(makeEmbeddingKey(conceptID))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var embedding *core.ConceptEmbedding
	err = item.Value(func(val []byte) error {
		var err error
		embedding, err = storage.UnmarshalEmbedding(val)
		return err
	})
	return embedding, err
}

// deleteEmbeddingRecord removes a stored embedding together with its
// inverted-file posting and assignment. Absent records are ignored.
func deleteEmbeddingRecord(tx *badger.Txn, conceptID uint64) error {
	assignKey := makeIVFAssignKey(conceptID)
	item, err := tx.Get(assignKey)
	if err == nil {
		var list uint32
		if err := item.Value(func(val []byte) error {
			var verr error
			list, verr = decodeListNumber(val)
			return verr
		}); err != nil {
			return err
		}
		if err := tx.Delete(makeIVFPostingKey(list, conceptID)); err != nil {
			return err
		}
		if err := tx.Delete(assignKey); err != nil {
			return err
		}
	} else if err != badger.ErrKeyNotFound {
		return err
	}

	return tx.Delete(makeEmbeddingKey(conceptID))
}

// reassignPosting moves a concept's inverted-file posting to list,
// removing any posting under a previous assignment.
func reassignPosting(tx *badger.Txn, conceptID uint64, list uint32) error {
	assignKey := makeIVFAssignKey(conceptID)
	item, err := tx.Get(assignKey)
	if err == nil {
		var old uint32
		if err := item.Value(func(val []byte) error {
			var verr error
			old, verr = decodeListNumber(val)
			return verr
		}); err != nil {
			return err
		}
		if old == list {
			return nil
		}
		if err := tx.Delete(makeIVFPostingKey(old, conceptID)); err != nil {
			return err
		}
	} else if err != badger.ErrKeyNotFound {
		return err
	}

	if err := tx.Set(makeIVFPostingKey(list, conceptID), nil); err != nil {
		return err
	}
	return tx.Set(assignKey, encodeListNumber(list))
}
