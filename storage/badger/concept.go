// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

import (
	"context"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/vocabdex/core"
	"github.com/poiesic/vocabdex/storage"
)

// ConceptRepository implements storage.ConceptRepository for BadgerDB.
type ConceptRepository struct {
	backend *Backend
}

var _ storage.ConceptRepository = (*ConceptRepository)(nil)

// NewConceptRepository creates a new ConceptRepository.
func NewConceptRepository(backend *Backend) (*ConceptRepository, error) {
	return &ConceptRepository{
		backend: backend,
	}, nil
}

// Close releases resources. ConceptRepository has no resources to release.
func (r *ConceptRepository) Close() error {
	return nil
}

// AddConcepts stores concepts and maintains the embeddable set and the
// trigram posting index. A concept that already exists is replaced and
// its stale index entries are removed.
func (r *ConceptRepository) AddConcepts(ctx context.Context, concepts ...*core.Concept) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, concept := range concepts {
			if err := core.ValidateConcept(concept); err != nil {
				return err
			}

			key := makeConceptKey(concept.ConceptID)
			old, err := readConcept(tx, key)
			if err != nil {
				return err
			}
			if old != nil {
				if err := deleteConceptIndexes(tx, old); err != nil {
					return err
				}
			}

			if err := tx.Set(key, storage.MarshalConcept(concept)); err != nil {
				return err
			}
			if err := writeConceptIndexes(tx, concept); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// DeleteConcepts removes concepts by id, cascading to the text indexes,
// any stored embedding and its vector index postings.
func (r *ConceptRepository) DeleteConcepts(ctx context.Context, ids ...uint64) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			key := makeConceptKey(id)
			concept, err := readConcept(tx, key)
			if err != nil {
				return err
			}
			if concept == nil {
				return storage.ErrNotFound
			}

			if err := deleteConceptIndexes(tx, concept); err != nil {
				return err
			}
			if err := deleteEmbeddingRecord(tx, id); err != nil {
				return err
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetConcept retrieves a single concept by id.
func (r *ConceptRepository) GetConcept(ctx context.Context, id uint64) (*core.Concept, error) {
	var result *core.Concept
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readConcept(tx, makeConceptKey(id))
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

// GetConcepts retrieves multiple concepts by id, in request order.
// Missing ids are skipped.
func (r *ConceptRepository) GetConcepts(ctx context.Context, ids ...uint64) ([]*core.Concept, error) {
	var result []*core.Concept
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			concept, err := readConcept(tx, makeConceptKey(id))
			if err != nil {
				return err
			}
			if concept != nil {
				result = append(result, concept)
			}
		}
		return nil
	}, false)
	return result, err
}

// FindBySubstring scans concept records in ascending id order and returns
// up to limit concepts whose name or code contains the query, compared
// case-insensitively.
func (r *ConceptRepository) FindBySubstring(ctx context.Context, query string, limit int, keep func(*core.Concept) bool) ([]*core.Concept, error) {
	needle := strings.ToLower(query)
	var results []*core.Concept

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(conceptRecordPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var concept *core.Concept
			err := iter.Item().Value(func(val []byte) error {
				var err error
				concept, err = storage.UnmarshalConcept(val)
				return err
			})
			if err != nil {
				return err
			}
			if concept == nil {
				continue
			}

			if !strings.Contains(strings.ToLower(concept.Name), needle) &&
				!strings.Contains(strings.ToLower(concept.Code), needle) {
				continue
			}
			if keep != nil && !keep(concept) {
				continue
			}

			results = append(results, concept)
			if limit > 0 && len(results) >= limit {
				return nil
			}
		}
		return nil
	}, false)

	return results, err
}

// FindByTrigrams returns the ids of concepts whose name shares at least
// one trigram with the given set, in ascending order.
func (r *ConceptRepository) FindByTrigrams(ctx context.Context, trigrams []string) ([]uint64, error) {
	seen := make(map[uint64]struct{})

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, trigram := range trigrams {
			if err := ctx.Err(); err != nil {
				return err
			}

			opts := badger.DefaultIteratorOptions
			opts.Prefix = makePartialTrigramKey(trigram)
			opts.PrefetchValues = false
			iter := tx.NewIterator(opts)

			for iter.Rewind(); iter.Valid(); iter.Next() {
				id, err := idFromKey(iter.Item().Key())
				if err != nil {
					iter.Close()
					return err
				}
				seen[id] = struct{}{}
			}
			iter.Close()
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// CountEmbeddable returns the size of the embeddable set.
func (r *ConceptRepository) CountEmbeddable(ctx context.Context) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(conceptStandardPrefix + ":")
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

// writeConceptIndexes adds the secondary index entries for a concept.
func writeConceptIndexes(tx *badger.Txn, concept *core.Concept) error {
	if concept.Embeddable() {
		if err := tx.Set(makeStandardKey(concept.ConceptID), nil); err != nil {
			return err
		}
	}
	for _, trigram := range core.Trigrams(concept.Name) {
		if err := tx.Set(makeTrigramKey(trigram, concept.ConceptID), nil); err != nil {
			return err
		}
	}
	return nil
}

// deleteConceptIndexes removes the secondary index entries for a concept.
func deleteConceptIndexes(tx *badger.Txn, concept *core.Concept) error {
	if err := tx.Delete(makeStandardKey(concept.ConceptID)); err != nil {
		return err
	}
	for _, trigram := range core.Trigrams(concept.Name) {
		if err := tx.Delete(makeTrigramKey(trigram, concept.ConceptID)); err != nil {
			return err
		}
	}
	return nil
}

// readConcept reads a concept from the transaction. Returns nil, nil if
// the key is absent.
func readConcept(tx *badger.Txn, key []byte) (*core.Concept, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var concept *core.Concept
	err = item.Value(func(val []byte) error {
		var err error
		concept, err = storage.UnmarshalConcept(val)
		return err
	})
	return concept, err
}
