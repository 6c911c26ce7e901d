package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/vocabdex/core"
	"github.com/poiesic/vocabdex/storage"
)

const (
	// maxTrainingSample bounds the number of vectors fed to k-means so
	// training stays cheap on a multi-million row corpus.
	maxTrainingSample = 10000
	kMeansIterations  = 15
	trainingSeed      = 1
)

// ivfIndex is an inverted-file index over the stored embeddings. Vectors
// are partitioned into lists around trained centroids; a query scans only
// the lists whose centroids are closest to it. Centroids are cached in
// memory and reloaded after a rebuild.
type ivfIndex struct {
	backend *Backend

	mu        sync.RWMutex
	centroids [][]float32
	loaded    bool
}

func newIVFIndex(backend *Backend) *ivfIndex {
	return &ivfIndex{backend: backend}
}

// loadCentroids returns the trained centroids, or nil when the index is
// untrained.
func (x *ivfIndex) loadCentroids() ([][]float32, error) {
	x.mu.RLock()
	if x.loaded {
		defer x.mu.RUnlock()
		return x.centroids, nil
	}
	x.mu.RUnlock()

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.loaded {
		return x.centroids, nil
	}

	var centroids [][]float32
	err := x.backend.WithTx(func(tx *badger.Txn) error {
		if _, err := tx.Get([]byte(ivfMetaKeyName)); err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(ivfCentroidPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				centroid, err := decodeVector(val)
				if err != nil {
					return err
				}
				centroids = append(centroids, centroid)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	x.centroids = centroids
	x.loaded = true
	return centroids, nil
}

// search returns all stored vectors scoring at least minScore against the
// query, scanning up to probes lists. Untrained indexes fall back to an
// exact scan of every stored vector.
func (x *ivfIndex) search(ctx context.Context, vector []float32, probes int, minScore float32) ([]core.SimilarityMatch, error) {
	centroids, err := x.loadCentroids()
	if err != nil {
		return nil, err
	}
	if len(centroids) == 0 {
		return x.exactScan(ctx, vector, minScore)
	}

	if probes < 1 {
		probes = 1
	}
	if probes > len(centroids) {
		probes = len(centroids)
	}

	ranked := make([]int, len(centroids))
	for i := range ranked {
		ranked[i] = i
	}
	sort.Slice(ranked, func(i, j int) bool {
		return dotProduct(centroids[ranked[i]], vector) > dotProduct(centroids[ranked[j]], vector)
	})

	var matches []core.SimilarityMatch
	err = x.backend.WithTx(func(tx *badger.Txn) error {
		for _, list := range ranked[:probes] {
			if err := ctx.Err(); err != nil {
				return err
			}

			opts := badger.DefaultIteratorOptions
			opts.Prefix = makePartialIVFPostingKey(uint32(list))
			opts.PrefetchValues = false
			iter := tx.NewIterator(opts)

			for iter.Rewind(); iter.Valid(); iter.Next() {
				id, err := idFromKey(iter.Item().Key())
				if err != nil {
					iter.Close()
					return err
				}
				embedding, err := readEmbedding(tx, id)
				if err != nil {
					iter.Close()
					return err
				}
				if embedding == nil {
					continue
				}
				score := dotProduct(vector, embedding.Vector)
				if score >= minScore {
					matches = append(matches, core.SimilarityMatch{ConceptID: id, Score: score})
				}
			}
			iter.Close()
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// exactScan computes the similarity of every stored vector.
func (x *ivfIndex) exactScan(ctx context.Context, vector []float32, minScore float32) ([]core.SimilarityMatch, error) {
	var matches []core.SimilarityMatch
	err := x.backend.WithTx(func(tx *badger.Txn) error {
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
			score := dotProduct(vector, embedding.Vector)
			if score >= minScore {
				matches = append(matches, core.SimilarityMatch{ConceptID: embedding.ConceptID, Score: score})
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// train rebuilds the index: it samples stored vectors, runs k-means to
// place the centroids, and reassigns every stored vector to its nearest
// list. Queries during a rebuild may observe the old or new partitioning.
func (x *ivfIndex) train(ctx context.Context, lists int) error {
	if lists < 1 {
		return fmt.Errorf("%w: list count must be positive, got %d", storage.ErrInvalidQuery, lists)
	}

	sample, err := x.sampleVectors(ctx, maxTrainingSample)
	if err != nil {
		return err
	}
	if len(sample) == 0 {
		return fmt.Errorf("%w: no stored vectors to train on", storage.ErrNotFound)
	}
	if lists > len(sample) {
		lists = len(sample)
	}

	centroids := kMeans(sample, lists, kMeansIterations)

	if err := x.backend.db.DropPrefix(
		[]byte(ivfCentroidPrefix+":"),
		[]byte(ivfPostingPrefix+":"),
		[]byte(ivfAssignPrefix+":"),
	); err != nil {
		return err
	}

	err = x.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set([]byte(ivfMetaKeyName), encodeListNumber(uint32(len(centroids)))); err != nil {
			return err
		}
		for i, centroid := range centroids {
			if err := tx.Set(makeCentroidKey(uint32(i)), encodeVector(centroid)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return err
	}

	if err := x.assignAll(ctx, centroids); err != nil {
		return err
	}

	x.mu.Lock()
	x.centroids = centroids
	x.loaded = true
	x.mu.Unlock()
	return nil
}

// sampleVectors reservoir-samples up to limit stored vectors.
func (x *ivfIndex) sampleVectors(ctx context.Context, limit int) ([][]float32, error) {
	rng := rand.New(rand.NewSource(trainingSeed))
	var sample [][]float32
	seen := 0

	err := x.backend.WithTx(func(tx *badger.Txn) error {
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
			if embedding == nil || len(embedding.Vector) == 0 {
				continue
			}

			seen++
			if len(sample) < limit {
				sample = append(sample, embedding.Vector)
			} else if j := rng.Intn(seen); j < limit {
				sample[j] = embedding.Vector
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return sample, nil
}

// assignAll writes a posting and an assignment for every stored vector,
// committing in chunks to stay under the transaction size limit.
func (x *ivfIndex) assignAll(ctx context.Context, centroids [][]float32) error {
	wb := x.backend.db.NewWriteBatch()
	defer wb.Cancel()

	err := x.backend.WithTx(func(tx *badger.Txn) error {
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

			list := nearestCentroid(centroids, embedding.Vector)
			if err := wb.Set(makeIVFPostingKey(list, embedding.ConceptID), nil); err != nil {
				return err
			}
			if err := wb.Set(makeIVFAssignKey(embedding.ConceptID), encodeListNumber(list)); err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return err
	}
	return wb.Flush()
}

// kMeans clusters the sample into k centroids using the dot product as
// the affinity measure. Inputs are unit vectors; centroids are
// renormalized after every update.
func kMeans(sample [][]float32, k, iterations int) [][]float32 {
	rng := rand.New(rand.NewSource(trainingSeed))
	dims := len(sample[0])

	centroids := make([][]float32, k)
	for i, j := range rng.Perm(len(sample))[:k] {
		centroids[i] = append([]float32(nil), sample[j]...)
	}

	assignments := make([]uint32, len(sample))
	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, v := range sample {
			best := nearestCentroid(centroids, v)
			if best != assignments[i] {
				assignments[i] = best
				changed = true
			}
		}
		if iter > 0 && !changed {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dims)
		}
		for i, v := range sample {
			list := assignments[i]
			counts[list]++
			for d, val := range v {
				sums[list][d] += float64(val)
			}
		}
		for i := range centroids {
			if counts[i] == 0 {
				continue
			}
			mean := make([]float32, dims)
			for d := range mean {
				mean[d] = float32(sums[i][d] / float64(counts[i]))
			}
			normalize(mean)
			centroids[i] = mean
		}
	}
	return centroids
}

// nearestCentroid returns the index of the centroid with the highest dot
// product against v.
func nearestCentroid(centroids [][]float32, v []float32) uint32 {
	best := 0
	bestScore := float32(math.Inf(-1))
	for i, c := range centroids {
		if score := dotProduct(c, v); score > bestScore {
			best = i
			bestScore = score
		}
	}
	return uint32(best)
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// normalize scales v to unit length in place. Zero vectors are left
// unchanged.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 0, 4*len(v))
	for _, x := range v {
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(x))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: vector data not a multiple of 4 bytes", storage.ErrSerializationFailed)
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.BigEndian.Uint32(data[4*i:]))
	}
	return v, nil
}

func encodeListNumber(list uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, list)
}

func decodeListNumber(data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("%w: bad list number encoding", storage.ErrSerializationFailed)
	}
	return binary.BigEndian.Uint32(data), nil
}
