package embedgen

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/poiesic/vocabdex/ai"
	"github.com/poiesic/vocabdex/core"
)

// BatchEmbedder generates embeddings for batches of concepts.
type BatchEmbedder struct {
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchEmbedder creates a new batch embedder.
// maxRetries: maximum number of retry attempts for embedding API calls
// retryBaseDelay: base delay for exponential backoff
func NewBatchEmbedder(embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchEmbedder {
	return &BatchEmbedder{
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Embed generates embeddings for a batch of concepts. Vectors are
// normalized before they are returned so cosine similarity reduces to a
// dot product at query time.
//
// When the whole batch fails after retries, each concept is retried
// individually so one poisoned input cannot sink its batch mates. The
// ids that still fail are returned alongside the successful embeddings.
func (b *BatchEmbedder) Embed(ctx context.Context, concepts []*core.Concept) ([]*core.ConceptEmbedding, []uint64, error) {
	if len(concepts) == 0 {
		return nil, nil, nil
	}

	texts := make([]string, len(concepts))
	for i, concept := range concepts {
		texts[i] = concept.Name
	}

	var vectors [][]float32
	err := RetryWithBackoff(ctx, func() error {
		var err error
		vectors, err = b.embedder.EmbedTexts(ctx, texts)
		return err
	}, b.maxRetries, b.retryBaseDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return b.embedOneByOne(ctx, concepts)
	}

	if len(vectors) != len(concepts) {
		return nil, nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(concepts), len(vectors))
	}

	return b.buildEmbeddings(concepts, vectors), nil, nil
}

// embedOneByOne isolates failures after a batch call gave up: every
// concept gets its own retried call, and only the ones that still fail
// are reported back.
func (b *BatchEmbedder) embedOneByOne(ctx context.Context, concepts []*core.Concept) ([]*core.ConceptEmbedding, []uint64, error) {
	var embeddings []*core.ConceptEmbedding
	var failedIDs []uint64
	model := b.embedder.ModelID()
	now := time.Now().UTC()

	for _, concept := range concepts {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		var vector []float32
		err := RetryWithBackoff(ctx, func() error {
			var err error
			vector, err = b.embedder.EmbedText(ctx, concept.Name)
			return err
		}, b.maxRetries, b.retryBaseDelay)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			failedIDs = append(failedIDs, concept.ConceptID)
			continue
		}

		NormalizeVector(vector)
		embeddings = append(embeddings, &core.ConceptEmbedding{
			ConceptID:    concept.ConceptID,
			Vector:       vector,
			ModelName:    model.Name,
			ModelVersion: model.Version,
			GeneratedAt:  now,
		})
	}
	return embeddings, failedIDs, nil
}

func (b *BatchEmbedder) buildEmbeddings(concepts []*core.Concept, vectors [][]float32) []*core.ConceptEmbedding {
	model := b.embedder.ModelID()
	now := time.Now().UTC()

	embeddings := make([]*core.ConceptEmbedding, len(concepts))
	for i, concept := range concepts {
		NormalizeVector(vectors[i])
		embeddings[i] = &core.ConceptEmbedding{
			ConceptID:    concept.ConceptID,
			Vector:       vectors[i],
			ModelName:    model.Name,
			ModelVersion: model.Version,
			GeneratedAt:  now,
		}
	}
	return embeddings
}

// NormalizeVector scales v to unit length in place. Zero vectors are
// left unchanged.
func NormalizeVector(v []float32) {
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
