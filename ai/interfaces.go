package ai

import (
	"context"
	"encoding/hex"

	"github.com/go-crypt/x/blake2b"
)

// ModelID identifies an embedding space. Vectors produced by different
// model identities are not comparable: cosine similarity across embedding
// spaces is meaningless, so query-time and stored identities must match.
type ModelID struct {
	// Name is the embedding model name, e.g. "all-MiniLM-L6-v2".
	Name string

	// Version is the deployment version tag for the model, e.g. "v1".
	// Bumped when the same model name is redeployed with different weights.
	Version string

	// Dimensions is the fixed vector length the model produces.
	Dimensions int
}

// Fingerprint returns a short stable digest of the model identity,
// suitable for logging and for cheap embedding-space comparison.
func (m ModelID) Fingerprint() string {
	h, _ := blake2b.New(8, nil)
	h.Write([]byte(m.Name))
	h.Write([]byte{0})
	h.Write([]byte(m.Version))
	h.Write([]byte{0, byte(m.Dimensions), byte(m.Dimensions >> 8)})
	return hex.EncodeToString(h.Sum(nil))
}

// Embedder generates vector embeddings from text for semantic similarity
// search. Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in
	// a batch. The returned slice contains embeddings in input order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// ModelID returns the identity of the embedding space this embedder
	// produces vectors in.
	ModelID() ModelID
}
