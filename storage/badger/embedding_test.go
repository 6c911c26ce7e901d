package badger

import (
	"context"
	"math"
	"testing"

	"github.com/poiesic/vocabdex/core"
	"github.com/poiesic/vocabdex/storage"
)

func unitVector(dims, hot int) []float32 {
	v := make([]float32, dims)
	v[hot%dims] = 1
	return v
}

// angledVector returns a unit vector in the plane of axes a and b.
func angledVector(dims, a, b int, theta float64) []float32 {
	v := make([]float32, dims)
	v[a] = float32(math.Cos(theta))
	v[b] = float32(math.Sin(theta))
	return v
}

func testEmbedding(id uint64, vector []float32) *core.ConceptEmbedding {
	return &core.ConceptEmbedding{
		ConceptID:    id,
		Vector:       vector,
		ModelName:    "all-MiniLM-L6-v2",
		ModelVersion: "v1",
	}
}

func TestEmbeddingBasics(t *testing.T) {
	conceptRepo, embeddingRepo, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	defer func() { embeddingRepo.Close(); conceptRepo.Close(); backend.Close() }()

	ctx := context.Background()

	if err := embeddingRepo.UpsertBatch(ctx, []*core.ConceptEmbedding{
		testEmbedding(1, unitVector(4, 0)),
		testEmbedding(2, unitVector(4, 1)),
	}); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}

	got, err := embeddingRepo.GetEmbedding(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to get embedding: %v", err)
	}
	if got.ConceptID != 1 || got.ModelName != "all-MiniLM-L6-v2" {
		t.Fatalf("Unexpected embedding: %+v", got)
	}

	if _, err := embeddingRepo.GetEmbedding(ctx, 99); err != storage.ErrNotFound {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	count, err := embeddingRepo.Count(ctx)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 2 {
		t.Fatalf("Expected 2 embeddings, got %d", count)
	}
}

func TestSearchSimilarExactScan(t *testing.T) {
	conceptRepo, embeddingRepo, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	defer func() { embeddingRepo.Close(); conceptRepo.Close(); backend.Close() }()

	ctx := context.Background()

	if err := embeddingRepo.UpsertBatch(ctx, []*core.ConceptEmbedding{
		testEmbedding(1, angledVector(4, 0, 1, 0)),    // identical to query
		testEmbedding(2, angledVector(4, 0, 1, 0.3)),  // close
		testEmbedding(3, angledVector(4, 0, 1, 1.4)),  // far
		testEmbedding(4, angledVector(4, 2, 3, 0.7)),  // orthogonal plane
	}); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}

	matches, err := embeddingRepo.SearchSimilar(ctx, angledVector(4, 0, 1, 0), 10, 1, 0.5)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}

	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches above threshold, got %d: %v", len(matches), matches)
	}
	if matches[0].ConceptID != 1 || matches[1].ConceptID != 2 {
		t.Fatalf("Expected descending similarity order [1 2], got %v", matches)
	}
	if matches[0].Score < matches[1].Score {
		t.Fatalf("Scores out of order: %v", matches)
	}

	// k truncates after ordering.
	matches, err = embeddingRepo.SearchSimilar(ctx, angledVector(4, 0, 1, 0), 1, 1, 0.5)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(matches) != 1 || matches[0].ConceptID != 1 {
		t.Fatalf("Expected best match only, got %v", matches)
	}
}

func TestTrainAndSearch(t *testing.T) {
	conceptRepo, embeddingRepo, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	defer func() { embeddingRepo.Close(); conceptRepo.Close(); backend.Close() }()

	ctx := context.Background()

	// Two well-separated clusters.
	var batch []*core.ConceptEmbedding
	for i := uint64(0); i < 20; i++ {
		batch = append(batch, testEmbedding(i+1, angledVector(4, 0, 1, float64(i)*0.01)))
		batch = append(batch, testEmbedding(i+101, angledVector(4, 2, 3, float64(i)*0.01)))
	}
	if err := embeddingRepo.UpsertBatch(ctx, batch); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}

	if err := embeddingRepo.Train(ctx, 2); err != nil {
		t.Fatalf("Failed to train: %v", err)
	}

	matches, err := embeddingRepo.SearchSimilar(ctx, angledVector(4, 0, 1, 0.05), 5, 1, 0.9)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("Expected matches from the probed cluster")
	}
	for _, m := range matches {
		if m.ConceptID > 100 {
			t.Fatalf("Probing the first cluster returned member of the second: %v", m)
		}
	}

	// Probing every list behaves like an exact search.
	matches, err = embeddingRepo.SearchSimilar(ctx, angledVector(4, 2, 3, 0.05), 5, 2, 0.9)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("Expected matches with all lists probed")
	}
	if matches[0].ConceptID <= 100 {
		t.Fatalf("Expected second-cluster best match, got %v", matches[0])
	}
}

func TestTrainRequiresVectors(t *testing.T) {
	conceptRepo, embeddingRepo, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	defer func() { embeddingRepo.Close(); conceptRepo.Close(); backend.Close() }()

	if err := embeddingRepo.Train(context.Background(), 4); err == nil {
		t.Fatal("Expected error training an empty index")
	}
}

func TestUpsertAfterTrainMaintainsIndex(t *testing.T) {
	conceptRepo, embeddingRepo, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	defer func() { embeddingRepo.Close(); conceptRepo.Close(); backend.Close() }()

	ctx := context.Background()

	var batch []*core.ConceptEmbedding
	for i := uint64(0); i < 10; i++ {
		batch = append(batch, testEmbedding(i+1, angledVector(4, 0, 1, float64(i)*0.02)))
		batch = append(batch, testEmbedding(i+101, angledVector(4, 2, 3, float64(i)*0.02)))
	}
	if err := embeddingRepo.UpsertBatch(ctx, batch); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}
	if err := embeddingRepo.Train(ctx, 2); err != nil {
		t.Fatalf("Failed to train: %v", err)
	}

	// A vector stored after training must be findable.
	if err := embeddingRepo.UpsertBatch(ctx, []*core.ConceptEmbedding{
		testEmbedding(500, angledVector(4, 0, 1, 0.01)),
	}); err != nil {
		t.Fatalf("Failed to upsert after training: %v", err)
	}

	matches, err := embeddingRepo.SearchSimilar(ctx, angledVector(4, 0, 1, 0.01), 1, 2, 0.99)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(matches) == 0 || matches[0].ConceptID != 500 {
		t.Fatalf("Expected late insert as best match, got %v", matches)
	}
}

func TestPendingEmbeddable(t *testing.T) {
	conceptRepo, embeddingRepo, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	defer func() { embeddingRepo.Close(); conceptRepo.Close(); backend.Close() }()

	ctx := context.Background()

	if err := conceptRepo.AddConcepts(ctx,
		testConcept(1, "aspirin", core.StandardFlagStandard),
		testConcept(2, "warfarin", core.StandardFlagStandard),
		testConcept(3, "brand", core.StandardFlagNone),
	); err != nil {
		t.Fatalf("Failed to add concepts: %v", err)
	}
	if err := embeddingRepo.UpsertBatch(ctx, []*core.ConceptEmbedding{
		testEmbedding(1, unitVector(4, 0)),
	}); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}

	// Resume skips concepts already covered by the same model.
	pending, err := embeddingRepo.PendingEmbeddable(ctx, "all-MiniLM-L6-v2", "v1", true)
	if err != nil {
		t.Fatalf("Failed to list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ConceptID != 2 {
		t.Fatalf("Expected only concept 2 pending, got %v", pending)
	}

	// A different model identity makes everything pending again.
	pending, err = embeddingRepo.PendingEmbeddable(ctx, "all-MiniLM-L6-v2", "v2", true)
	if err != nil {
		t.Fatalf("Failed to list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending under new model version, got %d", len(pending))
	}

	// Without resume the whole embeddable set is returned.
	pending, err = embeddingRepo.PendingEmbeddable(ctx, "all-MiniLM-L6-v2", "v1", false)
	if err != nil {
		t.Fatalf("Failed to list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected full regeneration set of 2, got %d", len(pending))
	}
	if pending[0].ConceptID != 1 || pending[1].ConceptID != 2 {
		t.Fatalf("Expected ascending id order, got %v", pending)
	}
}

func TestCoverageAndModelInfo(t *testing.T) {
	conceptRepo, embeddingRepo, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	defer func() { embeddingRepo.Close(); conceptRepo.Close(); backend.Close() }()

	ctx := context.Background()

	if err := conceptRepo.AddConcepts(ctx,
		testConcept(1, "aspirin", core.StandardFlagStandard),
		testConcept(2, "warfarin", core.StandardFlagStandard),
		testConcept(3, "heparin", core.StandardFlagStandard),
	); err != nil {
		t.Fatalf("Failed to add concepts: %v", err)
	}
	if err := embeddingRepo.UpsertBatch(ctx, []*core.ConceptEmbedding{
		testEmbedding(1, unitVector(4, 0)),
		{ConceptID: 2, Vector: unitVector(4, 1), ModelName: "other-model", ModelVersion: "v3"},
	}); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}

	embedded, total, err := embeddingRepo.Coverage(ctx)
	if err != nil {
		t.Fatalf("Failed to report coverage: %v", err)
	}
	if embedded != 2 || total != 3 {
		t.Fatalf("Expected 2/3 coverage, got %d/%d", embedded, total)
	}

	models, err := embeddingRepo.ModelInfo(ctx)
	if err != nil {
		t.Fatalf("Failed to report models: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("Expected 2 model identities, got %v", models)
	}
	if models[0].Name != "all-MiniLM-L6-v2" || models[0].Count != 1 {
		t.Fatalf("Unexpected first model entry: %+v", models[0])
	}
	if models[1].Name != "other-model" || models[1].Version != "v3" {
		t.Fatalf("Unexpected second model entry: %+v", models[1])
	}
}
