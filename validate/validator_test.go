package validate

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/poiesic/vocabdex/ai"
	"github.com/poiesic/vocabdex/ai/mock"
	"github.com/poiesic/vocabdex/core"
	"github.com/poiesic/vocabdex/storage"
	"github.com/poiesic/vocabdex/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 8

func testModel() ai.ModelID {
	return ai.ModelID{Name: "mock-embedder", Version: "v1", Dimensions: testDims}
}

func setupValidatorTest(t *testing.T) (storage.ConceptRepository, storage.EmbeddingRepository, *Validator) {
	t.Helper()

	conceptRepo, embeddingRepo, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() {
		embeddingRepo.Close()
		conceptRepo.Close()
		backend.Close()
	})

	validator, err := NewValidator(conceptRepo, embeddingRepo, testModel())
	require.NoError(t, err)
	return conceptRepo, embeddingRepo, validator
}

func standardConcept(id uint64, name string) *core.Concept {
	return &core.Concept{
		ConceptID:    id,
		Name:         name,
		Code:         "C" + name,
		DomainID:     "Condition",
		VocabularyID: "SNOMED",
		Standard:     core.StandardFlagStandard,
	}
}

func validEmbedding(id uint64, seed string) *core.ConceptEmbedding {
	return &core.ConceptEmbedding{
		ConceptID:    id,
		Vector:       mock.DeterministicVector(seed, testDims),
		ModelName:    "mock-embedder",
		ModelVersion: "v1",
	}
}

func TestValidatorCleanStore(t *testing.T) {
	conceptRepo, embeddingRepo, validator := setupValidatorTest(t)
	ctx := context.Background()

	require.NoError(t, conceptRepo.AddConcepts(ctx,
		standardConcept(1, "aspirin"),
		standardConcept(2, "warfarin"),
	))
	require.NoError(t, embeddingRepo.UpsertBatch(ctx, []*core.ConceptEmbedding{
		validEmbedding(1, "aspirin"),
		validEmbedding(2, "warfarin"),
	}))

	report, err := validator.Run(ctx)
	require.NoError(t, err)

	assert.True(t, report.Passed())
	assert.Len(t, report.Checks, 7)
	for _, check := range report.Checks {
		assert.True(t, check.Passed(), "check %s failed: %s", check.Name, check.Detail)
	}
}

func TestValidatorDetectsMissingCoverage(t *testing.T) {
	conceptRepo, embeddingRepo, validator := setupValidatorTest(t)
	ctx := context.Background()

	require.NoError(t, conceptRepo.AddConcepts(ctx,
		standardConcept(1, "aspirin"),
		standardConcept(2, "warfarin"),
	))
	require.NoError(t, embeddingRepo.UpsertBatch(ctx, []*core.ConceptEmbedding{
		validEmbedding(1, "aspirin"),
	}))

	report, err := validator.Run(ctx)
	require.NoError(t, err)

	assert.False(t, report.Passed())
	assert.Equal(t, 1, findCheck(t, report, "coverage").Violations)
}

func TestValidatorDetectsOrphans(t *testing.T) {
	conceptRepo, embeddingRepo, validator := setupValidatorTest(t)
	ctx := context.Background()

	// Embedding without any concept record.
	require.NoError(t, embeddingRepo.UpsertBatch(ctx, []*core.ConceptEmbedding{
		validEmbedding(99, "ghost"),
	}))

	// Embedding for a non-standard concept.
	nonStandard := standardConcept(5, "brand name")
	nonStandard.Standard = core.StandardFlagNone
	require.NoError(t, conceptRepo.AddConcepts(ctx, nonStandard))
	require.NoError(t, embeddingRepo.UpsertBatch(ctx, []*core.ConceptEmbedding{
		validEmbedding(5, "brand name"),
	}))

	report, err := validator.Run(ctx)
	require.NoError(t, err)

	orphans := findCheck(t, report, "orphans")
	assert.Equal(t, 2, orphans.Violations)
	assert.ElementsMatch(t, []uint64{5, 99}, orphans.Examples)
}

// repeatingEmbeddingRepo yields every stored embedding twice during a
// scan, standing in for a backend that can hold duplicate rows.
type repeatingEmbeddingRepo struct {
	storage.EmbeddingRepository
}

func (r *repeatingEmbeddingRepo) ForEachEmbedding(ctx context.Context, fn func(*core.ConceptEmbedding) error) error {
	return r.EmbeddingRepository.ForEachEmbedding(ctx, func(e *core.ConceptEmbedding) error {
		if err := fn(e); err != nil {
			return err
		}
		return fn(e)
	})
}

func TestValidatorDetectsDuplicates(t *testing.T) {
	conceptRepo, embeddingRepo, _ := setupValidatorTest(t)
	ctx := context.Background()

	require.NoError(t, conceptRepo.AddConcepts(ctx, standardConcept(1, "aspirin")))
	require.NoError(t, embeddingRepo.UpsertBatch(ctx, []*core.ConceptEmbedding{
		validEmbedding(1, "aspirin"),
	}))

	validator, err := NewValidator(conceptRepo, &repeatingEmbeddingRepo{embeddingRepo}, testModel())
	require.NoError(t, err)

	report, err := validator.Run(ctx)
	require.NoError(t, err)

	duplicates := findCheck(t, report, "duplicates")
	assert.Equal(t, 1, duplicates.Violations)
	assert.Equal(t, []uint64{1}, duplicates.Examples)
}

func TestValidatorDetectsBadVectors(t *testing.T) {
	conceptRepo, embeddingRepo, validator := setupValidatorTest(t)
	ctx := context.Background()

	require.NoError(t, conceptRepo.AddConcepts(ctx,
		standardConcept(1, "short"),
		standardConcept(2, "denormalized"),
		standardConcept(3, "nan"),
	))

	short := validEmbedding(1, "short")
	short.Vector = []float32{1, 0, 0, 0}

	denormalized := validEmbedding(2, "denormalized")
	for i := range denormalized.Vector {
		denormalized.Vector[i] *= 2
	}

	withNaN := validEmbedding(3, "nan")
	withNaN.Vector[0] = float32(math.NaN())

	require.NoError(t, embeddingRepo.UpsertBatch(ctx, []*core.ConceptEmbedding{short, denormalized, withNaN}))

	report, err := validator.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []uint64{1}, findCheck(t, report, "dimensions").Examples)
	assert.Equal(t, []uint64{2}, findCheck(t, report, "norms").Examples)
	assert.Equal(t, []uint64{3}, findCheck(t, report, "finite values").Examples)
}

func TestValidatorDetectsModelMismatch(t *testing.T) {
	conceptRepo, embeddingRepo, validator := setupValidatorTest(t)
	ctx := context.Background()

	require.NoError(t, conceptRepo.AddConcepts(ctx, standardConcept(1, "aspirin")))
	stale := validEmbedding(1, "aspirin")
	stale.ModelVersion = "v0"
	require.NoError(t, embeddingRepo.UpsertBatch(ctx, []*core.ConceptEmbedding{stale}))

	report, err := validator.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, findCheck(t, report, "model identity").Violations)

	var buf bytes.Buffer
	report.Write(&buf)
	assert.Contains(t, buf.String(), "model identity")
	assert.Contains(t, buf.String(), "FAIL")
}

func TestValidatorSemanticPairs(t *testing.T) {
	conceptRepo, embeddingRepo, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() {
		embeddingRepo.Close()
		conceptRepo.Close()
		backend.Close()
	})

	validator, err := NewValidator(conceptRepo, embeddingRepo, testModel(),
		WithPairs(Pair{A: 1, B: 2}, Pair{A: 3, B: 4}, Pair{A: 5, B: 6}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, conceptRepo.AddConcepts(ctx,
		standardConcept(1, "myocardial infarction"),
		standardConcept(2, "heart attack"),
		standardConcept(3, "aspirin"),
		standardConcept(4, "femur fracture"),
	))

	axis := func(i int) []float32 {
		v := make([]float32, testDims)
		v[i] = 1
		return v
	}
	near1 := validEmbedding(1, "")
	near1.Vector = axis(0)
	near2 := validEmbedding(2, "")
	near2.Vector = axis(0)
	far3 := validEmbedding(3, "")
	far3.Vector = axis(1)
	far4 := validEmbedding(4, "")
	far4.Vector = axis(2)
	require.NoError(t, embeddingRepo.UpsertBatch(ctx,
		[]*core.ConceptEmbedding{near1, near2, far3, far4}))

	report, err := validator.Run(ctx)
	require.NoError(t, err)

	pairs := findCheck(t, report, "semantic pairs")
	// Pair 3/4 is orthogonal, pair 5/6 has no embeddings.
	assert.Equal(t, 2, pairs.Violations)
	assert.ElementsMatch(t, []uint64{3, 5}, pairs.Examples)
}

func findCheck(t *testing.T, report *Report, name string) *CheckResult {
	t.Helper()
	for i := range report.Checks {
		if report.Checks[i].Name == name {
			return &report.Checks[i]
		}
	}
	t.Fatalf("check %q not found", name)
	return nil
}
