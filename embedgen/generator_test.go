package embedgen

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/vocabdex/ai/mock"
	"github.com/poiesic/vocabdex/core"
	"github.com/poiesic/vocabdex/storage"
	"github.com/poiesic/vocabdex/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		BatchSize:      3,
		ReportInterval: 3,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
		LockTTL:        time.Minute,
		Holder:         "test-worker",
	}
}

func setupGeneratorTest(t *testing.T) (storage.ConceptRepository, storage.EmbeddingRepository, storage.RunRepository) {
	t.Helper()

	conceptRepo, embeddingRepo, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	runRepo, err := badger.NewRunRepository(backend)
	require.NoError(t, err)
	t.Cleanup(func() {
		embeddingRepo.Close()
		conceptRepo.Close()
		backend.Close()
	})

	return conceptRepo, embeddingRepo, runRepo
}

func seedStandardConcepts(t *testing.T, repo storage.ConceptRepository, count int) {
	t.Helper()
	names := []string{"aspirin", "warfarin", "heparin", "insulin", "metformin",
		"lisinopril", "atorvastatin", "amlodipine", "omeprazole", "sertraline"}
	for i := 0; i < count; i++ {
		c := &core.Concept{
			ConceptID:    uint64(i + 1),
			Name:         names[i%len(names)],
			Code:         "C" + names[i%len(names)],
			DomainID:     "Drug",
			VocabularyID: "RxNorm",
			Standard:     core.StandardFlagStandard,
		}
		require.NoError(t, repo.AddConcepts(context.Background(), c))
	}
}

func TestGeneratorRun(t *testing.T) {
	conceptRepo, embeddingRepo, runRepo := setupGeneratorTest(t)
	seedStandardConcepts(t, conceptRepo, 10)

	ctx := context.Background()
	var buf bytes.Buffer
	embedder := mock.NewMockEmbedder()

	generator, err := NewGenerator(embeddingRepo, runRepo, embedder, testConfig(), &buf)
	require.NoError(t, err)

	summary, err := generator.Run(ctx, Options{Resume: true})
	require.NoError(t, err)

	assert.Equal(t, 10, summary.Total)
	assert.Equal(t, 10, summary.Processed)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 4, summary.Batches)

	count, err := embeddingRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	// Stored vectors carry the embedder's model identity and unit length.
	stored, err := embeddingRepo.GetEmbedding(ctx, 1)
	require.NoError(t, err)
	model := embedder.ModelID()
	assert.Equal(t, model.Name, stored.ModelName)
	assert.Equal(t, model.Version, stored.ModelVersion)

	var norm float64
	for _, x := range stored.Vector {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-4)

	// The run is recorded for the progress reporter.
	run, err := runRepo.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "test-worker", run.Holder)
	assert.Equal(t, 10, run.Processed)
}

func TestGeneratorRunIsIdempotent(t *testing.T) {
	conceptRepo, embeddingRepo, runRepo := setupGeneratorTest(t)
	seedStandardConcepts(t, conceptRepo, 5)

	ctx := context.Background()
	embedder := mock.NewMockEmbedder()
	generator, err := NewGenerator(embeddingRepo, runRepo, embedder, testConfig(), nil)
	require.NoError(t, err)

	first, err := generator.Run(ctx, Options{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 5, first.Processed)

	// A second resumed run finds nothing pending and calls nothing.
	embedder.Reset()
	second, err := generator.Run(ctx, Options{Resume: true})
	require.NoError(t, err)
	assert.Zero(t, second.Total)
	assert.Zero(t, second.Processed)
	assert.Zero(t, embedder.CallCount())
}

func TestGeneratorResumeSkipsCovered(t *testing.T) {
	conceptRepo, embeddingRepo, runRepo := setupGeneratorTest(t)
	seedStandardConcepts(t, conceptRepo, 6)

	ctx := context.Background()
	embedder := mock.NewMockEmbedder()
	model := embedder.ModelID()

	// Half the corpus is already embedded, as if a prior run crashed
	// mid-way.
	var preexisting []*core.ConceptEmbedding
	for id := uint64(1); id <= 3; id++ {
		preexisting = append(preexisting, &core.ConceptEmbedding{
			ConceptID:    id,
			Vector:       mock.DeterministicVector("prior", model.Dimensions),
			ModelName:    model.Name,
			ModelVersion: model.Version,
		})
	}
	require.NoError(t, embeddingRepo.UpsertBatch(ctx, preexisting))

	generator, err := NewGenerator(embeddingRepo, runRepo, embedder, testConfig(), nil)
	require.NoError(t, err)

	summary, err := generator.Run(ctx, Options{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Processed)

	// Without resume, everything is regenerated.
	summary, err = generator.Run(ctx, Options{Resume: false})
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Total)
	assert.Equal(t, 6, summary.Processed)
}

func TestGeneratorDryRun(t *testing.T) {
	conceptRepo, embeddingRepo, runRepo := setupGeneratorTest(t)
	seedStandardConcepts(t, conceptRepo, 4)

	ctx := context.Background()
	var buf bytes.Buffer
	embedder := mock.NewMockEmbedder()
	generator, err := NewGenerator(embeddingRepo, runRepo, embedder, testConfig(), &buf)
	require.NoError(t, err)

	summary, err := generator.Run(ctx, Options{Resume: true, DryRun: true})
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 2, summary.Batches)
	assert.Zero(t, summary.Processed)
	assert.Zero(t, embedder.CallCount())
	assert.Contains(t, buf.String(), "2 batches")
	assert.Contains(t, buf.String(), "Estimated time")

	count, err := embeddingRepo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGeneratorRecordsPartialFailures(t *testing.T) {
	conceptRepo, embeddingRepo, runRepo := setupGeneratorTest(t)
	seedStandardConcepts(t, conceptRepo, 4)

	ctx := context.Background()
	embedder := mock.NewMockEmbedder()

	// Batch calls always fail; individual calls fail only for warfarin.
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("batch endpoint down")
	}
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		if strings.Contains(text, "warfarin") {
			return nil, errors.New("poisoned input")
		}
		return mock.DeterministicVector(text, mock.Dimensions), nil
	}

	config := testConfig()
	config.MaxRetries = 1
	generator, err := NewGenerator(embeddingRepo, runRepo, embedder, config, nil)
	require.NoError(t, err)

	summary, err := generator.Run(ctx, Options{Resume: true})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []uint64{2}, summary.FailedIDs)

	// The failure is visible in the run log for later inspection.
	run, err := runRepo.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, run.FailedIDs)

	// A follow-up resumed run retries only the failed concept.
	embedder.Reset()
	summary, err = generator.Run(ctx, Options{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Processed)
}

func TestGeneratorHoldsRunLock(t *testing.T) {
	conceptRepo, embeddingRepo, runRepo := setupGeneratorTest(t)
	seedStandardConcepts(t, conceptRepo, 3)

	ctx := context.Background()

	// Another live process owns the lock.
	require.NoError(t, runRepo.AcquireRunLock(ctx, "other-worker", time.Hour))

	generator, err := NewGenerator(embeddingRepo, runRepo, mock.NewMockEmbedder(), testConfig(), nil)
	require.NoError(t, err)

	_, err = generator.Run(ctx, Options{Resume: true})
	assert.ErrorIs(t, err, storage.ErrRunLockHeld)

	// The lock is released after a successful run.
	require.NoError(t, runRepo.ReleaseRunLock(ctx, "other-worker"))
	_, err = generator.Run(ctx, Options{Resume: true})
	require.NoError(t, err)
	require.NoError(t, runRepo.AcquireRunLock(ctx, "other-worker", time.Hour))
}

func TestNewGeneratorValidation(t *testing.T) {
	conceptRepo, embeddingRepo, runRepo := setupGeneratorTest(t)
	_ = conceptRepo
	embedder := mock.NewMockEmbedder()

	_, err := NewGenerator(nil, runRepo, embedder, nil, nil)
	assert.Equal(t, ErrEmbeddingRepositoryRequired, err)

	_, err = NewGenerator(embeddingRepo, nil, embedder, nil, nil)
	assert.Equal(t, ErrRunRepositoryRequired, err)

	_, err = NewGenerator(embeddingRepo, runRepo, nil, nil, nil)
	assert.Equal(t, ErrEmbedderRequired, err)

	_, err = NewGenerator(embeddingRepo, runRepo, embedder, &Config{BatchSize: 0}, nil)
	assert.Equal(t, ErrInvalidBatchSize, err)
}
