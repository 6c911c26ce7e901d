package vocabdex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/vocabdex/ai/mock"
)

func TestNewDatabase(t *testing.T) {
	t.Run("create new database", func(t *testing.T) {
		tmpDir := filepath.Join(t.TempDir(), "test_db")
		db, err := NewDatabase(tmpDir, WithEmbedder(mock.NewMockEmbedder()))
		require.NoError(t, err)
		require.NotNil(t, db)
		defer db.Close()

		// Verify components are initialized
		assert.NotNil(t, db.ConceptRepository())
		assert.NotNil(t, db.EmbeddingRepository())
		assert.NotNil(t, db.RunRepository())
		assert.NotNil(t, db.Embedder())
		assert.NotNil(t, db.backend)
		assert.NotNil(t, db.logger)
	})

	t.Run("error with invalid path", func(t *testing.T) {
		// Try to create a database at a file path instead of directory
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		err := os.WriteFile(tmpFile, []byte("test"), 0644)
		require.NoError(t, err)

		db, err := NewDatabase(tmpFile, WithEmbedder(mock.NewMockEmbedder()))
		assert.Error(t, err)
		assert.Nil(t, db)
	})
}

func TestDatabase_Close(t *testing.T) {
	db, err := NewDatabase("", WithInMemory(), WithEmbedder(mock.NewMockEmbedder()))
	require.NoError(t, err)
	require.NotNil(t, db)

	err = db.Close()
	assert.NoError(t, err)
}

func TestDatabase_FactoryMethods(t *testing.T) {
	db, err := NewDatabase("", WithInMemory(), WithEmbedder(mock.NewMockEmbedder()))
	require.NoError(t, err)
	require.NotNil(t, db)
	defer db.Close()

	t.Run("can create search router", func(t *testing.T) {
		router, err := db.NewRouter()
		require.NoError(t, err)
		require.NotNil(t, router)
	})

	t.Run("can create loader", func(t *testing.T) {
		loader, err := db.NewLoader()
		require.NoError(t, err)
		require.NotNil(t, loader)
		loader.Close()
	})

	t.Run("can create generator", func(t *testing.T) {
		gen, err := db.NewGenerator(nil, nil)
		require.NoError(t, err)
		require.NotNil(t, gen)
	})

	t.Run("can create coverage reporter", func(t *testing.T) {
		reporter, err := db.NewCoverageReporter()
		require.NoError(t, err)
		require.NotNil(t, reporter)
	})

	t.Run("can create validator", func(t *testing.T) {
		validator, err := db.NewValidator()
		require.NoError(t, err)
		require.NotNil(t, validator)
	})
}
