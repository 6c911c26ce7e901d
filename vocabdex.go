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


package vocabdex

import (
	"io"
	"log/slog"

	"github.com/poiesic/vocabdex/ai"
	"github.com/poiesic/vocabdex/ai/openai"
	"github.com/poiesic/vocabdex/embedgen"
	"github.com/poiesic/vocabdex/ingestion"
	"github.com/poiesic/vocabdex/search"
	"github.com/poiesic/vocabdex/storage"
	"github.com/poiesic/vocabdex/storage/badger"
	"github.com/poiesic/vocabdex/validate"
)

// Database bundles the vocabulary store with the embedding service and
// hands out the higher-level components built on them.
type Database struct {
	backend       *badger.Backend
	conceptRepo   storage.ConceptRepository
	embeddingRepo storage.EmbeddingRepository
	runRepo       storage.RunRepository
	embedder      ai.Embedder
	logger        *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig *ai.Config
	embedder ai.Embedder
	inMemory bool
}

// WithAIConfig sets the embedding service configuration.
func WithAIConfig(cfg *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = cfg
	}
}

// WithEmbedder supplies a pre-built embedder instead of constructing one
// from the AI config.
func WithEmbedder(embedder ai.Embedder) DatabaseOption {
	return func(o *databaseOptions) {
		o.embedder = embedder
	}
}

// WithInMemory opens the store in memory, discarding everything on close.
func WithInMemory() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	// Apply options
	options := &databaseOptions{
		aiConfig: ai.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}

	// Open backend
	backend, err := badger.OpenBackend(filePath, options.inMemory)
	if err != nil {
		return nil, err
	}

	// Create concept repository
	conceptRepo, err := badger.NewConceptRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	// Create embedding repository
	embeddingRepo, err := badger.NewEmbeddingRepository(backend)
	if err != nil {
		conceptRepo.Close()
		backend.Close()
		return nil, err
	}

	// Create run repository
	runRepo, err := badger.NewRunRepository(backend)
	if err != nil {
		embeddingRepo.Close()
		conceptRepo.Close()
		backend.Close()
		return nil, err
	}

	embedder := options.embedder
	if embedder == nil {
		embedder, err = openai.NewEmbedder(options.aiConfig)
		if err != nil {
			embeddingRepo.Close()
			conceptRepo.Close()
			backend.Close()
			return nil, err
		}
	}

	return &Database{
		backend:       backend,
		conceptRepo:   conceptRepo,
		embeddingRepo: embeddingRepo,
		runRepo:       runRepo,
		embedder:      embedder,
		logger:        slog.Default(),
	}, nil
}

func (db *Database) Close() error {
	if err := db.embeddingRepo.Close(); err != nil {
		db.logger.Error("error closing embedding repository", "err", err)
		return err
	}
	if err := db.conceptRepo.Close(); err != nil {
		db.logger.Error("error closing concept repository", "err", err)
		return err
	}
	if err := db.backend.Close(); err != nil {
		db.logger.Error("error closing backend storage", "err", err)
		return err
	}
	return nil
}

func (db *Database) ConceptRepository() storage.ConceptRepository {
	return db.conceptRepo
}

func (db *Database) EmbeddingRepository() storage.EmbeddingRepository {
	return db.embeddingRepo
}

func (db *Database) RunRepository() storage.RunRepository {
	return db.runRepo
}

// Embedder returns the configured embedding client.
func (db *Database) Embedder() ai.Embedder {
	return db.embedder
}

func (db *Database) NewRouter(opts ...search.Option) (*search.Router, error) {
	return search.NewRouter(db.conceptRepo, db.embeddingRepo, db.embedder, opts...)
}

func (db *Database) NewLoader(opts ...ingestion.Option) (*ingestion.Loader, error) {
	return ingestion.NewLoader(db.conceptRepo, opts...)
}

func (db *Database) NewGenerator(config *embedgen.Config, progress io.Writer) (*embedgen.Generator, error) {
	return embedgen.NewGenerator(db.embeddingRepo, db.runRepo, db.embedder, config, progress)
}

func (db *Database) NewCoverageReporter() (*embedgen.CoverageReporter, error) {
	return embedgen.NewCoverageReporter(db.embeddingRepo, db.runRepo)
}

func (db *Database) NewValidator() (*validate.Validator, error) {
	return validate.NewValidator(db.conceptRepo, db.embeddingRepo, db.embedder.ModelID())
}
