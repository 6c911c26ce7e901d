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


package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/vocabdex/ai"
	"github.com/poiesic/vocabdex/ai/openai"
	"github.com/poiesic/vocabdex/core"
	"github.com/poiesic/vocabdex/embedgen"
	"github.com/poiesic/vocabdex/ingestion"
	"github.com/poiesic/vocabdex/search"
	"github.com/poiesic/vocabdex/storage/badger"
	"github.com/poiesic/vocabdex/validate"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "vocabdex",
		Usage: "Hybrid search over clinical vocabulary releases",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "load",
				Usage:     "Load a tab-separated vocabulary release file",
				ArgsUsage: "FILE",
				Action:    loadCommand,
				Flags: []cli.Flag{
					dbFlag(),
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of concepts persisted per transaction",
						Value: 500,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Worker pool size for concurrent batch writes (0 = auto)",
						Value: 0,
					},
				},
			},
			{
				Name:   "embed",
				Usage:  "Generate embeddings for embeddable concepts",
				Action: embedCommand,
				Flags: append(embeddingFlags(true),
					dbFlag(),
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of concepts to embed in each batch",
						Value: 128,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N concepts",
						Value: 1000,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
					&cli.DurationFlag{
						Name:  "lock-ttl",
						Usage: "How long an abandoned run lock stays valid",
						Value: 30 * time.Minute,
					},
					&cli.BoolFlag{
						Name:  "resume",
						Usage: "Skip concepts already embedded under this model",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Report what would be embedded without writing anything",
					},
				),
			},
			{
				Name:   "progress",
				Usage:  "Report embedding coverage and run history",
				Action: progressCommand,
				Flags:  []cli.Flag{dbFlag()},
			},
			{
				Name:   "validate",
				Usage:  "Check stored embeddings for integrity violations",
				Action: validateCommand,
				Flags: append(embeddingFlags(true),
					dbFlag(),
					&cli.StringSliceFlag{
						Name:  "pair",
						Usage: "Concept pair ID:ID expected to be semantically near (repeatable)",
					},
				),
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild the vector index from stored embeddings",
				Action: reindexCommand,
				Flags: []cli.Flag{
					dbFlag(),
					&cli.IntFlag{
						Name:  "lists",
						Usage: "Number of inverted-file lists to cluster vectors into",
						Value: 100,
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search the vocabulary",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: append(embeddingFlags(false),
					dbFlag(),
					&cli.StringFlag{
						Name:  "mode",
						Usage: "Match mode (auto, exact, fuzzy, semantic)",
						Value: "auto",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results (0 = default)",
					},
					&cli.IntFlag{
						Name:  "probes",
						Usage: "Number of vector index lists scanned per query",
						Value: 8,
					},
					&cli.StringFlag{
						Name:  "vocabulary",
						Usage: "Restrict results to a vocabulary",
					},
					&cli.StringFlag{
						Name:  "domain",
						Usage: "Restrict results to a domain",
					},
					&cli.BoolFlag{
						Name:  "standard-only",
						Usage: "Restrict results to standard concepts",
					},
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "Report per-stage match counts",
					},
				),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func dbFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "db",
		Aliases:  []string{"d"},
		Usage:    "Path to BadgerDB database directory",
		Required: true,
	}
}

func embeddingFlags(modelRequired bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL",
			Value: "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:     "embedding-model",
			Usage:    "Embedding model name",
			Required: modelRequired,
			Value:    embeddingModelDefault(modelRequired),
		},
		&cli.StringFlag{
			Name:  "model-version",
			Usage: "Deployment version tag recorded with each vector",
			Value: "v1",
		},
		&cli.IntFlag{
			Name:  "dimensions",
			Usage: "Expected vector length produced by the model",
			Value: 384,
		},
	}
}

func embeddingModelDefault(required bool) string {
	if required {
		return ""
	}
	return "all-MiniLM-L6-v2"
}

func buildEmbedder(c *cli.Context) (ai.Embedder, error) {
	aiConfig := ai.NewConfig(
		ai.WithHost(c.String("embedding-host")),
		ai.WithModel(c.String("embedding-model")),
		ai.WithModelVersion(c.String("model-version")),
		ai.WithDimensions(c.Int("dimensions")),
	)

	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}

	embedder, err := openai.NewEmbedder(aiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

func loadCommand(c *cli.Context) error {
	ctx := context.Background()

	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one vocabulary file argument")
	}
	path := c.Args().First()

	// Open database
	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	repo, err := badger.NewConceptRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	defer repo.Close()

	// Create loader
	opts := []ingestion.Option{ingestion.WithBatchSize(c.Int("batch-size"))}
	if workers := c.Int("workers"); workers > 0 {
		opts = append(opts, ingestion.WithPoolSize(workers))
	}
	loader, err := ingestion.NewLoader(repo, opts...)
	if err != nil {
		return fmt.Errorf("failed to create loader: %w", err)
	}
	defer loader.Close()

	fmt.Fprintf(os.Stderr, "Database: %s\n", c.String("db"))
	fmt.Fprintf(os.Stderr, "Source:   %s\n", path)
	fmt.Fprintln(os.Stderr)

	stats, err := loader.LoadFile(ctx, path)
	if err != nil {
		return fmt.Errorf("load failed: %w", err)
	}

	fmt.Printf("Loaded %d of %d rows (%d malformed) in %s\n",
		stats.Loaded, stats.Rows, stats.Malformed, stats.Elapsed.Round(time.Millisecond))
	return nil
}

func embedCommand(c *cli.Context) error {
	ctx := context.Background()

	// Open database
	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	embeddingRepo, err := badger.NewEmbeddingRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create embedding repository: %w", err)
	}
	defer embeddingRepo.Close()

	runRepo, err := badger.NewRunRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create run repository: %w", err)
	}

	// Create embedder
	embedder, err := buildEmbedder(c)
	if err != nil {
		return err
	}

	// Create generation config
	config := embedgen.DefaultConfig()
	config.BatchSize = c.Int("batch-size")
	config.ReportInterval = c.Int("report-interval")
	config.MaxRetries = c.Int("max-retries")
	config.RetryDelay = c.Duration("retry-delay")
	config.LockTTL = c.Duration("lock-ttl")

	if config.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if config.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	generator, err := embedgen.NewGenerator(embeddingRepo, runRepo, embedder, config, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Database: %s\n", c.String("db"))
	fmt.Fprintf(os.Stderr, "Embedding host: %s\n", c.String("embedding-host"))
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", c.String("embedding-model"))
	fmt.Fprintln(os.Stderr)

	summary, err := generator.Run(ctx, embedgen.Options{
		Resume: c.Bool("resume"),
		DryRun: c.Bool("dry-run"),
	})
	if err != nil {
		return fmt.Errorf("embedding generation failed: %w", err)
	}

	if summary.DryRun {
		fmt.Printf("Dry run: %d concepts pending\n", summary.Total)
		return nil
	}

	fmt.Printf("Processed %d of %d concepts in %s\n",
		summary.Processed, summary.Total, summary.Elapsed.Round(time.Second))
	if summary.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d concepts failed: %v", summary.Failed, summary.FailedIDs), 2)
	}
	return nil
}

func progressCommand(c *cli.Context) error {
	ctx := context.Background()

	// Open database
	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	embeddingRepo, err := badger.NewEmbeddingRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create embedding repository: %w", err)
	}
	defer embeddingRepo.Close()

	runRepo, err := badger.NewRunRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create run repository: %w", err)
	}

	reporter, err := embedgen.NewCoverageReporter(embeddingRepo, runRepo)
	if err != nil {
		return fmt.Errorf("failed to create reporter: %w", err)
	}

	report, err := reporter.Report(ctx)
	if err != nil {
		return fmt.Errorf("failed to build coverage report: %w", err)
	}

	report.Write(os.Stdout)
	return nil
}

func validateCommand(c *cli.Context) error {
	ctx := context.Background()

	// Open database
	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	conceptRepo, err := badger.NewConceptRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create concept repository: %w", err)
	}
	defer conceptRepo.Close()

	embeddingRepo, err := badger.NewEmbeddingRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create embedding repository: %w", err)
	}
	defer embeddingRepo.Close()

	model := ai.ModelID{
		Name:       c.String("embedding-model"),
		Version:    c.String("model-version"),
		Dimensions: c.Int("dimensions"),
	}

	pairs, err := parsePairs(c.StringSlice("pair"))
	if err != nil {
		return err
	}

	validator, err := validate.NewValidator(conceptRepo, embeddingRepo, model, validate.WithPairs(pairs...))
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}

	report, err := validator.Run(ctx)
	if err != nil {
		return fmt.Errorf("validation failed to run: %w", err)
	}

	report.Write(os.Stdout)
	if !report.Passed() {
		return cli.Exit("validation failed", 2)
	}
	return nil
}

func reindexCommand(c *cli.Context) error {
	ctx := context.Background()

	lists := c.Int("lists")
	if lists <= 0 {
		return fmt.Errorf("lists must be greater than 0")
	}

	// Open database
	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	embeddingRepo, err := badger.NewEmbeddingRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create embedding repository: %w", err)
	}
	defer embeddingRepo.Close()

	count, err := embeddingRepo.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count embeddings: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Clustering %d vectors into %d lists...\n", count, lists)
	start := time.Now()
	if err := embeddingRepo.Train(ctx, lists); err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	fmt.Printf("Index rebuilt in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func searchCommand(c *cli.Context) error {
	ctx := context.Background()

	if c.NArg() == 0 {
		return fmt.Errorf("expected a search query argument")
	}
	query := strings.Join(c.Args().Slice(), " ")

	// Open database
	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	conceptRepo, err := badger.NewConceptRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create concept repository: %w", err)
	}
	defer conceptRepo.Close()

	embeddingRepo, err := badger.NewEmbeddingRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create embedding repository: %w", err)
	}
	defer embeddingRepo.Close()

	// Create embedder
	embedder, err := buildEmbedder(c)
	if err != nil {
		return err
	}

	router, err := search.NewRouter(conceptRepo, embeddingRepo, embedder,
		search.WithProbes(c.Int("probes")))
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}

	req := search.Request{
		Query: query,
		Limit: c.Int("limit"),
		Mode:  search.Mode(c.String("mode")),
		Filter: core.SearchFilter{
			VocabularyID: c.String("vocabulary"),
			DomainID:     c.String("domain"),
			StandardOnly: c.Bool("standard-only"),
		},
	}

	var monitor search.SearchMonitor
	if c.Bool("verbose") {
		monitor = newVerboseMonitor(os.Stderr)
	}

	hits, err := router.SearchWithMonitor(ctx, req, monitor)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	fmt.Printf("Found %d hits\n", len(hits))
	for i, hit := range hits {
		fmt.Printf("%d: %s '%s' %s/%s (%d)[%0.3f %s]\n",
			i, hit.Code, hit.Name, hit.VocabularyID, hit.DomainID,
			hit.ConceptID, hit.Score, hit.Kind)
	}
	return nil
}

// newVerboseMonitor builds a search monitor with its own debug-level
// logger, so --verbose reports search stages independently of the
// global --log-level.
func newVerboseMonitor(w io.Writer) search.SearchMonitor {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	return search.NewLoggingMonitor(logger)
}

// parsePairs parses repeated ID:ID flags into validator pairs.
func parsePairs(raw []string) ([]validate.Pair, error) {
	pairs := make([]validate.Pair, 0, len(raw))
	for _, s := range raw {
		left, right, ok := strings.Cut(s, ":")
		if !ok {
			return nil, fmt.Errorf("invalid pair %q: expected ID:ID", s)
		}
		a, err := strconv.ParseUint(left, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid pair %q: %w", s, err)
		}
		b, err := strconv.ParseUint(right, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid pair %q: %w", s, err)
		}
		pairs = append(pairs, validate.Pair{A: a, B: b})
	}
	return pairs, nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
