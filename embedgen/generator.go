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


package embedgen

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/poiesic/vocabdex/ai"
	"github.com/poiesic/vocabdex/core"
	"github.com/poiesic/vocabdex/storage"
)

// dryRunRateEstimate is the assumed embedding throughput, in concepts
// per second, used to project a dry run's wall time.
const dryRunRateEstimate = 100.0

// Config holds configuration for the generation operation.
type Config struct {
	// BatchSize is the number of concepts embedded per request
	BatchSize int

	// ReportInterval is how often to report progress (number of concepts)
	ReportInterval int

	// MaxRetries is the maximum number of retry attempts for failed operations
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// LockTTL is how long an unrefreshed run lock stays valid before
	// another process may take it over
	LockTTL time.Duration

	// Holder identifies this process in the run lock and run log.
	// Defaults to hostname:pid.
	Holder string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		BatchSize:      128,
		ReportInterval: 1000,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
		LockTTL:        30 * time.Minute,
		Holder:         fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}
}

// Options selects the behavior of a single run.
type Options struct {
	// Resume skips concepts that already have an embedding under the
	// configured model identity. Disabled, the whole embeddable set
	// is regenerated.
	Resume bool

	// DryRun reports what the run would do without calling the
	// embedding service or writing anything.
	DryRun bool
}

// Summary reports the outcome of a generation run.
type Summary struct {
	// Total is the number of concepts the run set out to embed.
	Total int

	// Processed is the number of embeddings persisted.
	Processed int

	// Failed is the number of concepts that failed after retries.
	Failed int

	// FailedIDs lists the concepts that failed, in batch order.
	FailedIDs []uint64

	// Batches is the number of persisted batches.
	Batches int

	// Elapsed is the wall time of the run.
	Elapsed time.Duration

	// DryRun records whether this was a dry run.
	DryRun bool
}

// Generator orchestrates embedding generation over the embeddable
// concept set. Runs are resumable: progress lives in the embedding
// records themselves, so a crashed run continues from wherever its last
// persisted batch left off.
type Generator struct {
	embeddings storage.EmbeddingRepository
	runs       storage.RunRepository
	embedder   ai.Embedder
	config     *Config
	progress   io.Writer
	batcher    *BatchEmbedder
}

// NewGenerator creates a new generator.
// progress: where to write progress output (typically os.Stderr)
func NewGenerator(
	embeddings storage.EmbeddingRepository,
	runs storage.RunRepository,
	embedder ai.Embedder,
	config *Config,
	progress io.Writer,
) (*Generator, error) {
	if embeddings == nil {
		return nil, ErrEmbeddingRepositoryRequired
	}
	if runs == nil {
		return nil, ErrRunRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Generator{
		embeddings: embeddings,
		runs:       runs,
		embedder:   embedder,
		config:     config,
		progress:   progress,
		batcher:    NewBatchEmbedder(embedder, config.MaxRetries, config.RetryDelay),
	}, nil
}

// Run executes a generation run and returns its summary. A summary with
// Failed > 0 and a nil error means the run completed but some concepts
// could not be embedded; infrastructure failures abort the run with an
// error instead.
func (g *Generator) Run(ctx context.Context, opts Options) (*Summary, error) {
	model := g.embedder.ModelID()

	if !opts.DryRun {
		if err := g.runs.AcquireRunLock(ctx, g.config.Holder, g.config.LockTTL); err != nil {
			return nil, err
		}
		defer func() {
			if err := g.runs.ReleaseRunLock(context.WithoutCancel(ctx), g.config.Holder); err != nil {
				fmt.Fprintf(g.progress, "warning: failed to release run lock: %v\n", err)
			}
		}()
	}

	pending, err := g.embeddings.PendingEmbeddable(ctx, model.Name, model.Version, opts.Resume)
	if err != nil {
		return nil, fmt.Errorf("failed to derive pending set: %w", err)
	}

	summary := &Summary{Total: len(pending), DryRun: opts.DryRun}
	if len(pending) == 0 {
		fmt.Fprintf(g.progress, "Nothing to embed, every embeddable concept is covered by %s/%s\n",
			model.Name, model.Version)
		return summary, nil
	}

	if opts.DryRun {
		summary.Batches = (len(pending) + g.config.BatchSize - 1) / g.config.BatchSize
		estimate := time.Duration(float64(len(pending)) / dryRunRateEstimate * float64(time.Second))
		fmt.Fprintf(g.progress, "Dry run: %d concepts would be embedded with %s/%s in %d batches (batch size: %d)\n",
			len(pending), model.Name, model.Version, summary.Batches, g.config.BatchSize)
		fmt.Fprintf(g.progress, "Estimated time: %v at ~%.0f concepts/sec\n",
			estimate.Round(time.Second), dryRunRateEstimate)
		return summary, nil
	}

	fmt.Fprintf(g.progress, "Starting embedding generation for %d concepts (model: %s/%s, batch size: %d)\n",
		len(pending), model.Name, model.Version, g.config.BatchSize)

	tracker := NewProgressTracker(g.progress, len(pending), g.config.ReportInterval)
	tracker.Start()
	startedAt := time.Now().UTC()

	for start := 0; start < len(pending); start += g.config.BatchSize {
		end := start + g.config.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		embeddings, failedIDs, err := g.batcher.Embed(ctx, batch)
		if err != nil {
			g.saveRun(ctx, model, startedAt, summary)
			return summary, err
		}

		if len(embeddings) > 0 {
			if err := g.embeddings.UpsertBatch(ctx, embeddings); err != nil {
				g.saveRun(ctx, model, startedAt, summary)
				return summary, fmt.Errorf("failed to persist batch: %w", err)
			}
			summary.Processed += len(embeddings)
			summary.Batches++
		}
		summary.Failed += len(failedIDs)
		summary.FailedIDs = append(summary.FailedIDs, failedIDs...)

		tracker.Update(summary.Processed + summary.Failed)
	}

	tracker.Finish()
	summary.Elapsed = tracker.Elapsed()
	g.saveRun(ctx, model, startedAt, summary)

	fmt.Fprintf(g.progress, "Generation complete. Embedded %d concepts in %v (%.1f concepts/sec), %d failed\n",
		summary.Processed, summary.Elapsed.Round(time.Second),
		float64(summary.Processed)/summary.Elapsed.Seconds(), summary.Failed)

	return summary, nil
}

// saveRun records the run outcome for the progress reporter. The run log
// is observability only, so failures to write it don't fail the run.
func (g *Generator) saveRun(ctx context.Context, model ai.ModelID, startedAt time.Time, summary *Summary) {
	run := &core.GenerationRun{
		Holder:       g.config.Holder,
		ModelName:    model.Name,
		ModelVersion: model.Version,
		StartedAt:    startedAt,
		FinishedAt:   time.Now().UTC(),
		Processed:    summary.Processed,
		Failed:       summary.Failed,
		FailedIDs:    summary.FailedIDs,
	}
	if err := g.runs.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		fmt.Fprintf(g.progress, "warning: failed to record run: %v\n", err)
	}
}
