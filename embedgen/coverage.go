package embedgen

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/vocabdex/core"
	"github.com/poiesic/vocabdex/storage"
)

// CoverageReport describes how far embedding generation has progressed.
type CoverageReport struct {
	// EmbeddableTotal is the number of concepts eligible for embedding.
	EmbeddableTotal int

	// Embedded is the number of embeddable concepts with a stored embedding.
	Embedded int

	// Models lists the model identities present in the store with counts.
	Models []core.ModelCount

	// LastRun is the most recent recorded run, or nil.
	LastRun *core.GenerationRun
}

// Missing returns the number of embeddable concepts without an embedding.
func (r *CoverageReport) Missing() int {
	return r.EmbeddableTotal - r.Embedded
}

// Percent returns the embedded share as a percentage. A corpus with no
// embeddable concepts reports 100.
func (r *CoverageReport) Percent() float64 {
	if r.EmbeddableTotal == 0 {
		return 100
	}
	return float64(r.Embedded) / float64(r.EmbeddableTotal) * 100
}

// Complete reports whether every embeddable concept is embedded.
func (r *CoverageReport) Complete() bool {
	return r.Missing() == 0
}

// CoverageReporter builds coverage reports from the embedding store.
type CoverageReporter struct {
	embeddings storage.EmbeddingRepository
	runs       storage.RunRepository
}

// NewCoverageReporter creates a new coverage reporter. The run
// repository may be nil, in which case the report omits run history.
func NewCoverageReporter(embeddings storage.EmbeddingRepository, runs storage.RunRepository) (*CoverageReporter, error) {
	if embeddings == nil {
		return nil, ErrEmbeddingRepositoryRequired
	}
	return &CoverageReporter{
		embeddings: embeddings,
		runs:       runs,
	}, nil
}

// Report assembles a coverage report.
func (c *CoverageReporter) Report(ctx context.Context) (*CoverageReport, error) {
	embedded, total, err := c.embeddings.Coverage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute coverage: %w", err)
	}

	models, err := c.embeddings.ModelInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect stored models: %w", err)
	}

	report := &CoverageReport{
		EmbeddableTotal: total,
		Embedded:        embedded,
		Models:          models,
	}

	if c.runs != nil {
		report.LastRun, err = c.runs.LastRun(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read run log: %w", err)
		}
	}

	return report, nil
}

// Write renders the report in a human-readable form.
func (r *CoverageReport) Write(w io.Writer) {
	fmt.Fprintf(w, "Embeddable concepts: %d\n", r.EmbeddableTotal)
	fmt.Fprintf(w, "Embedded:            %d (%.1f%%)\n", r.Embedded, r.Percent())
	fmt.Fprintf(w, "Missing:             %d\n", r.Missing())

	if len(r.Models) > 0 {
		fmt.Fprintln(w, "Stored models:")
		for _, m := range r.Models {
			fmt.Fprintf(w, "  %s/%s: %d\n", m.Name, m.Version, m.Count)
		}
	}

	if r.LastRun != nil {
		fmt.Fprintf(w, "Last run: %s finished %s, processed %d, failed %d\n",
			r.LastRun.Holder,
			r.LastRun.FinishedAt.Format(time.RFC3339),
			r.LastRun.Processed,
			r.LastRun.Failed)
	}
}
