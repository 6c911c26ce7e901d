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


package validate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/poiesic/vocabdex/ai"
	"github.com/poiesic/vocabdex/core"
	"github.com/poiesic/vocabdex/storage"
)

var (
	// ErrConceptRepositoryRequired is returned when a concept repository is not provided.
	ErrConceptRepositoryRequired = errors.New("concept repository required")

	// ErrEmbeddingRepositoryRequired is returned when an embedding repository is not provided.
	ErrEmbeddingRepositoryRequired = errors.New("embedding repository required")
)

// normTolerance is how far a stored vector's length may drift from 1
// before it counts as denormalized.
const normTolerance = 1e-3

// maxExamples bounds how many violating concept ids each check records.
const maxExamples = 10

// pairSimilarityFloor is the minimum cosine similarity a configured
// concept pair must reach. It is a low bar: pairs are chosen to be
// clearly related, so falling under it signals systemic corruption of
// the embedding space rather than a borderline model judgement.
const pairSimilarityFloor = 0.3

// CheckResult is the outcome of a single integrity check.
type CheckResult struct {
	// Name identifies the check.
	Name string

	// Violations counts the records that failed the check.
	Violations int

	// Examples holds up to maxExamples violating concept ids.
	Examples []uint64

	// Detail is a human-readable description of the finding.
	Detail string
}

// Passed reports whether the check found no violations.
func (c *CheckResult) Passed() bool {
	return c.Violations == 0
}

// Report is the aggregate outcome of a validation pass. Every check runs
// to completion even when earlier checks fail, so one pass surfaces every
// class of problem at once.
type Report struct {
	Checks []CheckResult
}

// Passed reports whether every check passed.
func (r *Report) Passed() bool {
	for i := range r.Checks {
		if !r.Checks[i].Passed() {
			return false
		}
	}
	return true
}

// Write renders the report in a human-readable form.
func (r *Report) Write(w io.Writer) {
	for i := range r.Checks {
		c := &r.Checks[i]
		status := "ok"
		if !c.Passed() {
			status = fmt.Sprintf("FAIL (%d violations)", c.Violations)
		}
		fmt.Fprintf(w, "%-24s %s", c.Name, status)
		if c.Detail != "" {
			fmt.Fprintf(w, " - %s", c.Detail)
		}
		if len(c.Examples) > 0 {
			fmt.Fprintf(w, " e.g. %v", c.Examples)
		}
		fmt.Fprintln(w)
	}
}

// Pair names two concepts whose embeddings are expected to land near
// each other, for example two spellings of the same condition. Pairs
// anchor the semantic sanity spot-check.
type Pair struct {
	A uint64
	B uint64
}

// Validator checks the integrity of the stored embedding set against the
// concept corpus and the configured model identity.
type Validator struct {
	concepts   storage.ConceptRepository
	embeddings storage.EmbeddingRepository
	model      ai.ModelID
	pairs      []Pair
}

// Option configures a Validator.
type Option func(*Validator)

// WithPairs adds concept pairs for the semantic sanity spot-check. With
// no pairs configured the check is skipped.
func WithPairs(pairs ...Pair) Option {
	return func(v *Validator) {
		v.pairs = append(v.pairs, pairs...)
	}
}

// NewValidator creates a new validator. model is the identity every
// stored embedding is expected to carry.
func NewValidator(concepts storage.ConceptRepository, embeddings storage.EmbeddingRepository, model ai.ModelID, opts ...Option) (*Validator, error) {
	if concepts == nil {
		return nil, ErrConceptRepositoryRequired
	}
	if embeddings == nil {
		return nil, ErrEmbeddingRepositoryRequired
	}
	v := &Validator{
		concepts:   concepts,
		embeddings: embeddings,
		model:      model,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Run executes every integrity check and returns the aggregate report.
// The error return covers infrastructure failures only; integrity
// violations are reported, not returned.
func (v *Validator) Run(ctx context.Context) (*Report, error) {
	coverage := CheckResult{Name: "coverage"}
	orphans := CheckResult{Name: "orphans"}
	duplicates := CheckResult{Name: "duplicates"}
	dimensions := CheckResult{Name: "dimensions"}
	norms := CheckResult{Name: "norms"}
	modelIdentity := CheckResult{Name: "model identity"}
	finiteness := CheckResult{Name: "finite values"}

	// Coverage: every embeddable concept has an embedding.
	embedded, total, err := v.embeddings.Coverage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute coverage: %w", err)
	}
	if missing := total - embedded; missing > 0 {
		coverage.Violations = missing
		coverage.Detail = fmt.Sprintf("%d of %d embeddable concepts lack an embedding", missing, total)
	}

	// The remaining checks share one pass over the stored embeddings.
	seen := make(map[uint64]struct{})
	err = v.embeddings.ForEachEmbedding(ctx, func(e *core.ConceptEmbedding) error {
		if _, dup := seen[e.ConceptID]; dup {
			record(&duplicates, e.ConceptID)
		}
		seen[e.ConceptID] = struct{}{}

		concept, err := v.concepts.GetConcept(ctx, e.ConceptID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			record(&orphans, e.ConceptID)
		case err != nil:
			return err
		case !concept.Embeddable():
			record(&orphans, e.ConceptID)
		}

		if v.model.Dimensions > 0 && len(e.Vector) != v.model.Dimensions {
			record(&dimensions, e.ConceptID)
		}

		var sum float64
		finite := true
		for _, x := range e.Vector {
			f := float64(x)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				finite = false
				break
			}
			sum += f * f
		}
		if !finite {
			record(&finiteness, e.ConceptID)
		} else if math.Abs(math.Sqrt(sum)-1) > normTolerance {
			record(&norms, e.ConceptID)
		}

		if e.ModelName != v.model.Name || e.ModelVersion != v.model.Version {
			record(&modelIdentity, e.ConceptID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan embeddings: %w", err)
	}

	if orphans.Violations > 0 {
		orphans.Detail = "embeddings whose concept is missing or not embeddable"
	}
	if duplicates.Violations > 0 {
		duplicates.Detail = "concepts with more than one stored embedding"
	}
	if dimensions.Violations > 0 {
		dimensions.Detail = fmt.Sprintf("vectors not %d-dimensional", v.model.Dimensions)
	}
	if norms.Violations > 0 {
		norms.Detail = "vectors not unit length"
	}
	if modelIdentity.Violations > 0 {
		modelIdentity.Detail = fmt.Sprintf("embeddings not generated by %s/%s", v.model.Name, v.model.Version)
	}
	if finiteness.Violations > 0 {
		finiteness.Detail = "vectors containing NaN or infinite components"
	}

	checks := []CheckResult{coverage, orphans, duplicates, dimensions, norms, modelIdentity, finiteness}

	if len(v.pairs) > 0 {
		pairCheck, err := v.checkPairs(ctx)
		if err != nil {
			return nil, err
		}
		checks = append(checks, pairCheck)
	}

	return &Report{Checks: checks}, nil
}

// checkPairs verifies that each configured concept pair scores at least
// pairSimilarityFloor. A pair with a missing embedding counts as a
// violation too.
func (v *Validator) checkPairs(ctx context.Context) (CheckResult, error) {
	check := CheckResult{Name: "semantic pairs"}

	for _, p := range v.pairs {
		a, err := v.embeddings.GetEmbedding(ctx, p.A)
		if errors.Is(err, storage.ErrNotFound) {
			record(&check, p.A)
			continue
		}
		if err != nil {
			return check, fmt.Errorf("failed to read embedding %d: %w", p.A, err)
		}

		b, err := v.embeddings.GetEmbedding(ctx, p.B)
		if errors.Is(err, storage.ErrNotFound) {
			record(&check, p.B)
			continue
		}
		if err != nil {
			return check, fmt.Errorf("failed to read embedding %d: %w", p.B, err)
		}

		if dotProduct(a.Vector, b.Vector) < pairSimilarityFloor {
			record(&check, p.A)
		}
	}

	if check.Violations > 0 {
		check.Detail = fmt.Sprintf("pairs under similarity %.2f or missing an embedding", pairSimilarityFloor)
	}
	return check, nil
}

func dotProduct(a, b []float32) float32 {
	var sum float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func record(c *CheckResult, id uint64) {
	c.Violations++
	if len(c.Examples) < maxExamples {
		c.Examples = append(c.Examples, id)
	}
}
