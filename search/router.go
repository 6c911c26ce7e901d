package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/poiesic/vocabdex/ai"
	"github.com/poiesic/vocabdex/core"
	"github.com/poiesic/vocabdex/storage"
)

// Mode selects which matching mechanisms a search request runs.
type Mode string

const (
	// ModeAuto runs the fuzzy and semantic mechanisms and fuses their
	// result sets.
	ModeAuto Mode = "auto"
	// ModeExact runs substring matching only.
	ModeExact Mode = "exact"
	// ModeFuzzy runs trigram matching only.
	ModeFuzzy Mode = "fuzzy"
	// ModeSemantic runs vector matching only.
	ModeSemantic Mode = "semantic"
)

const (
	// DefaultLimit is applied when a request leaves the limit unset.
	DefaultLimit = 50
	// MaxLimit caps the result count of any single request.
	MaxLimit = 500

	defaultFuzzyThreshold    = 0.3
	defaultSemanticThreshold = 0.5
	defaultProbes            = 8

	// rrfConstant dampens the contribution of deep ranks in reciprocal
	// rank fusion. 60 is the value from the original RRF evaluation.
	rrfConstant = 60

	// filterOversample widens vector index queries when a filter is
	// active, since filtered-out neighbors don't count toward the limit.
	filterOversample = 4
)

// Request describes one search invocation.
type Request struct {
	// Query is the search text. Must contain at least one
	// non-whitespace character.
	Query string

	// Limit bounds the result count. Zero means DefaultLimit; values
	// above MaxLimit are clamped.
	Limit int

	// Mode selects the matching mechanisms. Empty means ModeAuto.
	Mode Mode

	// Filter constrains results uniformly across all mechanisms.
	Filter core.SearchFilter
}

// Router provides hybrid search over the concept corpus, combining
// substring, trigram and vector matching into one ranked result set.
type Router struct {
	concepts   storage.ConceptRepository
	embeddings storage.EmbeddingRepository
	embedder   ai.Embedder
	logger     *slog.Logger

	fuzzyThreshold    float32
	semanticThreshold float32
	probes            int
}

// Option configures a Router.
type Option func(*Router) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithFuzzyThreshold sets the minimum trigram similarity for fuzzy hits.
func WithFuzzyThreshold(threshold float32) Option {
	return func(r *Router) error {
		r.fuzzyThreshold = threshold
		return nil
	}
}

// WithSemanticThreshold sets the minimum cosine similarity for semantic hits.
func WithSemanticThreshold(threshold float32) Option {
	return func(r *Router) error {
		r.semanticThreshold = threshold
		return nil
	}
}

// WithProbes sets how many inverted-file lists a vector query scans.
func WithProbes(probes int) Option {
	return func(r *Router) error {
		r.probes = probes
		return nil
	}
}

// NewRouter creates a new search router.
func NewRouter(
	concepts storage.ConceptRepository,
	embeddings storage.EmbeddingRepository,
	embedder ai.Embedder,
	opts ...Option,
) (*Router, error) {
	if concepts == nil {
		return nil, ErrConceptRepositoryRequired
	}
	if embeddings == nil {
		return nil, ErrEmbeddingRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	r := &Router{
		concepts:          concepts,
		embeddings:        embeddings,
		embedder:          embedder,
		logger:            slog.Default(),
		fuzzyThreshold:    defaultFuzzyThreshold,
		semanticThreshold: defaultSemanticThreshold,
		probes:            defaultProbes,
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Search runs a search request and returns the ranked result set.
func (r *Router) Search(ctx context.Context, req Request) ([]core.SearchHit, error) {
	return r.SearchWithMonitor(ctx, req, nil)
}

// SearchWithMonitor runs a search request with monitoring. The monitor
// receives callbacks at each stage of the search process.
func (r *Router) SearchWithMonitor(ctx context.Context, req Request, monitor SearchMonitor) ([]core.SearchHit, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrBlankQuery
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeAuto
	}

	limit := req.Limit
	switch {
	case limit < 0:
		return nil, ErrInvalidLimit
	case limit == 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	monitor.Start(query, mode)

	var hits []core.SearchHit
	var err error
	switch mode {
	case ModeExact:
		hits, err = r.exactSearch(ctx, query, limit, req.Filter)
		if err == nil {
			monitor.AfterExactSearch(hitIDs(hits))
		}
	case ModeFuzzy:
		hits, err = r.fuzzySearch(ctx, query, limit, req.Filter)
		if err == nil {
			monitor.AfterFuzzySearch(hitIDs(hits))
		}
	case ModeSemantic:
		if err = r.checkModelCompatibility(ctx); err == nil {
			hits, err = r.semanticSearch(ctx, query, limit, req.Filter)
		}
		if err == nil {
			monitor.AfterSemanticSearch(hitIDs(hits))
		}
	case ModeAuto:
		hits, err = r.autoSearch(ctx, query, limit, req.Filter, monitor)
	default:
		return nil, ErrInvalidMode
	}
	if err != nil {
		r.logger.Error("search failed", "query", query, "mode", mode, "err", err)
		return nil, err
	}

	monitor.Finish(hits)
	return hits, nil
}

// autoSearch runs the fuzzy and semantic mechanisms and fuses the
// ranked lists with reciprocal rank fusion. Raw scores from different
// mechanisms are not comparable, so fusion works on ranks alone. A
// stored-model mismatch drops the semantic leg instead of failing the
// request.
func (r *Router) autoSearch(ctx context.Context, query string, limit int, filter core.SearchFilter, monitor SearchMonitor) ([]core.SearchHit, error) {
	fuzzy, err := r.fuzzySearch(ctx, query, limit, filter)
	if err != nil {
		return nil, err
	}
	monitor.AfterFuzzySearch(hitIDs(fuzzy))

	var semantic []core.SearchHit
	if err := r.checkModelCompatibility(ctx); err != nil {
		r.logger.Warn("semantic matching skipped", "err", err)
		monitor.SemanticDisabled(err)
	} else {
		semantic, err = r.semanticSearch(ctx, query, limit, filter)
		if err != nil {
			return nil, err
		}
		monitor.AfterSemanticSearch(hitIDs(semantic))
	}

	return fuseHits(limit, fuzzy, semantic), nil
}

// fuseHits merges ranked lists with reciprocal rank fusion. A concept
// appearing in several lists accumulates a contribution from each; its
// reported kind and raw score come from the list ranking it best, with
// earlier lists winning ties.
func fuseHits(limit int, legs ...[]core.SearchHit) []core.SearchHit {
	type fusedHit struct {
		hit      core.SearchHit
		score    float64
		bestRank int
	}

	byID := make(map[uint64]*fusedHit)
	for _, leg := range legs {
		for rank, hit := range leg {
			f, ok := byID[hit.ConceptID]
			if !ok {
				f = &fusedHit{hit: hit, bestRank: rank}
				byID[hit.ConceptID] = f
			} else if rank < f.bestRank {
				f.hit = hit
				f.bestRank = rank
			}
			f.score += 1 / float64(rrfConstant+rank+1)
		}
	}

	fused := make([]*fusedHit, 0, len(byID))
	for _, f := range byID {
		fused = append(fused, f)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		iStd := fused[i].hit.Standard == core.StandardFlagStandard
		jStd := fused[j].hit.Standard == core.StandardFlagStandard
		if iStd != jStd {
			return iStd
		}
		return fused[i].hit.ConceptID < fused[j].hit.ConceptID
	})

	if len(fused) > limit {
		fused = fused[:limit]
	}
	hits := make([]core.SearchHit, 0, len(fused))
	for _, f := range fused {
		hits = append(hits, f.hit)
	}
	return hits
}
