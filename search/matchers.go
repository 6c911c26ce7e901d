package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/poiesic/vocabdex/core"
)

// exactSearch finds concepts whose name or code contains the query as a
// case-insensitive substring. Every exact hit carries the full score of 1.
func (r *Router) exactSearch(ctx context.Context, query string, limit int, filter core.SearchFilter) ([]core.SearchHit, error) {
	concepts, err := r.concepts.FindBySubstring(ctx, query, limit, filterPredicate(filter))
	if err != nil {
		return nil, err
	}

	hits := make([]core.SearchHit, 0, len(concepts))
	for _, c := range concepts {
		hits = append(hits, core.HitFromConcept(c, 1, core.MatchKindExact))
	}
	sortHits(hits)
	return hits, nil
}

// fuzzySearch finds concepts whose name is close to the query under
// trigram similarity. Candidates come from the trigram posting index;
// each candidate is scored against the query and kept above the
// configured threshold.
func (r *Router) fuzzySearch(ctx context.Context, query string, limit int, filter core.SearchFilter) ([]core.SearchHit, error) {
	queryTrigrams := core.Trigrams(query)
	if len(queryTrigrams) == 0 {
		return nil, nil
	}

	ids, err := r.concepts.FindByTrigrams(ctx, queryTrigrams)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	concepts, err := r.concepts.GetConcepts(ctx, ids...)
	if err != nil {
		return nil, err
	}

	keep := filterPredicate(filter)
	var hits []core.SearchHit
	for _, c := range concepts {
		if keep != nil && !keep(c) {
			continue
		}
		score := core.TrigramSimilarity(queryTrigrams, core.Trigrams(c.Name))
		if score < r.fuzzyThreshold {
			continue
		}
		hits = append(hits, core.HitFromConcept(c, score, core.MatchKindFuzzy))
	}

	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// semanticSearch finds concepts whose embeddings are close to the query
// embedding. With an active filter the vector index is oversampled so
// filtering happens before the limit truncation.
func (r *Router) semanticSearch(ctx context.Context, query string, limit int, filter core.SearchFilter) ([]core.SearchHit, error) {
	vector, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	normalizeVector(vector)

	keep := filterPredicate(filter)
	k := limit
	if keep != nil {
		k *= filterOversample
	}

	matches, err := r.embeddings.SearchSimilar(ctx, vector, k, r.probes, r.semanticThreshold)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	scores := make(map[uint64]float32, len(matches))
	ids := make([]uint64, 0, len(matches))
	for _, m := range matches {
		scores[m.ConceptID] = m.Score
		ids = append(ids, m.ConceptID)
	}

	concepts, err := r.concepts.GetConcepts(ctx, ids...)
	if err != nil {
		return nil, err
	}

	var hits []core.SearchHit
	for _, c := range concepts {
		if keep != nil && !keep(c) {
			continue
		}
		hits = append(hits, core.HitFromConcept(c, scores[c.ConceptID], core.MatchKindSemantic))
	}

	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

var errStopIteration = errors.New("stop iteration")

// checkModelCompatibility verifies that stored embeddings share the
// configured embedder's model identity. The store holds one identity at a
// time outside of an in-progress regeneration, so inspecting the first
// stored embedding suffices. An empty store is compatible.
func (r *Router) checkModelCompatibility(ctx context.Context) error {
	var stored *core.ConceptEmbedding
	err := r.embeddings.ForEachEmbedding(ctx, func(e *core.ConceptEmbedding) error {
		stored = e
		return errStopIteration
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return err
	}
	if stored == nil {
		return nil
	}

	model := r.embedder.ModelID()
	if stored.ModelName != model.Name || stored.ModelVersion != model.Version {
		return fmt.Errorf("%w: stored %s/%s, configured %s/%s",
			ErrModelMismatch, stored.ModelName, stored.ModelVersion, model.Name, model.Version)
	}
	return nil
}

// sortHits orders hits by descending score, then standard concepts
// first, then ascending concept id. The ordering is total, so equal
// inputs always produce identical result lists.
func sortHits(hits []core.SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		iStd := hits[i].Standard == core.StandardFlagStandard
		jStd := hits[j].Standard == core.StandardFlagStandard
		if iStd != jStd {
			return iStd
		}
		return hits[i].ConceptID < hits[j].ConceptID
	})
}

// normalizeVector scales v to unit length in place so cosine similarity
// against the stored unit vectors reduces to a dot product.
func normalizeVector(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

func hitIDs(hits []core.SearchHit) []uint64 {
	ids := make([]uint64, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ConceptID)
	}
	return ids
}
