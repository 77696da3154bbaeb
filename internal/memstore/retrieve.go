package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/trfife/barnabeenet/internal/domain"
)

// RetrievalExempt is the set of intents for which retrieval is disabled
// per §4.6 ("Retrieval is disabled for Instant and Gesture intents and
// for Emergency").
var RetrievalExempt = map[domain.Intent]bool{
	domain.IntentInstant:   true,
	domain.IntentGesture:   true,
	domain.IntentEmergency: true,
}

// Retriever implements the Memory Retriever (C6).
type Retriever struct {
	store            *Store
	index            VectorIndex
	embedder         Embedder
	weights          Weights
	baseHalfLifeDays float64
}

// NewRetriever wires a Retriever against its collaborators, using the
// spec-mandated default weights and half-life unless overridden via
// WithWeights / WithHalfLife.
func NewRetriever(store *Store, index VectorIndex, embedder Embedder) *Retriever {
	return &Retriever{
		store:            store,
		index:            index,
		embedder:         embedder,
		weights:          DefaultWeights(),
		baseHalfLifeDays: domain.BaseHalfLifeDays,
	}
}

func (r *Retriever) WithWeights(w Weights) *Retriever {
	r.weights = w
	return r
}

func (r *Retriever) WithHalfLife(days float64) *Retriever {
	r.baseHalfLifeDays = days
	return r
}

// Retrieve implements §4.6's algorithm: embed, fetch top-N nearest
// neighbors (N = 4*k, N >= 20), score, filter, sort, stamp access, return
// top k. Ties are broken by recency then lexicographic id.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, f Filters) ([]Scored, error) {
	if k <= 0 {
		return nil, fmt.Errorf("memstore: k must be positive")
	}

	emb, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	n := 4 * k
	if n < 20 {
		n = 20
	}

	matches, err := r.index.Search(ctx, ToFloat32(emb), n)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]string, len(matches))
	simByID := make(map[string]float64, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
		simByID[m.ID] = m.Similarity
	}

	candidates, err := r.store.loadAndFilter(ctx, ids, f)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	now := time.Now()
	scored := make([]Scored, 0, len(candidates))
	for _, m := range candidates {
		sim := simByID[m.ID]
		scored = append(scored, Scored{
			Memory:     m,
			Similarity: sim,
			Score:      Score(m, sim, r.weights, r.baseHalfLifeDays, now),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Memory.LastAccessed.Equal(scored[j].Memory.LastAccessed) {
			return scored[i].Memory.LastAccessed.After(scored[j].Memory.LastAccessed)
		}
		return scored[i].Memory.ID < scored[j].Memory.ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}

	touched := make([]string, len(scored))
	for i, s := range scored {
		touched[i] = s.Memory.ID
	}
	r.store.StampAccess(ctx, touched)

	return scored, nil
}
