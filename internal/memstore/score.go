package memstore

import (
	"time"

	"github.com/trfife/barnabeenet/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// Weights are the four term weights for the retrieval score in §4.6.
// Defaults: 0.40 / 0.25 / 0.20 / 0.15.
type Weights struct {
	Semantic   float64
	Importance float64
	Recency    float64
	Access     float64
}

// DefaultWeights returns the spec-mandated default weighting.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.40, Importance: 0.25, Recency: 0.20, Access: 0.15}
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors using gonum's floats package, returning 0 for length mismatch
// or a zero vector (rather than NaN) so callers never need a defensive
// branch on dimension mismatch.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	dot := floats.Dot(a, b)
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (normA * normB)
}

// Scored pairs a Memory with its retrieval score and the similarity used
// to compute it.
type Scored struct {
	Memory     domain.Memory
	Similarity float64
	Score      float64
}

// Score computes the weighted four-term score from §4.6 step 3:
//
//	w_sem*sim + w_imp*base_importance*type_weight*decay_factor + w_rec*decay_factor + w_acc*access_bonus
func Score(m domain.Memory, similarity float64, w Weights, baseHalfLifeDays float64, now time.Time) float64 {
	daysSinceAccess := now.Sub(m.LastAccessed).Hours() / 24
	decay := DecayFactor(daysSinceAccess, baseHalfLifeDays, m.Type)
	bonus := AccessBonus(m.AccessCount)
	return w.Semantic*similarity +
		w.Importance*m.BaseImportance*domain.TypeWeight(m.Type)*decay +
		w.Recency*decay +
		w.Access*bonus
}
