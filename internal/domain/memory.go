package domain

import "time"

// MemoryType classifies a Memory's role in retention/decay math.
type MemoryType string

const (
	MemorySignificant MemoryType = "significant"
	MemoryPreference  MemoryType = "preference"
	MemoryRoutine     MemoryType = "routine"
	MemoryObservation MemoryType = "observation"
	MemoryTransient   MemoryType = "transient"
)

// typeWeight is the base_importance multiplier per §3's invariants.
// Significant memories retain importance longest; transient ones decay
// fastest. Values are tuned, not derived, and fixed here: internal/config
// does not override them.
var typeWeight = map[MemoryType]float64{
	MemorySignificant: 1.0,
	MemoryPreference:  0.85,
	MemoryRoutine:     0.6,
	MemoryObservation: 0.5,
	MemoryTransient:   0.25,
}

// typeRetentionMultiplier scales the half-life per memory type: a
// Significant memory's half-life is longer than a Transient one's.
var typeRetentionMultiplier = map[MemoryType]float64{
	MemorySignificant: 3.0,
	MemoryPreference:  2.0,
	MemoryRoutine:     1.5,
	MemoryObservation: 1.0,
	MemoryTransient:   0.4,
}

// TypeWeight returns the configured type_weight for t, defaulting to the
// Observation weight for an unrecognized type.
func TypeWeight(t MemoryType) float64 {
	if w, ok := typeWeight[t]; ok {
		return w
	}
	return typeWeight[MemoryObservation]
}

// TypeRetentionMultiplier returns the configured type_retention_multiplier
// for t, defaulting to 1.0 for an unrecognized type.
func TypeRetentionMultiplier(t MemoryType) float64 {
	if m, ok := typeRetentionMultiplier[t]; ok {
		return m
	}
	return 1.0
}

// Memory is a durable, retrievable unit of long-term context.
type Memory struct {
	ID             string
	Content        string
	Type           MemoryType
	BaseImportance float64 // base_importance in [0,1]
	Emotion        string
	Participants   []string
	Tags           []string
	Embedding      []float64
	CreatedAt      time.Time
	LastAccessed   time.Time
	AccessCount    int
	Archived       bool
}

// MinimumImportanceFloor is the absolute lower bound on effective
// importance (§3 invariants): an effective_importance never drops below
// this value regardless of decay.
const MinimumImportanceFloor = 0.05

// ArchiveThreshold is the default effective-importance cutoff below which
// the maintenance pass archives a memory (§4.7).
const ArchiveThreshold = 0.10

// DeleteAfterDays is the default retention window for archived memories
// before hard deletion (§4.7).
const DeleteAfterDays = 90

// BaseHalfLifeDays is the default half-life (in days) used in the decay
// formula before the per-type retention multiplier is applied.
const BaseHalfLifeDays = 14.0

// ReinforceIncrement is the configured constant added to base importance
// by Reinforce, saturating at 1.0 (§4.7).
const ReinforceIncrement = 0.15
