package memstore

import (
	"math"
	"time"

	"github.com/trfife/barnabeenet/internal/domain"
)

// clamp bounds x to [lo, hi].
func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// DecayFactor computes 0.5^(days_since_access / (base_half_life *
// type_retention_multiplier)) per §3's invariants. Zero elapsed time
// yields a decay factor of exactly 1.0 (identity), matching the
// Round-trip/idempotence property in §8.
func DecayFactor(daysSinceAccess, baseHalfLifeDays float64, t domain.MemoryType) float64 {
	halfLife := baseHalfLifeDays * domain.TypeRetentionMultiplier(t)
	if halfLife <= 0 {
		halfLife = baseHalfLifeDays
	}
	if daysSinceAccess <= 0 {
		return 1.0
	}
	return math.Pow(0.5, daysSinceAccess/halfLife)
}

// AccessBonus computes min(1.0, 0.5 + 0.1*ln(1+access_count)).
func AccessBonus(accessCount int) float64 {
	if accessCount < 0 {
		accessCount = 0
	}
	bonus := 0.5 + 0.1*math.Log(1+float64(accessCount))
	if bonus > 1.0 {
		return 1.0
	}
	return bonus
}

// EffectiveImportance computes
//
//	clamp(minimum_floor, max, base_importance * type_weight * decay_factor * access_bonus)
//
// as of `now`, per §3's invariants. The result never drops below
// domain.MinimumImportanceFloor.
func EffectiveImportance(m domain.Memory, baseHalfLifeDays float64, now time.Time) float64 {
	daysSinceAccess := now.Sub(m.LastAccessed).Hours() / 24
	decay := DecayFactor(daysSinceAccess, baseHalfLifeDays, m.Type)
	bonus := AccessBonus(m.AccessCount)
	raw := m.BaseImportance * domain.TypeWeight(m.Type) * decay * bonus
	return clamp(raw, domain.MinimumImportanceFloor, 1.0)
}

// Reinforce adds domain.ReinforceIncrement to base importance, saturating
// at 1.0. Monotone non-decreasing, per §8's round-trip property.
func Reinforce(baseImportance float64) float64 {
	return clamp(baseImportance+domain.ReinforceIncrement, 0, 1.0)
}
