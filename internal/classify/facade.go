package classify

import (
	"context"
	"time"

	"github.com/trfife/barnabeenet/internal/domain"
)

// Thresholds bundles the tiered cascade's confidence gates and its total
// deadline, independent of the model call's own deadline (§4.5).
type Thresholds struct {
	PatternThreshold   float64
	HeuristicThreshold float64
	ModelEnabled       bool
	TotalDeadline      time.Duration
}

// DefaultThresholds returns the spec-mandated defaults: pattern 0.85,
// heuristic 0.7, model enabled, and a 2s total deadline that callers
// normally replace with their own cascade budget via WithThresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PatternThreshold:   0.85,
		HeuristicThreshold: 0.7,
		ModelEnabled:       true,
		TotalDeadline:      2 * time.Second,
	}
}

// modelExemptIntents are intents the Heuristic Classifier may already be
// confident enough about that a model call adds nothing — matches the
// retrieval-exempt set's rationale of not spending network budget on
// intents that are already fast-served.
var modelExemptIntents = map[domain.Intent]bool{
	domain.IntentEmergency: true,
	domain.IntentInstant:   true,
	domain.IntentGesture:   true,
}

// Facade is the Classifier Facade (C5): a single classify operation that
// sequences Pattern -> Heuristic -> Model under one deadline.
//
// This component has no single grounding file — no teacher file performs
// a tiered cascade with an explicit deadline this way — but its shape
// follows directly from internal/reflex's Level tiering (§4.2) composed
// with internal/executive's context.Context deadline idiom and
// internal/budget's notion of a hard resource ceiling.
type Facade struct {
	pattern    *PatternMatcher
	heuristic  *Heuristic
	model      *Model
	thresholds Thresholds
}

// NewFacade wires the three tiers and the default thresholds.
func NewFacade(pattern *PatternMatcher, heuristic *Heuristic, model *Model) *Facade {
	return &Facade{
		pattern:    pattern,
		heuristic:  heuristic,
		model:      model,
		thresholds: DefaultThresholds(),
	}
}

func (f *Facade) WithThresholds(t Thresholds) *Facade {
	f.thresholds = t
	return f
}

// Classify runs the cascade. If the total deadline elapses before any
// tier returns a confident result, it returns the canonical fallback
// classification exactly as spec.md §4.5 mandates.
func (f *Facade) Classify(ctx context.Context, normalized string) domain.Classification {
	ctx, cancel := context.WithTimeout(ctx, f.thresholds.TotalDeadline)
	defer cancel()

	result := make(chan domain.Classification, 1)
	go func() {
		result <- f.cascade(ctx, normalized)
	}()

	select {
	case c := <-result:
		return c
	case <-ctx.Done():
		return domain.FallbackClassification()
	}
}

func (f *Facade) cascade(ctx context.Context, normalized string) domain.Classification {
	if f.pattern != nil {
		if c, ok := f.pattern.Match(normalized); ok && c.Confidence >= f.thresholds.PatternThreshold {
			return c
		}
	}

	var heuristicResult domain.Classification
	if f.heuristic != nil {
		heuristicResult = f.heuristic.Classify(normalized)
		if heuristicResult.Confidence >= f.thresholds.HeuristicThreshold {
			return heuristicResult
		}
	}

	if f.thresholds.ModelEnabled && f.model != nil && !modelExemptIntents[heuristicResult.Intent] {
		if c, ok := f.model.Classify(ctx, normalized); ok {
			return c
		}
	}

	if heuristicResult.Intent != "" {
		return heuristicResult
	}
	return domain.FallbackClassification()
}
