// Package domain holds the core value types shared across the
// classification, memory, handler, and orchestration packages: Request,
// Classification, Pattern, EntityRef, and the supporting enums.
package domain

import "time"

// Request is a single inbound utterance to be processed.
type Request struct {
	ID             string
	Utterance      string
	Speaker        string // opaque speaker identity, empty if unknown
	Room           string // room/device identifier, empty if unknown
	ConversationID string
	Timestamp      time.Time
}

// Intent is the coarse category assigned to an utterance.
type Intent string

const (
	IntentInstant      Intent = "instant"
	IntentAction       Intent = "action"
	IntentQuery        Intent = "query"
	IntentConversation Intent = "conversation"
	IntentMemory       Intent = "memory"
	IntentEmergency    Intent = "emergency"
	IntentGesture      Intent = "gesture"
	IntentUnknown      Intent = "unknown"
)

// ValidIntent reports whether i is one of the declared Intent values.
func ValidIntent(i Intent) bool {
	switch i {
	case IntentInstant, IntentAction, IntentQuery, IntentConversation,
		IntentMemory, IntentEmergency, IntentGesture, IntentUnknown:
		return true
	}
	return false
}

// Source identifies which cascade tier produced a Classification.
type Source string

const (
	SourcePattern   Source = "pattern"
	SourceHeuristic Source = "heuristic"
	SourceModel     Source = "model"
	SourceFallback  Source = "fallback"
)

// Classification is the result of classifying a Request.
type Classification struct {
	Intent        Intent
	SubCategory   string
	Confidence    float64
	Source        Source
	MatchedPatternID string // empty if no pattern matched
}

// FallbackClassification is the canonical degraded result used whenever
// the cascade cannot produce a confident answer within its deadline.
func FallbackClassification() Classification {
	return Classification{
		Intent:      IntentConversation,
		SubCategory: "",
		Confidence:  0.5,
		Source:      SourceFallback,
	}
}

// InRange reports whether the classification's confidence is in [0,1] and
// its intent is one of the declared enum values.
func (c Classification) InRange() bool {
	return c.Confidence >= 0 && c.Confidence <= 1 && ValidIntent(c.Intent)
}

// EntityRef is a resolved reference to an addressable object on the
// smart-home platform. The core never fabricates these; it only queries
// and caches results obtained from SmartHomePlatform.ListEntities /
// GetState.
type EntityRef struct {
	ID          string // platform-native entity id, e.g. "light.kitchen_main"
	DisplayName string
	Area        string
	Domain      string // e.g. light, lock, climate, cover, timer
}

// Response is returned by Process for a single Request.
type Response struct {
	Text      string
	Intent    Intent
	Handler   string
	LatencyMS int64
	TraceID   string
	// Volume overrides the speaker's default playback volume for this
	// response when a matched override rule's response_volume mutation
	// applies (§6); nil means "use the default volume."
	Volume *float64
}
