package classify

import (
	"regexp"
	"strings"

	"github.com/trfife/barnabeenet/internal/domain"
)

// commandVerbs is the small set of imperative verbs that signal an
// Action intent when they open the utterance.
var commandVerbs = map[string]bool{
	"turn": true, "set": true, "dim": true, "brighten": true, "open": true,
	"close": true, "lock": true, "unlock": true, "start": true, "stop": true,
	"play": true, "pause": true, "switch": true, "raise": true, "lower": true,
}

// whWords is the interrogative set that signals a Query intent when the
// utterance opens with one.
var whWords = map[string]bool{
	"what": true, "where": true, "when": true, "who": true, "why": true, "how": true,
}

var trailingQuestionMark = regexp.MustCompile(`\?\s*$`)

var memoryKeywordPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bremember\b`),
	regexp.MustCompile(`(?i)\bforget\b`),
	regexp.MustCompile(`(?i)^what\s+is\s+my\b`),
}

// Heuristic is the Heuristic Classifier (C3): an ordered, short-circuit
// rule list run only when the Pattern Matcher misses.
//
// Grounded on memory-service/pkg/filter/dialogueact.go's
// ClassifyDialogueAct (ordered rule checks with regex-backed predicates,
// terminal fallback), generalized to the spec's verb-form / interrogative
// / memory-keyword / fallback rules over the Intent enum.
type Heuristic struct{}

// NewHeuristic constructs the stateless Heuristic Classifier.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Classify applies the ordered rules to normalized text, producing a
// confidence in [0.5, 0.8] per §4.3. It never fails; the fallback rule
// always fires last.
func (h *Heuristic) Classify(normalized string) domain.Classification {
	text := strings.TrimSpace(normalized)
	if text == "" {
		return h.fallback()
	}

	if matchesAny(memoryKeywordPatterns, text) {
		return domain.Classification{Intent: domain.IntentMemory, Confidence: 0.75, Source: domain.SourceHeuristic}
	}

	first := firstToken(text)
	if commandVerbs[first] {
		return domain.Classification{Intent: domain.IntentAction, Confidence: 0.7, Source: domain.SourceHeuristic}
	}

	if whWords[first] || trailingQuestionMark.MatchString(text) {
		return domain.Classification{Intent: domain.IntentQuery, Confidence: 0.65, Source: domain.SourceHeuristic}
	}

	return h.fallback()
}

func (h *Heuristic) fallback() domain.Classification {
	return domain.Classification{Intent: domain.IntentConversation, Confidence: 0.5, Source: domain.SourceHeuristic}
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
