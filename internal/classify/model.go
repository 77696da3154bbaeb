package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/trfife/barnabeenet/internal/domain"
	"github.com/trfife/barnabeenet/internal/extiface"
	"github.com/trfife/barnabeenet/internal/obslog"
)

// modelResponse is the strict JSON shape the classification prompt asks
// the model to return.
type modelResponse struct {
	Intent      string  `json:"intent"`
	Confidence  float64 `json:"confidence"`
	SubCategory string  `json:"sub_category"`
}

// DefaultModelDeadline is the per-call hard deadline from §4.4.
const DefaultModelDeadline = 500 * time.Millisecond

// Model is the Model Classifier (C4): an optional network call to a
// language model, bounded by a hard deadline and fail-soft on any error.
//
// Grounded on internal/embedding/ollama.go's HTTP client shape
// (timeout-bound client, JSON request/response, cache at the collaborator
// level) and internal/authorize/classifier.go's prompt-template +
// strict-parse + fail-soft pattern (ClassifyText degrades to a safe
// default and logs, never propagates the error upward).
type Model struct {
	lm       extiface.LanguageModel
	deadline time.Duration
}

// NewModel wires a Model Classifier against a LanguageModel collaborator.
func NewModel(lm extiface.LanguageModel) *Model {
	return &Model{lm: lm, deadline: DefaultModelDeadline}
}

func (m *Model) WithDeadline(d time.Duration) *Model {
	m.deadline = d
	return m
}

const classificationPromptTemplate = `Classify the following smart-home assistant utterance into exactly one
intent from this set: instant, action, query, conversation, memory,
emergency, gesture, unknown.

Respond with strict JSON only, no prose, in this exact shape:
{"intent": "<intent>", "confidence": <0..1>, "sub_category": "<short tag or empty string>"}

Utterance:
%s`

// Classify calls the model with a compact classification prompt under
// m.deadline. On timeout, network error, malformed output, or
// out-of-range confidence it fails soft, returning (zero value, false) —
// never an error. Callers fall back to domain.FallbackClassification().
func (m *Model) Classify(ctx context.Context, normalized string) (domain.Classification, bool) {
	if m.lm == nil {
		return domain.Classification{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, m.deadline)
	defer cancel()

	prompt := fmt.Sprintf(classificationPromptTemplate, normalized)
	raw, err := m.lm.Complete(ctx, extiface.CompletionRequest{Prompt: prompt, Deadline: m.deadline})
	if err != nil {
		obslog.Error("classify", "model call failed: %v", err)
		return domain.Classification{}, false
	}

	var resp modelResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &resp); err != nil {
		obslog.Error("classify", "model returned malformed JSON: %v", err)
		return domain.Classification{}, false
	}

	intent := domain.Intent(strings.ToLower(strings.TrimSpace(resp.Intent)))
	if !domain.ValidIntent(intent) {
		obslog.Error("classify", "model returned invalid intent %q", resp.Intent)
		return domain.Classification{}, false
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		obslog.Error("classify", "model returned out-of-range confidence %v", resp.Confidence)
		return domain.Classification{}, false
	}

	return domain.Classification{
		Intent:      intent,
		SubCategory: resp.SubCategory,
		Confidence:  resp.Confidence,
		Source:      domain.SourceModel,
	}, true
}
