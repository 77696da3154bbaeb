// Package safety implements the Safety Monitor (C12): a side-channel scan
// for distress/abuse patterns that never alters the user-visible
// response, only raises an alert signal.
package safety

import (
	"context"
	"regexp"

	"github.com/trfife/barnabeenet/internal/extiface"
	"github.com/trfife/barnabeenet/internal/obslog"
)

// Alert describes one Safety Monitor match.
type Alert struct {
	RequestID   string
	Speaker     string
	PatternID   string
	MatchedText string
}

// Monitor scans raw utterances from speakers in a configured "minor" set
// against a list of distress/abuse regexes, grounded on
// internal/authorize/classifier.go's prompt-template pattern-matching
// style (here regex-based rather than model-based, since §4.12 calls for
// "a configurable list of distress/abuse regexes" rather than a model
// call).
type Monitor struct {
	minors   map[string]bool
	patterns []namedPattern
	sink     extiface.NotificationSink
	channel  string
}

type namedPattern struct {
	id string
	re *regexp.Regexp
}

// NewMonitor wires a Monitor against its notification sink and the
// configured minor speaker set. Patterns are added via AddPattern.
func NewMonitor(sink extiface.NotificationSink, channel string, minors []string) *Monitor {
	minorSet := make(map[string]bool, len(minors))
	for _, m := range minors {
		minorSet[m] = true
	}
	return &Monitor{minors: minorSet, sink: sink, channel: channel}
}

// AddPattern registers one distress/abuse regex under id. A malformed
// regex is logged and skipped rather than failing startup.
func (m *Monitor) AddPattern(id, pattern string) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		obslog.Error("safety", "pattern %s disabled, compile error: %v", id, err)
		return
	}
	m.patterns = append(m.patterns, namedPattern{id: id, re: re})
}

// Scan runs in parallel with the selected handler (§4.12) over the raw
// utterance. It is additive and never blocks or alters the response;
// callers invoke it from a sibling goroutine. The returned alert (nil
// when nothing matched) may flag the request, as the Orchestrator does
// for the audit entry's AlertFlag. A Safety Monitor failure is logged only, per
// §4.13's failure policy.
func (m *Monitor) Scan(ctx context.Context, requestID, speaker, rawUtterance string) *Alert {
	if !m.minors[speaker] {
		return nil
	}
	for _, p := range m.patterns {
		if loc := p.re.FindStringIndex(rawUtterance); loc != nil {
			alert := &Alert{
				RequestID:   requestID,
				Speaker:     speaker,
				PatternID:   p.id,
				MatchedText: rawUtterance[loc[0]:loc[1]],
			}
			if m.sink != nil {
				if err := m.sink.Notify(ctx, m.channel, alert.PatternID); err != nil {
					obslog.Error("safety", "notify failed for request %s: %v", requestID, err)
				}
			}
			return alert
		}
	}
	return nil
}
