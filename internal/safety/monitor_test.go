package safety

import (
	"context"
	"errors"
	"testing"
)

type fakeSink struct {
	calls []string
	err   error
}

func (f *fakeSink) Notify(ctx context.Context, channel, payload string) error {
	f.calls = append(f.calls, channel+":"+payload)
	return f.err
}

func TestScanIgnoresNonMinorSpeakers(t *testing.T) {
	sink := &fakeSink{}
	m := NewMonitor(sink, "alerts", []string{"kid1"})
	m.AddPattern("distress", `help me`)

	alert := m.Scan(context.Background(), "req-1", "adult1", "please help me right now")
	if alert != nil {
		t.Fatalf("expected no alert for non-minor speaker, got %+v", alert)
	}
	if len(sink.calls) != 0 {
		t.Fatalf("expected no notification sent")
	}
}

func TestScanMatchesMinorDistress(t *testing.T) {
	sink := &fakeSink{}
	m := NewMonitor(sink, "alerts", []string{"kid1"})
	m.AddPattern("distress", `help me`)

	alert := m.Scan(context.Background(), "req-2", "kid1", "someone please help me")
	if alert == nil {
		t.Fatalf("expected an alert")
	}
	if alert.PatternID != "distress" {
		t.Fatalf("expected distress pattern id, got %s", alert.PatternID)
	}
	if len(sink.calls) != 1 {
		t.Fatalf("expected one notification sent, got %d", len(sink.calls))
	}
}

func TestScanNeverReturnsErrorEvenWhenSinkFails(t *testing.T) {
	sink := &fakeSink{err: errors.New("webhook down")}
	m := NewMonitor(sink, "alerts", []string{"kid1"})
	m.AddPattern("distress", `help me`)

	alert := m.Scan(context.Background(), "req-3", "kid1", "help me please")
	if alert == nil {
		t.Fatalf("expected alert even though sink failed")
	}
}

func TestAddPatternSkipsInvalidRegexWithoutPanicking(t *testing.T) {
	m := NewMonitor(nil, "alerts", []string{"kid1"})
	m.AddPattern("bad", "(unclosed")
	m.AddPattern("good", "scared")
	if alert := m.Scan(context.Background(), "req-4", "kid1", "i am scared"); alert == nil {
		t.Fatalf("expected the valid pattern to still match")
	}
}
