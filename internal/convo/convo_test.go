package convo

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/trfife/barnabeenet/internal/extiface"
)

type fakeSummarizer struct{ calls int }

func (f *fakeSummarizer) Summarize(ctx context.Context, turns []Turn) (string, error) {
	f.calls++
	return "summary of " + strconv.Itoa(len(turns)) + " turns", nil
}

type fakeSummarizerLM struct {
	response string
	err      error
}

func (f *fakeSummarizerLM) Complete(ctx context.Context, req extiface.CompletionRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeSummarizerLM) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, errors.New("fakeSummarizerLM: Embed not used in convo tests")
}

func TestAppendKeepsTurnsUnderHighWaterMark(t *testing.T) {
	c := NewContext(&fakeSummarizer{}).WithLimits(1000, 3)
	for i := 0; i < 3; i++ {
		if err := c.Append(context.Background(), "conv-1", Turn{Speaker: "alice", Text: "hi"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if len(c.Window("conv-1")) != 3 {
		t.Fatalf("expected 3 turns retained, got %d", len(c.Window("conv-1")))
	}
}

func TestAppendSummarizesPastHighWaterMark(t *testing.T) {
	summarizer := &fakeSummarizer{}
	c := NewContext(summarizer).WithLimits(10, 2)
	longText := strings.Repeat("word ", 20)
	for i := 0; i < 6; i++ {
		if err := c.Append(context.Background(), "conv-2", Turn{Speaker: "alice", Text: longText}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if summarizer.calls == 0 {
		t.Fatalf("expected summarizer to be invoked")
	}
	window := c.Window("conv-2")
	if len(window) == 0 {
		t.Fatalf("expected non-empty window after summarization")
	}
	if window[0].Speaker != "system" {
		t.Fatalf("expected leading summary turn, got speaker %s", window[0].Speaker)
	}
	if len(window) > 2+1 {
		t.Fatalf("expected window bounded to keep-tail+summary, got %d turns", len(window))
	}
}

func TestWindowOnUnknownConversationIsEmpty(t *testing.T) {
	c := NewContext(nil)
	if got := c.Window("never-seen"); got != nil {
		t.Fatalf("expected nil window, got %+v", got)
	}
}

func TestModelSummarizerReturnsTrimmedCompletion(t *testing.T) {
	lm := &fakeSummarizerLM{response: "  they asked about the kitchen lights  \n"}
	s := NewModelSummarizer(lm)
	summary, err := s.Summarize(context.Background(), []Turn{{Speaker: "alice", Text: "turn on the kitchen lights"}})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary != "they asked about the kitchen lights" {
		t.Fatalf("expected trimmed summary, got %q", summary)
	}
}

func TestModelSummarizerPropagatesCompletionError(t *testing.T) {
	s := NewModelSummarizer(&fakeSummarizerLM{err: errors.New("model unavailable")})
	if _, err := s.Summarize(context.Background(), []Turn{{Speaker: "alice", Text: "hi"}}); err == nil {
		t.Fatalf("expected error from failing completion")
	}
}

func TestModelSummarizerWithNilLanguageModelFails(t *testing.T) {
	s := NewModelSummarizer(nil)
	if _, err := s.Summarize(context.Background(), []Turn{{Speaker: "alice", Text: "hi"}}); err == nil {
		t.Fatalf("expected error with no language model configured")
	}
}

func TestContextWithModelSummarizerStillSummarizesPastHighWaterMark(t *testing.T) {
	lm := &fakeSummarizerLM{response: "condensed"}
	c := NewContext(NewModelSummarizer(lm)).WithLimits(10, 2)
	longText := strings.Repeat("word ", 20)
	for i := 0; i < 6; i++ {
		if err := c.Append(context.Background(), "conv-3", Turn{Speaker: "alice", Text: longText}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	window := c.Window("conv-3")
	if len(window) == 0 || window[0].Text != "condensed" {
		t.Fatalf("expected leading condensed summary turn, got %+v", window)
	}
}
