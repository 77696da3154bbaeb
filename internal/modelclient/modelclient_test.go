package modelclient

import (
	"context"
	"errors"
	"testing"
)

type fakeEmbedder struct {
	dims      int
	lastText  string
	embedding []float64
	err       error
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	f.lastText = text
	if f.err != nil {
		return nil, f.err
	}
	return f.embedding, nil
}

func TestEmbedDelegatesToConfiguredEmbedder(t *testing.T) {
	emb := &fakeEmbedder{dims: 3, embedding: []float64{0.1, 0.2, 0.3}}
	c := New(emb)

	got, err := c.Embed(context.Background(), "kitchen light")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if emb.lastText != "kitchen light" {
		t.Fatalf("expected the embedder to receive the given text, got %q", emb.lastText)
	}
	if len(got) != 3 || got[0] != 0.1 {
		t.Fatalf("unexpected embedding: %v", got)
	}
}

func TestEmbedPropagatesEmbedderError(t *testing.T) {
	emb := &fakeEmbedder{dims: 3, err: errors.New("boom")}
	c := New(emb)

	if _, err := c.Embed(context.Background(), "anything"); err == nil {
		t.Fatalf("expected the embedder's error to propagate")
	}
}

func TestNewAppliesOptions(t *testing.T) {
	emb := &fakeEmbedder{dims: 3}
	c := New(emb, WithModel("claude-3-5-sonnet-latest"), WithSystemPrompt("be terse"))

	if c.model != "claude-3-5-sonnet-latest" {
		t.Fatalf("expected model option to apply, got %q", c.model)
	}
	if c.systemPrompt != "be terse" {
		t.Fatalf("expected system prompt option to apply, got %q", c.systemPrompt)
	}
}

func TestNewDefaultsModelWhenUnset(t *testing.T) {
	emb := &fakeEmbedder{dims: 3}
	c := New(emb)

	if c.model != DefaultModel {
		t.Fatalf("expected default model, got %q", c.model)
	}
}
