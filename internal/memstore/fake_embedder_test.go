package memstore

import (
	"context"
	"strings"
)

// fakeEmbedder produces a cheap deterministic bag-of-words embedding so
// retrieval tests can assert on similarity ordering without a network
// call.
type fakeEmbedder struct {
	vocab map[string]int
	dims  int
}

func newFakeEmbedder(dims int) *fakeEmbedder {
	return &fakeEmbedder{vocab: make(map[string]int), dims: dims}
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, f.dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		idx, ok := f.vocab[w]
		if !ok {
			idx = len(f.vocab) % f.dims
			f.vocab[w] = idx
		}
		vec[idx] += 1
	}
	return vec, nil
}
