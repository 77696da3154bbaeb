package memstore

import (
	"context"
	"sort"
)

// fakeVectorIndex is a linear-scan VectorIndex used by tests so they don't
// depend on the cgo sqlite-vec extension.
type fakeVectorIndex struct {
	vectors map[string][]float32
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{vectors: make(map[string][]float32)}
}

func (f *fakeVectorIndex) Upsert(_ context.Context, id string, embedding []float32) error {
	f.vectors[id] = embedding
	return nil
}

func (f *fakeVectorIndex) Delete(_ context.Context, id string) error {
	delete(f.vectors, id)
	return nil
}

func (f *fakeVectorIndex) Search(_ context.Context, query []float32, topN int) ([]VectorMatch, error) {
	type scored struct {
		id  string
		sim float64
	}
	var all []scored
	for id, v := range f.vectors {
		all = append(all, scored{id: id, sim: cosine32(query, v)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	if topN > 0 && len(all) > topN {
		all = all[:topN]
	}
	out := make([]VectorMatch, len(all))
	for i, s := range all {
		out[i] = VectorMatch{ID: s.id, Similarity: s.sim}
	}
	return out, nil
}

func cosine32(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	af := make([]float64, len(a))
	bf := make([]float64, len(b))
	for i := range a {
		af[i] = float64(a[i])
		bf[i] = float64(b[i])
	}
	return CosineSimilarity(af, bf)
}
