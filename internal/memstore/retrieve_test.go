package memstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/trfife/barnabeenet/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *fakeVectorIndex) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	idx := newFakeVectorIndex()
	store, err := NewStore(db, idx, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, idx
}

func TestCreateThenRetrieveRoundTrip(t *testing.T) {
	store, idx := newTestStore(t)
	embedder := newFakeEmbedder(16)
	ctx := context.Background()

	emb, _ := embedder.Embed(ctx, "favorite color is blue")
	m := domain.Memory{
		ID:             "mem-1",
		Content:        "favorite color is blue",
		Type:           domain.MemoryPreference,
		BaseImportance: 0.8,
		Participants:   []string{"alice"},
		Embedding:      emb,
		CreatedAt:      time.Now(),
		LastAccessed:   time.Now(),
	}
	if err := store.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := idx.Upsert(ctx, m.ID, ToFloat32(emb)); err != nil {
		t.Fatalf("index upsert: %v", err)
	}

	r := NewRetriever(store, idx, embedder)
	results, err := r.Retrieve(ctx, "favorite color is blue", 1, Filters{})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 1 || results[0].Memory.ID != "mem-1" {
		t.Fatalf("expected top hit mem-1, got %+v", results)
	}
}

func TestSoftDeleteExcludesFromRetrieval(t *testing.T) {
	store, idx := newTestStore(t)
	embedder := newFakeEmbedder(16)
	ctx := context.Background()

	emb, _ := embedder.Embed(ctx, "the dentist appointment is tuesday")
	m := domain.Memory{
		ID: "mem-2", Content: "dentist tuesday", Type: domain.MemoryRoutine,
		BaseImportance: 0.6, Embedding: emb, CreatedAt: time.Now(), LastAccessed: time.Now(),
	}
	if err := store.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}
	idx.Upsert(ctx, m.ID, ToFloat32(emb))

	if err := store.SoftDelete(ctx, "mem-2", "user requested forget"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	r := NewRetriever(store, idx, embedder)
	results, err := r.Retrieve(ctx, "dentist tuesday", 5, Filters{})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	for _, res := range results {
		if res.Memory.ID == "mem-2" {
			t.Fatalf("soft-deleted memory mem-2 returned by retrieve")
		}
	}
}

func TestReinforceIsMonotone(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	m := domain.Memory{ID: "mem-3", Content: "x", Type: domain.MemoryObservation, BaseImportance: 0.3,
		CreatedAt: time.Now(), LastAccessed: time.Now()}
	if err := store.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	prev := 0.3
	for i := 0; i < 10; i++ {
		if err := store.Reinforce(ctx, "mem-3"); err != nil {
			t.Fatalf("reinforce: %v", err)
		}
		got, _, _ := store.Get(ctx, "mem-3")
		if got.BaseImportance < prev {
			t.Fatalf("reinforce decreased importance: %v -> %v", prev, got.BaseImportance)
		}
		prev = got.BaseImportance
	}
}

func TestRetrieveDisabledIntents(t *testing.T) {
	for _, intent := range []domain.Intent{domain.IntentInstant, domain.IntentGesture, domain.IntentEmergency} {
		if !RetrievalExempt[intent] {
			t.Errorf("expected %s to be retrieval-exempt", intent)
		}
	}
	if RetrievalExempt[domain.IntentConversation] {
		t.Errorf("conversation should not be retrieval-exempt")
	}
}
