package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/trfife/barnabeenet/internal/domain"
)

func TestGetMissingReturnsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, ok, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected not found")
	}
}

func TestSoftDeleteIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	m := domain.Memory{ID: "mem-4", Content: "x", Type: domain.MemoryObservation, BaseImportance: 0.4,
		CreatedAt: time.Now(), LastAccessed: time.Now()}
	if err := store.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.SoftDelete(ctx, "mem-4", "first"); err != nil {
		t.Fatalf("soft delete 1: %v", err)
	}
	if err := store.SoftDelete(ctx, "mem-4", "second"); err != nil {
		t.Fatalf("soft delete 2: %v", err)
	}
	got, ok, err := store.Get(ctx, "mem-4")
	if err != nil || !ok {
		t.Fatalf("get after delete: %v %v", ok, err)
	}
	if !got.Archived {
		t.Fatalf("expected archived=true")
	}
}

func TestSoftDeleteUnknownIDIsNoop(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.SoftDelete(context.Background(), "ghost", "reason"); err != nil {
		t.Fatalf("soft delete unknown id should not error: %v", err)
	}
}

func TestLoadAndFilterBySpeakerAndType(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	memos := []domain.Memory{
		{ID: "a", Content: "a", Type: domain.MemoryPreference, BaseImportance: 0.5, Participants: []string{"alice"}, CreatedAt: now, LastAccessed: now},
		{ID: "b", Content: "b", Type: domain.MemoryRoutine, BaseImportance: 0.5, Participants: []string{"bob"}, CreatedAt: now, LastAccessed: now},
		{ID: "c", Content: "c", Type: domain.MemoryPreference, BaseImportance: 0.5, Participants: []string{"alice", "bob"}, CreatedAt: now, LastAccessed: now},
	}
	for _, m := range memos {
		if err := store.Create(ctx, m); err != nil {
			t.Fatalf("create %s: %v", m.ID, err)
		}
	}

	got, err := store.loadAndFilter(ctx, []string{"a", "b", "c"}, Filters{Speaker: "alice", Type: domain.MemoryPreference})
	if err != nil {
		t.Fatalf("loadAndFilter: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(got), got)
	}
}

func TestRunMaintenanceArchivesWeakAndPurgesStale(t *testing.T) {
	store, idx := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	fresh := domain.Memory{
		ID: "fresh", Content: "fresh", Type: domain.MemorySignificant, BaseImportance: 0.9,
		CreatedAt: now, LastAccessed: now,
	}
	weak := domain.Memory{
		ID: "weak", Content: "weak", Type: domain.MemoryTransient, BaseImportance: 0.01,
		CreatedAt: now.AddDate(0, 0, -60), LastAccessed: now.AddDate(0, 0, -60),
	}
	for _, m := range []domain.Memory{fresh, weak} {
		if err := store.Create(ctx, m); err != nil {
			t.Fatalf("create %s: %v", m.ID, err)
		}
	}

	archiveThreshold, deleteAfterDays, halfLife := DefaultMaintenanceParams()
	result, err := store.RunMaintenance(ctx, archiveThreshold, deleteAfterDays, halfLife)
	if err != nil {
		t.Fatalf("run maintenance: %v", err)
	}
	if result.Scanned != 2 {
		t.Fatalf("expected 2 scanned, got %d", result.Scanned)
	}
	if result.Archived != 1 {
		t.Fatalf("expected 1 archived, got %d", result.Archived)
	}

	got, ok, err := store.Get(ctx, "weak")
	if err != nil || !ok {
		t.Fatalf("get weak: %v %v", ok, err)
	}
	if !got.Archived {
		t.Fatalf("expected weak memory archived")
	}

	stillFresh, ok, err := store.Get(ctx, "fresh")
	if err != nil || !ok {
		t.Fatalf("get fresh: %v %v", ok, err)
	}
	if stillFresh.Archived {
		t.Fatalf("did not expect fresh memory to be archived")
	}

	// Force weak past the purge cutoff and rerun maintenance to exercise purge.
	_, err = store.db.ExecContext(ctx, `UPDATE memories SET last_accessed = ? WHERE id = ?`,
		now.AddDate(0, 0, -(deleteAfterDays+1)), "weak")
	if err != nil {
		t.Fatalf("backdate weak: %v", err)
	}
	result2, err := store.RunMaintenance(ctx, archiveThreshold, deleteAfterDays, halfLife)
	if err != nil {
		t.Fatalf("run maintenance 2: %v", err)
	}
	if result2.Purged != 1 {
		t.Fatalf("expected 1 purged, got %d", result2.Purged)
	}
	if _, ok, _ := store.Get(ctx, "weak"); ok {
		t.Fatalf("expected weak memory purged from store")
	}
	if _, stillIndexed := idx.vectors["weak"]; stillIndexed {
		t.Fatalf("expected weak memory removed from vector index")
	}
}
