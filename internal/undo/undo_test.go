package undo

import "testing"

func TestRingEvictsOldestPastDepth(t *testing.T) {
	r := NewRing(2)
	r.Push(Slot{EntityID: "light.a"})
	r.Push(Slot{EntityID: "light.b"})
	r.Push(Slot{EntityID: "light.c"})

	first, ok := r.Pop()
	if !ok || first.EntityID != "light.c" {
		t.Fatalf("expected most recent push light.c, got %+v ok=%v", first, ok)
	}
	second, ok := r.Pop()
	if !ok || second.EntityID != "light.b" {
		t.Fatalf("expected light.b (light.a evicted), got %+v ok=%v", second, ok)
	}
	if _, ok := r.Pop(); ok {
		t.Fatalf("expected ring empty after two pops")
	}
}

func TestRingDepthClampedToOne(t *testing.T) {
	r := NewRing(0)
	r.Push(Slot{EntityID: "x"})
	r.Push(Slot{EntityID: "y"})
	if len(r.slots) != 1 {
		t.Fatalf("expected depth clamped to 1, got %d slots", len(r.slots))
	}
}

func TestManagerIsolatesPerConversation(t *testing.T) {
	m := NewManager(5)
	m.Push("conv-a", Slot{EntityID: "light.a"})
	m.Push("conv-b", Slot{EntityID: "light.b"})

	a, ok := m.Pop("conv-a")
	if !ok || a.EntityID != "light.a" {
		t.Fatalf("expected conv-a's slot, got %+v", a)
	}
	if _, ok := m.Pop("conv-a"); ok {
		t.Fatalf("expected conv-a ring now empty")
	}
	b, ok := m.Pop("conv-b")
	if !ok || b.EntityID != "light.b" {
		t.Fatalf("expected conv-b's slot, got %+v", b)
	}
}
