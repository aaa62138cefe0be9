package arena

import (
	"errors"
	"testing"
)

func TestInsertGetRoundTrip(t *testing.T) {
	a := New[string](4)
	h := a.Insert("hello")

	got, err := a.Get(h)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got != "hello" {
		t.Fatalf("Get = %q, want %q", got, "hello")
	}
}

func TestRemoveThenGetIsStale(t *testing.T) {
	a := New[int](4)
	h := a.Insert(42)

	if _, err := a.Remove(h); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}

	_, err := a.Get(h)
	var staleErr *StaleHandleError
	if !errors.As(err, &staleErr) {
		t.Fatalf("Get after Remove = %v, want *StaleHandleError", err)
	}
}

func TestSlotReuseBumpsGeneration(t *testing.T) {
	a := New[int](1)
	h1 := a.Insert(1)
	if _, err := a.Remove(h1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	h2 := a.Insert(2)

	if h1.Index != h2.Index {
		t.Fatalf("expected slot reuse, got indices %d and %d", h1.Index, h2.Index)
	}
	if h1.Gen == h2.Gen {
		t.Fatalf("expected generation bump on reuse, both are %d", h1.Gen)
	}

	// The old handle must stay stale even though the slot is occupied again.
	if _, err := a.Get(h1); err == nil {
		t.Fatalf("Get(h1) succeeded after slot reuse, want StaleHandleError")
	}
	v, err := a.Get(h2)
	if err != nil || v != 2 {
		t.Fatalf("Get(h2) = (%v, %v), want (2, nil)", v, err)
	}
}

func TestGetMutMutatesInPlace(t *testing.T) {
	a := New[int](1)
	h := a.Insert(10)

	p, err := a.GetMut(h)
	if err != nil {
		t.Fatalf("GetMut: %v", err)
	}
	*p += 5

	got, _ := a.Get(h)
	if got != 15 {
		t.Fatalf("Get after GetMut mutation = %d, want 15", got)
	}
}

func TestIterVisitsOnlyLiveSlots(t *testing.T) {
	a := New[int](4)
	h1 := a.Insert(1)
	_ = a.Insert(2)
	h3 := a.Insert(3)
	if _, err := a.Remove(h1); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	seen := map[uint32]int{}
	a.Iter(func(h Handle, v *int) bool {
		seen[h.Index] = *v
		return true
	})

	if len(seen) != 2 {
		t.Fatalf("Iter visited %d slots, want 2", len(seen))
	}
	if _, ok := seen[h1.Index]; ok {
		// h1's slot was removed and not reused, so iteration must skip it.
		t.Fatalf("Iter visited removed slot %d: seen=%v", h1.Index, seen)
	}
	if v, ok := seen[h3.Index]; !ok || v != 3 {
		t.Fatalf("Iter missing live handle h3: seen=%v", seen)
	}
}

func TestLenTracksLiveCount(t *testing.T) {
	a := New[int](4)
	if a.Len() != 0 {
		t.Fatalf("Len on empty arena = %d, want 0", a.Len())
	}
	h := a.Insert(1)
	a.Insert(2)
	if a.Len() != 2 {
		t.Fatalf("Len = %d, want 2", a.Len())
	}
	if _, err := a.Remove(h); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if a.Len() != 1 {
		t.Fatalf("Len after Remove = %d, want 1", a.Len())
	}
}

func TestResetClearsArena(t *testing.T) {
	a := New[int](4)
	h := a.Insert(1)
	a.Reset()

	if a.Len() != 0 {
		t.Fatalf("Len after Reset = %d, want 0", a.Len())
	}
	if _, err := a.Get(h); err == nil {
		t.Fatalf("Get succeeded after Reset, want error")
	}
}

func TestZeroHandle(t *testing.T) {
	var h Handle
	if !h.Zero() {
		t.Fatalf("zero-value Handle.Zero() = false, want true")
	}
	a := New[int](1)
	real := a.Insert(1)
	if real.Zero() {
		t.Fatalf("Insert returned the zero Handle")
	}
}
