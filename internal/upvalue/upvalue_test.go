package upvalue

import (
	"testing"

	"luacore/internal/heap"
	"luacore/internal/value"
)

func TestFindOrCreateReturnsSameHandleForSameSlot(t *testing.T) {
	h := heap.New(heap.Limits{}, nil)
	m := New(h)
	th := h.Roots.Main

	a, err := m.FindOrCreateOpen(th, 3)
	if err != nil {
		t.Fatalf("FindOrCreateOpen: %v", err)
	}
	b, err := m.FindOrCreateOpen(th, 3)
	if err != nil {
		t.Fatalf("FindOrCreateOpen: %v", err)
	}
	if a != b {
		t.Fatalf("FindOrCreateOpen for the same slot returned different handles: %v vs %v", a, b)
	}
}

func TestOpenListStaysDecreasing(t *testing.T) {
	h := heap.New(heap.Limits{}, nil)
	m := New(h)
	th := h.Roots.Main

	for _, idx := range []int{2, 7, 4, 1, 9} {
		if _, err := m.FindOrCreateOpen(th, idx); err != nil {
			t.Fatalf("FindOrCreateOpen(%d): %v", idx, err)
		}
	}

	indices, err := m.OpenStackIndices(th)
	if err != nil {
		t.Fatalf("OpenStackIndices: %v", err)
	}
	for i := 1; i < len(indices); i++ {
		if indices[i-1] <= indices[i] {
			t.Fatalf("open list not strictly decreasing: %v", indices)
		}
	}
}

func TestCloseToLiftsValueAndRemovesFromList(t *testing.T) {
	h := heap.New(heap.Limits{}, nil)
	m := New(h)
	thHandle := h.Roots.Main
	tt, err := h.GetThread(thHandle)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	tt.Set(5, value.Number(123))

	uh, err := m.FindOrCreateOpen(thHandle, 5)
	if err != nil {
		t.Fatalf("FindOrCreateOpen: %v", err)
	}

	if err := m.CloseTo(thHandle, tt.Get, 5); err != nil {
		t.Fatalf("CloseTo: %v", err)
	}

	// Mutating the stack slot after closing must not affect the upvalue.
	tt.Set(5, value.Number(999))

	got, err := m.Read(tt, uh)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.AsNumber() != 123 {
		t.Fatalf("Read after close = %v, want 123 (captured at close time)", got.AsNumber())
	}

	if m.OpenCount(thHandle) != 0 {
		t.Fatalf("OpenCount after CloseTo(threshold<=index) = %d, want 0", m.OpenCount(thHandle))
	}
}

func TestCloseToRespectsThreshold(t *testing.T) {
	h := heap.New(heap.Limits{}, nil)
	m := New(h)
	thHandle := h.Roots.Main
	tt, _ := h.GetThread(thHandle)

	low, err := m.FindOrCreateOpen(thHandle, 2)
	if err != nil {
		t.Fatalf("FindOrCreateOpen: %v", err)
	}
	_, err = m.FindOrCreateOpen(thHandle, 8)
	if err != nil {
		t.Fatalf("FindOrCreateOpen: %v", err)
	}

	if err := m.CloseTo(thHandle, tt.Get, 5); err != nil {
		t.Fatalf("CloseTo: %v", err)
	}

	if m.OpenCount(thHandle) != 1 {
		t.Fatalf("OpenCount after partial close = %d, want 1", m.OpenCount(thHandle))
	}
	indices, _ := m.OpenStackIndices(thHandle)
	if len(indices) != 1 || indices[0] != 2 {
		t.Fatalf("remaining open upvalue has index %v, want [2]", indices)
	}
	_ = low
}

func TestReadWriteDispatchByState(t *testing.T) {
	h := heap.New(heap.Limits{}, nil)
	m := New(h)
	thHandle := h.Roots.Main
	tt, _ := h.GetThread(thHandle)

	uh, err := m.FindOrCreateOpen(thHandle, 1)
	if err != nil {
		t.Fatalf("FindOrCreateOpen: %v", err)
	}
	if err := m.Write(tt, uh, value.Number(7)); err != nil {
		t.Fatalf("Write (open): %v", err)
	}
	if got := tt.Get(1); got.AsNumber() != 7 {
		t.Fatalf("Write(open) did not reach the stack slot: got %v", got.AsNumber())
	}

	if err := m.CloseTo(thHandle, tt.Get, 1); err != nil {
		t.Fatalf("CloseTo: %v", err)
	}
	if err := m.Write(tt, uh, value.Number(8)); err != nil {
		t.Fatalf("Write (closed): %v", err)
	}
	tt.Set(1, value.Number(999)) // must not affect the closed upvalue anymore
	got, err := m.Read(tt, uh)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.AsNumber() != 8 {
		t.Fatalf("Read(closed) = %v, want 8", got.AsNumber())
	}
}
