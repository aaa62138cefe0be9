// Package upvalue implements the open-upvalue list maintained per thread:
// find-or-create for a given stack slot, and close-to-threshold when a
// frame's register window leaves scope. This is the component that lets
// sibling closures share a single captured variable.
package upvalue

import (
	"sort"

	"luacore/internal/heap"
	"luacore/internal/thread"
	"luacore/internal/value"
)

// Manager tracks, for each live thread, the list of open upvalues ordered
// by strictly decreasing stack index (the invariant asserted in
// SPEC_FULL.md §8 property 3).
type Manager struct {
	h    *heap.Heap
	open map[value.ThreadHandle][]value.UpvalueHandle
}

// New returns a Manager backed by h.
func New(h *heap.Heap) *Manager {
	return &Manager{h: h, open: make(map[value.ThreadHandle][]value.UpvalueHandle)}
}

// FindOrCreateOpen returns the open upvalue already referencing
// (th, stackIndex) if one exists, or allocates and registers a new one.
func (m *Manager) FindOrCreateOpen(th value.ThreadHandle, stackIndex int) (value.UpvalueHandle, error) {
	list := m.open[th]
	for _, uh := range list {
		uv, err := m.h.GetUpvalue(uh)
		if err != nil {
			return value.UpvalueHandle{}, err
		}
		if uv.State == heap.UpvalueOpen && uv.StackIndex == stackIndex {
			return uh, nil
		}
	}

	uh := m.h.CreateOpenUpvalue(th, stackIndex)

	// Insert preserving strictly-decreasing-by-stack-index order.
	pos := sort.Search(len(list), func(i int) bool {
		uv, err := m.h.GetUpvalue(list[i])
		if err != nil {
			return true
		}
		return uv.StackIndex < stackIndex
	})
	list = append(list, value.UpvalueHandle{})
	copy(list[pos+1:], list[pos:])
	list[pos] = uh
	m.open[th] = list

	return uh, nil
}

// CloseTo closes every open upvalue on th whose stack index is >=
// threshold, walking from the highest index downward so closure order is
// observable (a closed upvalue captures the value at the moment of
// closing; later stack mutations never affect it).
func (m *Manager) CloseTo(th value.ThreadHandle, stackGet func(int) value.Value, threshold int) error {
	list := m.open[th]
	if len(list) == 0 {
		return nil
	}

	keep := list[:0:0]
	for _, uh := range list {
		uv, err := m.h.GetUpvalue(uh)
		if err != nil {
			return err
		}
		if uv.State != heap.UpvalueOpen || uv.StackIndex < threshold {
			keep = append(keep, uh)
			continue
		}
		uv.Value = stackGet(uv.StackIndex)
		uv.State = heap.UpvalueClosed
	}
	m.open[th] = keep
	return nil
}

// Read returns the upvalue's current value, dereferencing through the live
// stack slot if still Open.
func (m *Manager) Read(t *thread.Thread, uh value.UpvalueHandle) (value.Value, error) {
	uv, err := m.h.GetUpvalue(uh)
	if err != nil {
		return value.Value{}, err
	}
	if uv.State == heap.UpvalueOpen {
		return t.Get(uv.StackIndex), nil
	}
	return uv.Value, nil
}

// Write stores v through the upvalue, dispatching on its Open/Closed state.
func (m *Manager) Write(t *thread.Thread, uh value.UpvalueHandle, v value.Value) error {
	uv, err := m.h.GetUpvalue(uh)
	if err != nil {
		return err
	}
	if uv.State == heap.UpvalueOpen {
		t.Set(uv.StackIndex, v)
		return nil
	}
	uv.Value = v
	return nil
}

// Forget drops a thread's bookkeeping entirely, called when the thread
// itself is being discarded (script boundary reset).
func (m *Manager) Forget(th value.ThreadHandle) {
	delete(m.open, th)
}

// OpenCount reports how many upvalues are open for th — exposed for tests
// asserting the monotonicity and uniqueness invariants.
func (m *Manager) OpenCount(th value.ThreadHandle) int {
	return len(m.open[th])
}

// OpenStackIndices returns the stack indices of th's open upvalues in their
// stored (strictly decreasing) order, for invariant assertions in tests.
func (m *Manager) OpenStackIndices(th value.ThreadHandle) ([]int, error) {
	list := m.open[th]
	out := make([]int, 0, len(list))
	for _, uh := range list {
		uv, err := m.h.GetUpvalue(uh)
		if err != nil {
			return nil, err
		}
		out = append(out, uv.StackIndex)
	}
	return out, nil
}
