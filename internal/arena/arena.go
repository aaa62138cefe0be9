// Package arena implements a generational slab allocator. Every dynamic Lua
// object (string, table, closure, upvalue, prototype, thread) is owned by an
// Arena of the matching kind and referred to only through a Handle, never a
// native pointer, so the heap can detect use-after-free without a tracing
// collector.
package arena

import "fmt"

// Handle is a value-sized token that refers to a slot in an Arena. It
// dereferences only if Gen still matches the slot's current generation.
// Handle is intentionally a plain struct of two uint32s: it is Copy, carries
// no ownership, and is cheap to pass around or store in a Value.
type Handle struct {
	Index uint32
	Gen   uint32
}

// Zero reports whether h is the unset handle (index and generation both 0).
// Arena never hands out this value from Insert, so it safely doubles as a
// sentinel for "no handle" in callers that embed Handle by value.
func (h Handle) Zero() bool {
	return h.Index == 0 && h.Gen == 0
}

// StaleHandleError is returned whenever a Handle's generation no longer
// matches the slot it names — the universal use-after-free guard described
// in the arena's design.
type StaleHandleError struct {
	Handle Handle
}

func (e *StaleHandleError) Error() string {
	return fmt.Sprintf("arena: stale handle (index=%d gen=%d)", e.Handle.Index, e.Handle.Gen)
}

type slot[T any] struct {
	gen    uint32
	occupied bool
	value  T
}

// Arena is a slab allocator for exactly one object kind. Removing a slot
// bumps its generation immediately and pushes the index onto the free list,
// so a stale Handle captured before the removal will always fail Get rather
// than silently observing a different, later object in the same slot.
type Arena[T any] struct {
	slots    []slot[T]
	freeList []uint32
	live     int
}

// New returns an empty Arena with capacity preallocated for hint objects.
func New[T any](hint int) *Arena[T] {
	return &Arena[T]{slots: make([]slot[T], 0, hint)}
}

// Insert stores v in a free (or newly appended) slot and returns its Handle.
func (a *Arena[T]) Insert(v T) Handle {
	if n := len(a.freeList); n > 0 {
		idx := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		s := &a.slots[idx]
		s.value = v
		s.occupied = true
		a.live++
		return Handle{Index: idx, Gen: s.gen}
	}
	idx := uint32(len(a.slots))
	a.slots = append(a.slots, slot[T]{gen: 1, occupied: true, value: v})
	a.live++
	return Handle{Index: idx, Gen: 1}
}

func (a *Arena[T]) resolve(h Handle) (*slot[T], error) {
	if int(h.Index) >= len(a.slots) {
		return nil, &StaleHandleError{Handle: h}
	}
	s := &a.slots[h.Index]
	if !s.occupied || s.gen != h.Gen {
		return nil, &StaleHandleError{Handle: h}
	}
	return s, nil
}

// Get returns the live value named by h, or a *StaleHandleError.
func (a *Arena[T]) Get(h Handle) (T, error) {
	s, err := a.resolve(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.value, nil
}

// GetMut returns a pointer into the slot so the caller can mutate the value
// in place without a second lookup, or a *StaleHandleError.
func (a *Arena[T]) GetMut(h Handle) (*T, error) {
	s, err := a.resolve(h)
	if err != nil {
		return nil, err
	}
	return &s.value, nil
}

// Remove deletes the object named by h, bumping its slot's generation so any
// other copy of h becomes stale, and returns the removed value.
func (a *Arena[T]) Remove(h Handle) (T, error) {
	s, err := a.resolve(h)
	if err != nil {
		var zero T
		return zero, err
	}
	v := s.value
	var zero T
	s.value = zero
	s.occupied = false
	s.gen++
	a.freeList = append(a.freeList, h.Index)
	a.live--
	return v, nil
}

// Len returns the number of live objects.
func (a *Arena[T]) Len() int { return a.live }

// Iter calls fn for every live (Handle, value) pair. Iteration order is slot
// order, which is stable across calls as long as nothing is inserted or
// removed concurrently with the iteration — the arena has no internal
// synchronization of its own, matching the single-script-at-a-time model.
func (a *Arena[T]) Iter(fn func(Handle, *T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.occupied {
			continue
		}
		if !fn(Handle{Index: uint32(i), Gen: s.gen}, &s.value) {
			return
		}
	}
}

// Reset empties the arena, releasing every slot to the free list and bumping
// the generation of each occupied one, so handles taken before the reset stay
// stale even after their slot is reused. Used at script boundaries to give a
// bounded per-script footprint without a tracing collector.
func (a *Arena[T]) Reset() {
	var zero T
	a.freeList = a.freeList[:0]
	for i := len(a.slots) - 1; i >= 0; i-- {
		s := &a.slots[i]
		if s.occupied {
			s.value = zero
			s.occupied = false
			s.gen++
		}
		a.freeList = append(a.freeList, uint32(i))
	}
	a.live = 0
}
