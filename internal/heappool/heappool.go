// Package heappool pools *heap.Heap values across script executions, so a
// busy server does not allocate a fresh arena set (and re-run Go's own
// allocator warmup) for every invocation. Grounded on the teacher's
// LuaStatePool (internal/lua/state_pool.go in the source repo this module
// was adapted from): a buffered channel as the free list, a mutex-guarded
// creation counter capping total live heaps, and Put closing over capacity
// instead of blocking.
package heappool

import (
	"sync"

	"luacore/internal/heap"
	"luacore/internal/metrics"
)

// Pool hands out *heap.Heap values up to maxHeaps concurrently live,
// resetting each one (internal/heap.Heap.ResetScript) before it is reused.
type Pool struct {
	heaps   chan *heap.Heap
	maxHeaps int
	newHeap func() *heap.Heap

	mu      sync.Mutex
	created int
	closed  bool
}

// New returns a Pool that lazily creates up to maxHeaps heaps via newHeap
// (typically heap.New with a fixed Limits and an optional metrics.Scripting
// handle already captured in the closure).
func New(maxHeaps int, newHeap func() *heap.Heap) *Pool {
	return &Pool{
		heaps:    make(chan *heap.Heap, maxHeaps),
		maxHeaps: maxHeaps,
		newHeap:  newHeap,
	}
}

// NewWithMetrics is a convenience constructor mirroring heap.New's own
// signature, for callers that don't need a custom newHeap closure.
func NewWithMetrics(maxHeaps int, limits heap.Limits, m *metrics.Scripting) *Pool {
	return New(maxHeaps, func() *heap.Heap { return heap.New(limits, m) })
}

// Get retrieves an idle heap or, if under maxHeaps, creates a new one. It
// blocks if the pool is exhausted and at capacity, mirroring the teacher's
// own backpressure behavior rather than returning an error — a scripting
// server is expected to size maxHeaps against its own concurrency limit and
// let callers queue briefly instead of failing fast.
func (p *Pool) Get() *heap.Heap {
	select {
	case h := <-p.heaps:
		return h
	default:
		p.mu.Lock()
		if p.created < p.maxHeaps {
			p.created++
			h := p.newHeap()
			p.mu.Unlock()
			return h
		}
		p.mu.Unlock()
		return <-p.heaps
	}
}

// Put resets h and returns it to the pool, or drops it if the pool is
// closed or already at capacity.
func (p *Pool) Put(h *heap.Heap) {
	if h == nil {
		return
	}
	h.ResetScript()

	p.mu.Lock()
	if p.closed {
		p.created--
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	select {
	case p.heaps <- h:
	default:
		p.mu.Lock()
		p.created--
		p.mu.Unlock()
	}
}

// Close marks the pool closed; heaps already checked out are reset and
// then dropped, not pooled again, as they are Put back.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	close(p.heaps)
	for range p.heaps {
	}
}
