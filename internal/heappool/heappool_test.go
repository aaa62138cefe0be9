package heappool

import (
	"testing"

	"luacore/internal/heap"
)

func TestPoolReusesHeapsUpToCapacity(t *testing.T) {
	created := 0
	pool := New(2, func() *heap.Heap {
		created++
		return heap.New(heap.Limits{}, nil)
	})

	a := pool.Get()
	b := pool.Get()
	if created != 2 {
		t.Fatalf("created = %d, want 2 heaps created to satisfy two Gets", created)
	}

	pool.Put(a)
	pool.Put(b)

	c := pool.Get()
	if created != 2 {
		t.Fatalf("created = %d, want no new heap allocated once two are idle", created)
	}
	pool.Put(c)
}

func TestPoolPutResetsHeap(t *testing.T) {
	pool := New(1, func() *heap.Heap { return heap.New(heap.Limits{}, nil) })

	h := pool.Get()
	before := h.Roots.Globals
	h.CreateTable(0, 4) // grow the table arena so Reset has something to undo

	pool.Put(h)
	h2 := pool.Get()
	if h2 != h {
		t.Fatal("expected the same heap back from a pool of capacity 1")
	}
	if h2.Roots.Globals == before {
		t.Error("ResetScript should have replaced Roots.Globals with a fresh table handle")
	}
}

func TestPoolCloseDrainsIdleHeaps(t *testing.T) {
	pool := New(1, func() *heap.Heap { return heap.New(heap.Limits{}, nil) })
	h := pool.Get()
	pool.Put(h)
	pool.Close()
}
