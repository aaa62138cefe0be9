package opqueue

import "testing"

func TestPushPopIsLIFO(t *testing.T) {
	q := New()
	q.Push(Operation{Kind: KindReturn})
	q.Push(Operation{Kind: KindFunctionCall})

	op, ok := q.Pop()
	if !ok || op.Kind != KindFunctionCall {
		t.Fatalf("Pop = (%v, %v), want (KindFunctionCall, true)", op.Kind, ok)
	}
	op, ok = q.Pop()
	if !ok || op.Kind != KindReturn {
		t.Fatalf("Pop = (%v, %v), want (KindReturn, true)", op.Kind, ok)
	}
}

func TestPopOnEmptyQueue(t *testing.T) {
	q := New()
	_, ok := q.Pop()
	if ok {
		t.Fatalf("Pop on empty queue reported ok=true")
	}
}

func TestEmptyAndLen(t *testing.T) {
	q := New()
	if !q.Empty() || q.Len() != 0 {
		t.Fatalf("new queue not empty: empty=%v len=%d", q.Empty(), q.Len())
	}
	q.Push(Operation{Kind: KindReturn})
	if q.Empty() || q.Len() != 1 {
		t.Fatalf("after push: empty=%v len=%d, want false,1", q.Empty(), q.Len())
	}
}
