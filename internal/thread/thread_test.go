package thread

import (
	"testing"

	"luacore/internal/value"
)

func TestPushPopOrder(t *testing.T) {
	th := New(4)
	th.Push(value.Number(1))
	th.Push(value.Number(2))

	if got := th.Pop(); got.AsNumber() != 2 {
		t.Fatalf("Pop = %v, want 2", got.AsNumber())
	}
	if got := th.Pop(); got.AsNumber() != 1 {
		t.Fatalf("Pop = %v, want 1", got.AsNumber())
	}
}

func TestGetBeyondTopIsNil(t *testing.T) {
	th := New(4)
	th.Push(value.Number(1))
	if !th.Get(5).IsNil() {
		t.Fatalf("Get beyond top should be Nil")
	}
}

func TestSetGrowsStack(t *testing.T) {
	th := New(1)
	th.Set(3, value.Number(9))
	if th.Top() != 4 {
		t.Fatalf("Top() = %d, want 4", th.Top())
	}
	for i := 0; i < 3; i++ {
		if !th.Get(i).IsNil() {
			t.Fatalf("Get(%d) = %v, want Nil padding", i, th.Get(i))
		}
	}
	if th.Get(3).AsNumber() != 9 {
		t.Fatalf("Get(3) = %v, want 9", th.Get(3))
	}
}

func TestTruncate(t *testing.T) {
	th := New(4)
	for i := 0; i < 5; i++ {
		th.Push(value.Number(float64(i)))
	}
	th.Truncate(2)
	if th.Top() != 2 {
		t.Fatalf("Top() after Truncate(2) = %d, want 2", th.Top())
	}
	// Truncate to a larger size than current must be a no-op, not a grow.
	th.Truncate(10)
	if th.Top() != 2 {
		t.Fatalf("Truncate(10) on a shorter stack grew it to %d", th.Top())
	}
}

func TestFrameChain(t *testing.T) {
	th := New(4)
	th.PushFrame(Frame{Base: 0})
	th.PushFrame(Frame{Base: 3})

	if th.Depth() != 2 {
		t.Fatalf("Depth() = %d, want 2", th.Depth())
	}
	if th.CurrentFrame().Base != 3 {
		t.Fatalf("CurrentFrame().Base = %d, want 3", th.CurrentFrame().Base)
	}

	popped := th.PopFrame()
	if popped.Base != 3 {
		t.Fatalf("PopFrame().Base = %d, want 3", popped.Base)
	}
	if th.CurrentFrame().Base != 0 {
		t.Fatalf("CurrentFrame().Base after pop = %d, want 0", th.CurrentFrame().Base)
	}
}

func TestResetClearsEverything(t *testing.T) {
	th := New(4)
	th.Push(value.Number(1))
	th.PushFrame(Frame{Base: 0})
	th.SetInitialBase(2)
	th.Status = StatusError

	th.Reset()

	if th.Top() != 0 || th.Depth() != 0 || th.Status != StatusRunning || th.InitialBase() != 0 {
		t.Fatalf("Reset left stale state: top=%d depth=%d status=%v base=%d",
			th.Top(), th.Depth(), th.Status, th.InitialBase())
	}
}
