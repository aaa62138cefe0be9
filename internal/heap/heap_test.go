package heap

import (
	"errors"
	"testing"

	"luacore/internal/luaerr"
	"luacore/internal/value"
)

func TestStringInterning(t *testing.T) {
	h := New(Limits{}, nil)
	a := h.CreateString([]byte("hello"))
	b := h.CreateString([]byte("hello"))
	c := h.CreateString([]byte("world"))

	if a.H != b.H {
		t.Fatalf("equal byte strings got different handles: %v vs %v", a, b)
	}
	if a.H == c.H {
		t.Fatalf("distinct byte strings got the same handle")
	}
}

func TestRawSetRawGetRoundTrip(t *testing.T) {
	h := New(Limits{}, nil)
	th := h.CreateTable(0, 0)
	tbl, err := h.GetTableMut(th)
	if err != nil {
		t.Fatalf("GetTableMut: %v", err)
	}

	key := value.Number(1)
	val := value.Number(42)
	tbl.RawSet(key, val)

	got := tbl.RawGet(key)
	if got.AsNumber() != 42 {
		t.Fatalf("RawGet = %v, want 42", got.AsNumber())
	}
}

func TestArrayPartNoTrailingHoles(t *testing.T) {
	h := New(Limits{}, nil)
	th := h.CreateTable(4, 0)
	tbl, _ := h.GetTableMut(th)

	for i := 1; i <= 5; i++ {
		tbl.RawSet(value.Number(float64(i)), value.Number(float64(i*i)))
	}
	if tbl.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", tbl.Len())
	}

	tbl.RawSet(value.Number(5), value.Nil)
	if tbl.Len() != 4 {
		t.Fatalf("Len() after removing tail = %d, want 4", tbl.Len())
	}
}

func TestStaleHandleAfterTableArenaReset(t *testing.T) {
	h := New(Limits{}, nil)
	th := h.CreateTable(0, 0)
	h.ResetScript()

	_, err := h.GetTable(th)
	var staleErr *luaerr.Error
	if !errors.As(err, &staleErr) || staleErr.Kind != luaerr.KindStaleHandle {
		t.Fatalf("GetTable after ResetScript = %v, want StaleHandle error", err)
	}
}

func TestMemoryLimitTriggersResourceExhausted(t *testing.T) {
	h := New(Limits{MaxMemoryBytes: 1}, nil)
	err := h.chargeBytes(1000)
	var luaErr *luaerr.Error
	if !errors.As(err, &luaErr) || luaErr.Kind != luaerr.KindResourceExhausted || luaErr.Resource != luaerr.ResourceMemory {
		t.Fatalf("chargeBytes over limit = %v, want ResourceExhausted{memory}", err)
	}
}

func TestInstructionLimitTriggersResourceExhausted(t *testing.T) {
	h := New(Limits{MaxInstructions: 2}, nil)
	if err := h.ChargeInstruction(); err != nil {
		t.Fatalf("first ChargeInstruction: %v", err)
	}
	if err := h.ChargeInstruction(); err != nil {
		t.Fatalf("second ChargeInstruction: %v", err)
	}
	err := h.ChargeInstruction()
	var luaErr *luaerr.Error
	if !errors.As(err, &luaErr) || luaErr.Resource != luaerr.ResourceInstructions {
		t.Fatalf("third ChargeInstruction = %v, want ResourceExhausted{instructions}", err)
	}
}

func TestTableNextVisitsEveryKeyOnce(t *testing.T) {
	h := New(Limits{}, nil)
	th := h.CreateTable(0, 4)
	tbl, _ := h.GetTableMut(th)

	aKey := value.String(h.CreateString([]byte("a")))
	bKey := value.String(h.CreateString([]byte("b")))
	tbl.RawSet(aKey, value.Number(1))
	tbl.RawSet(bKey, value.Number(2))
	tbl.RawSet(value.Number(1), value.Number(99))

	seen := map[string]bool{}
	key := value.Nil
	for {
		k, _, done, err := tbl.Next(key)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if done {
			break
		}
		switch k.Kind() {
		case value.KindNumber:
			seen["num"] = true
		case value.KindString:
			seen["str:"+mustStr(t, h, k)] = true
		}
		key = k
	}

	for _, want := range []string{"num", "str:a", "str:b"} {
		if !seen[want] {
			t.Fatalf("Next traversal never visited %q, seen=%v", want, seen)
		}
	}
}

func mustStr(t *testing.T, h *Heap, v value.Value) string {
	t.Helper()
	ls, err := h.GetString(v.AsStringHandle())
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	return ls.String()
}

func TestCreateClosureRejectsUpvalueCountMismatch(t *testing.T) {
	h := New(Limits{}, nil)
	ph := h.CreateProto(&FunctionProto{Upvalues: []UpvalDesc{{InStack: true, Index: 0}}})

	_, err := h.CreateClosure(ph, nil)
	if err == nil {
		t.Fatalf("CreateClosure with mismatched upvalue count succeeded, want error")
	}
}
