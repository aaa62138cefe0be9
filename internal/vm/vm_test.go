package vm

import (
	"testing"

	"luacore/internal/bytecode"
	"luacore/internal/exec"
	"luacore/internal/heap"
	"luacore/internal/value"
)

type stubHost struct {
	logs []string
}

func (s *stubHost) Call(cmd string, args [][]byte) (exec.Reply, error)  { return exec.Reply{}, nil }
func (s *stubHost) PCall(cmd string, args [][]byte) (exec.Reply, error) { return exec.Reply{}, nil }
func (s *stubHost) Log(level int, msg string)                           { s.logs = append(s.logs, msg) }

func newTestVM(t *testing.T) (*VM, *heap.Heap) {
	t.Helper()
	h := heap.New(heap.Limits{MaxInstructions: 100000, MaxMemoryBytes: 1 << 20}, nil)
	m, err := New(h, &stubHost{}, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, h
}

func num(n float64) value.Value { return value.Number(n) }

func TestArithmeticPrecedence(t *testing.T) {
	// return 2 + 3 * 4
	m, h := newTestVM(t)
	proto := &heap.FunctionProto{
		Constants:    []value.Value{num(3), num(4), num(2)},
		MaxStackSize: 2,
		Code: []uint32{
			uint32(bytecode.EncodeABx(bytecode.OpLoadK, 0, 0)), // R0 = K(3)
			uint32(bytecode.EncodeABx(bytecode.OpLoadK, 1, 1)), // R1 = K(4)
			uint32(bytecode.Encode(bytecode.OpMul, 0, 0, 1)),   // R0 = R0*R1 = 12
			uint32(bytecode.EncodeABx(bytecode.OpLoadK, 1, 2)), // R1 = K(2)
			uint32(bytecode.Encode(bytecode.OpAdd, 0, 1, 0)),   // R0 = R1+R0 = 14
			uint32(bytecode.Encode(bytecode.OpReturn, 0, 2, 0)),
		},
	}
	ph := h.CreateProto(proto)

	result, err := m.Run(ph, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Kind() != value.KindNumber || result.AsNumber() != 14 {
		t.Fatalf("result = %+v, want 14", result)
	}
}

func TestForLoopSum(t *testing.T) {
	// local s = 0; for i = 1, 5 do s = s + i end; return s
	m, h := newTestVM(t)
	proto := &heap.FunctionProto{
		Constants:    []value.Value{num(0), num(1), num(5)},
		MaxStackSize: 5,
		Code: []uint32{
			uint32(bytecode.EncodeABx(bytecode.OpLoadK, 0, 0)),     // R0 = 0
			uint32(bytecode.EncodeABx(bytecode.OpLoadK, 1, 1)),     // R1 = 1 (init)
			uint32(bytecode.EncodeABx(bytecode.OpLoadK, 2, 2)),     // R2 = 5 (limit)
			uint32(bytecode.EncodeABx(bytecode.OpLoadK, 3, 1)),     // R3 = 1 (step)
			uint32(bytecode.EncodeAsBx(bytecode.OpForPrep, 1, 1)),  // -> FORLOOP
			uint32(bytecode.Encode(bytecode.OpAdd, 0, 0, 4)),       // s = s + i
			uint32(bytecode.EncodeAsBx(bytecode.OpForLoop, 1, -2)), // -> body
			uint32(bytecode.Encode(bytecode.OpReturn, 0, 2, 0)),
		},
	}
	ph := h.CreateProto(proto)

	result, err := m.Run(ph, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.AsNumber() != 15 {
		t.Fatalf("sum = %v, want 15", result.AsNumber())
	}
}

func TestClosureSharedUpvalue(t *testing.T) {
	// local function make_counter()
	//   local n = 0
	//   return function() n = n + 1; return n end
	// end
	m, h := newTestVM(t)

	inner := &heap.FunctionProto{
		Constants:    []value.Value{num(1)},
		MaxStackSize: 2,
		Upvalues:     []heap.UpvalDesc{{InStack: true, Index: 0}},
		Code: []uint32{
			uint32(bytecode.Encode(bytecode.OpGetUpval, 0, 0, 0)),
			uint32(bytecode.EncodeABx(bytecode.OpLoadK, 1, 0)),
			uint32(bytecode.Encode(bytecode.OpAdd, 0, 0, 1)),
			uint32(bytecode.Encode(bytecode.OpSetUpval, 0, 0, 0)),
			uint32(bytecode.Encode(bytecode.OpGetUpval, 0, 0, 0)),
			uint32(bytecode.Encode(bytecode.OpReturn, 0, 2, 0)),
		},
	}
	innerHandle := h.CreateProto(inner)

	outer := &heap.FunctionProto{
		Constants:    []value.Value{num(0)},
		MaxStackSize: 2,
		Protos:       []value.ProtoHandle{innerHandle},
		Code: []uint32{
			uint32(bytecode.EncodeABx(bytecode.OpLoadK, 0, 0)),
			uint32(bytecode.EncodeABx(bytecode.OpClosure, 1, 0)),
			uint32(bytecode.Encode(bytecode.OpReturn, 1, 2, 0)),
		},
	}
	outerHandle := h.CreateProto(outer)

	counterFn, err := m.Run(outerHandle, nil)
	if err != nil {
		t.Fatalf("Run(outer): %v", err)
	}
	if counterFn.Kind() != value.KindClosure {
		t.Fatalf("make_counter() returned %v, want a closure", counterFn.Kind())
	}

	for i, want := range []float64{1, 2, 3} {
		results, err := m.callSync(counterFn, nil)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if len(results) != 1 || results[0].AsNumber() != want {
			t.Fatalf("call %d = %v, want %v", i, results, want)
		}
	}
}

func TestNestedLuaCall(t *testing.T) {
	// local function add(a, b) return a + b end
	// return add(2, 3)
	m, h := newTestVM(t)

	callee := &heap.FunctionProto{
		NumParams:    2,
		MaxStackSize: 2,
		Code: []uint32{
			uint32(bytecode.Encode(bytecode.OpAdd, 0, 0, 1)),
			uint32(bytecode.Encode(bytecode.OpReturn, 0, 2, 0)),
		},
	}
	calleeHandle := h.CreateProto(callee)

	caller := &heap.FunctionProto{
		Constants:    []value.Value{num(2), num(3)},
		MaxStackSize: 4,
		Protos:       []value.ProtoHandle{calleeHandle},
		Code: []uint32{
			uint32(bytecode.EncodeABx(bytecode.OpClosure, 0, 0)),
			uint32(bytecode.EncodeABx(bytecode.OpLoadK, 1, 0)),
			uint32(bytecode.EncodeABx(bytecode.OpLoadK, 2, 1)),
			uint32(bytecode.Encode(bytecode.OpCall, 0, 3, 2)),
			uint32(bytecode.Encode(bytecode.OpReturn, 0, 2, 0)),
		},
	}
	callerHandle := h.CreateProto(caller)

	result, err := m.Run(callerHandle, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.AsNumber() != 5 {
		t.Fatalf("result = %v, want 5", result.AsNumber())
	}
}

func TestContextCallPropagatesNativeError(t *testing.T) {
	m, _ := newTestVM(t)

	failing := value.CFunc(func(ctx any) (int, error) {
		return 0, errTestNative
	})

	_, err := m.callSync(failing, nil)
	if err != errTestNative {
		t.Fatalf("err = %v, want %v", err, errTestNative)
	}
}

func TestTableRawGetSetThroughIndex(t *testing.T) {
	m, h := newTestVM(t)
	th := h.CreateTable(0, 4)
	key := value.String(h.CreateString([]byte("x")))

	if err := m.NewIndex(value.Table(th), key, num(42)); err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	got, err := m.Index(value.Table(th), key)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if got.AsNumber() != 42 {
		t.Fatalf("got %v, want 42", got.AsNumber())
	}
}

func TestIndexMetamethodFunctionForm(t *testing.T) {
	m, h := newTestVM(t)
	base := h.CreateTable(0, 0)
	meta := h.CreateTable(0, 1)

	indexFn := value.CFunc(func(ctxAny any) (int, error) {
		ctx := ctxAny.(interface {
			PushResult(value.Value)
		})
		ctx.PushResult(num(99))
		return 1, nil
	})
	metaTable, _ := h.GetTableMut(meta)
	metaTable.RawSet(value.String(h.CreateString([]byte("__index"))), indexFn)

	baseTable, _ := h.GetTableMut(base)
	baseTable.SetMetatable(meta)

	got, err := m.Index(value.Table(base), value.String(h.CreateString([]byte("missing"))))
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if got.AsNumber() != 99 {
		t.Fatalf("got %v, want 99 via __index function", got.AsNumber())
	}
}

var errTestNative = &testErr{"native failure"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
