package vm

import (
	"math"
	"strconv"

	"luacore/internal/bytecode"
	"luacore/internal/heap"
	"luacore/internal/luaerr"
	"luacore/internal/opqueue"
	"luacore/internal/thread"
	"luacore/internal/value"
)

// rk dereferences an RK-encoded operand: a constant-pool index when its top
// bit is set, otherwise a register relative to frame.Base.
func (vm *VM) rk(frame *thread.Frame, proto *heap.FunctionProto, operand int) value.Value {
	if bytecode.IsConstant(operand) {
		return proto.Constants[bytecode.ConstantIndex(operand)]
	}
	return vm.Th.Get(frame.Base + operand)
}

// metatableOf returns v's metatable, if v is a table with one set.
func (vm *VM) metatableOf(v value.Value) (*heap.Table, bool, error) {
	if v.Kind() != value.KindTable {
		return nil, false, nil
	}
	t, err := vm.H.GetTable(v.AsTableHandle())
	if err != nil {
		return nil, false, err
	}
	mh, ok := t.Metatable()
	if !ok {
		return nil, false, nil
	}
	mt, err := vm.H.GetTable(mh)
	if err != nil {
		return nil, false, err
	}
	return mt, true, nil
}

// metamethodOf looks up event (e.g. "__index") on v's metatable.
func (vm *VM) metamethodOf(v value.Value, event string) (value.Value, bool, error) {
	mt, ok, err := vm.metatableOf(v)
	if err != nil || !ok {
		return value.Nil, false, err
	}
	key := value.String(vm.H.CreateString([]byte(event)))
	fn := mt.RawGet(key)
	if fn.IsNil() {
		return value.Nil, false, nil
	}
	return fn, true, nil
}

// Index implements the metamethod-aware table read used by GETTABLE and
// GETGLOBAL: a raw hit short-circuits, a miss on a table consults __index
// (function or chained table), and any other kind requires __index outright.
func (vm *VM) Index(t value.Value, key value.Value) (value.Value, error) {
	cur := t
	for depth := 0; depth < MaxIndexChainDepth; depth++ {
		if cur.Kind() == value.KindTable {
			table, err := vm.H.GetTable(cur.AsTableHandle())
			if err != nil {
				return value.Nil, err
			}
			raw := table.RawGet(key)
			if !raw.IsNil() {
				return raw, nil
			}
			handler, ok, err := vm.metamethodOf(cur, "__index")
			if err != nil {
				return value.Nil, err
			}
			if !ok {
				return value.Nil, nil
			}
			if handler.Kind() == value.KindTable {
				cur = handler
				continue
			}
			results, err := vm.callSync(handler, []value.Value{cur, key})
			if err != nil {
				return value.Nil, err
			}
			return first(results), nil
		}

		handler, ok, err := vm.metamethodOf(cur, "__index")
		if err != nil {
			return value.Nil, err
		}
		if !ok {
			return value.Nil, luaerr.IndexError("attempt to index a %s value", cur.Kind())
		}
		if handler.Kind() == value.KindTable {
			cur = handler
			continue
		}
		results, err := vm.callSync(handler, []value.Value{cur, key})
		if err != nil {
			return value.Nil, err
		}
		return first(results), nil
	}
	return value.Nil, luaerr.IndexError("'__index' chain too long; possible loop")
}

// NewIndex implements the metamethod-aware table write used by SETTABLE
// and SETGLOBAL.
func (vm *VM) NewIndex(t value.Value, key value.Value, v value.Value) error {
	cur := t
	for depth := 0; depth < MaxIndexChainDepth; depth++ {
		if cur.Kind() == value.KindTable {
			table, err := vm.H.GetTableMut(cur.AsTableHandle())
			if err != nil {
				return err
			}
			if !table.RawGet(key).IsNil() {
				table.RawSet(key, v)
				return nil
			}
			handler, ok, err := vm.metamethodOf(cur, "__newindex")
			if err != nil {
				return err
			}
			if !ok {
				if key.IsNil() {
					return luaerr.TypeError("table index is nil")
				}
				table.RawSet(key, v)
				return nil
			}
			if handler.Kind() == value.KindTable {
				cur = handler
				continue
			}
			_, err = vm.callSync(handler, []value.Value{cur, key, v})
			return err
		}

		handler, ok, err := vm.metamethodOf(cur, "__newindex")
		if err != nil {
			return err
		}
		if !ok {
			return luaerr.IndexError("attempt to index a %s value", cur.Kind())
		}
		if handler.Kind() == value.KindTable {
			cur = handler
			continue
		}
		_, err = vm.callSync(handler, []value.Value{cur, key, v})
		return err
	}
	return luaerr.IndexError("'__newindex' chain too long; possible loop")
}

func first(vs []value.Value) value.Value {
	if len(vs) == 0 {
		return value.Nil
	}
	return vs[0]
}

// arithEvent maps an opcode to its metamethod name for the non-numeric
// fallback path.
func arithEvent(op bytecode.Op) string {
	switch op {
	case bytecode.OpAdd:
		return "__add"
	case bytecode.OpSub:
		return "__sub"
	case bytecode.OpMul:
		return "__mul"
	case bytecode.OpDiv:
		return "__div"
	case bytecode.OpMod:
		return "__mod"
	case bytecode.OpPow:
		return "__pow"
	default:
		return ""
	}
}

// execArith implements ADD/SUB/MUL/DIV/MOD/POW A B C: R(A) = RK(B) op
// RK(C). Both numeric operands compute directly; otherwise the matching
// metamethod is resolved from either operand's metatable.
func (vm *VM) execArith(frame *thread.Frame, proto *heap.FunctionProto, op bytecode.Op, a, b, c int) error {
	x := vm.rk(frame, proto, b)
	y := vm.rk(frame, proto, c)

	if x.Kind() == value.KindNumber && y.Kind() == value.KindNumber {
		result, err := arithNumeric(op, x.AsNumber(), y.AsNumber())
		if err != nil {
			return err
		}
		vm.Th.Set(frame.Base+a, value.Number(result))
		return nil
	}

	event := arithEvent(op)
	handler, ok, err := vm.metamethodOf(x, event)
	if err != nil {
		return err
	}
	if !ok {
		handler, ok, err = vm.metamethodOf(y, event)
		if err != nil {
			return err
		}
	}
	if !ok {
		return luaerr.ArithmeticError("attempt to perform arithmetic on a %s value", mismatchedKind(x, y))
	}
	results, err := vm.callSync(handler, []value.Value{x, y})
	if err != nil {
		return err
	}
	vm.Th.Set(frame.Base+a, first(results))
	return nil
}

func mismatchedKind(x, y value.Value) value.Kind {
	if x.Kind() != value.KindNumber {
		return x.Kind()
	}
	return y.Kind()
}

func arithNumeric(op bytecode.Op, x, y float64) (float64, error) {
	switch op {
	case bytecode.OpAdd:
		return x + y, nil
	case bytecode.OpSub:
		return x - y, nil
	case bytecode.OpMul:
		return x * y, nil
	case bytecode.OpDiv:
		return x / y, nil
	case bytecode.OpMod:
		m := math.Mod(x, y)
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return m, nil
	case bytecode.OpPow:
		return math.Pow(x, y), nil
	default:
		return 0, luaerr.TypeError("unsupported arithmetic opcode %v", op)
	}
}

// execUnm implements UNM A B: R(A) = -R(B).
func (vm *VM) execUnm(frame *thread.Frame, a, b int) error {
	x := vm.Th.Get(frame.Base + b)
	if x.Kind() == value.KindNumber {
		vm.Th.Set(frame.Base+a, value.Number(-x.AsNumber()))
		return nil
	}
	handler, ok, err := vm.metamethodOf(x, "__unm")
	if err != nil {
		return err
	}
	if !ok {
		return luaerr.ArithmeticError("attempt to perform arithmetic on a %s value", x.Kind())
	}
	results, err := vm.callSync(handler, []value.Value{x, x})
	if err != nil {
		return err
	}
	vm.Th.Set(frame.Base+a, first(results))
	return nil
}

// execLen implements LEN A B: R(A) = #R(B). Strings use their byte length,
// tables use Table.Len unless __len is set.
func (vm *VM) execLen(frame *thread.Frame, a, b int) error {
	x := vm.Th.Get(frame.Base + b)
	switch x.Kind() {
	case value.KindString:
		s, err := vm.H.GetString(x.AsStringHandle())
		if err != nil {
			return err
		}
		vm.Th.Set(frame.Base+a, value.Number(float64(len(s.Bytes))))
		return nil
	case value.KindTable:
		handler, ok, err := vm.metamethodOf(x, "__len")
		if err != nil {
			return err
		}
		if ok {
			results, err := vm.callSync(handler, []value.Value{x})
			if err != nil {
				return err
			}
			vm.Th.Set(frame.Base+a, first(results))
			return nil
		}
		t, err := vm.H.GetTable(x.AsTableHandle())
		if err != nil {
			return err
		}
		vm.Th.Set(frame.Base+a, value.Number(float64(t.Len())))
		return nil
	default:
		return luaerr.TypeError("attempt to get length of a %s value", x.Kind())
	}
}

// execConcat implements CONCAT A B C: R(A) = R(B) .. R(B+1) .. ... .. R(C).
// Numbers are converted with Lua's %.14g-equivalent rendering; any other
// non-string operand requires __concat on one of the two values being
// folded at that step.
func (vm *VM) execConcat(frame *thread.Frame, a, b, c int) error {
	acc := vm.Th.Get(frame.Base + c)
	for i := c - 1; i >= b; i-- {
		left := vm.Th.Get(frame.Base + i)
		next, err := vm.concatPair(left, acc)
		if err != nil {
			return err
		}
		acc = next
	}
	vm.Th.Set(frame.Base+a, acc)
	return nil
}

func (vm *VM) concatPair(left, right value.Value) (value.Value, error) {
	ls, lok := vm.concatString(left)
	rs, rok := vm.concatString(right)
	if lok && rok {
		return value.String(vm.H.CreateString([]byte(ls + rs))), nil
	}
	handler, ok, err := vm.metamethodOf(left, "__concat")
	if err != nil {
		return value.Nil, err
	}
	if !ok {
		handler, ok, err = vm.metamethodOf(right, "__concat")
		if err != nil {
			return value.Nil, err
		}
	}
	if !ok {
		return value.Nil, luaerr.TypeError("attempt to concatenate a %s value", mismatchedConcatKind(left, right))
	}
	results, err := vm.callSync(handler, []value.Value{left, right})
	if err != nil {
		return value.Nil, err
	}
	return first(results), nil
}

func mismatchedConcatKind(left, right value.Value) value.Kind {
	if left.Kind() != value.KindString && left.Kind() != value.KindNumber {
		return left.Kind()
	}
	return right.Kind()
}

func (vm *VM) concatString(v value.Value) (string, bool) {
	switch v.Kind() {
	case value.KindString:
		s, err := vm.H.GetString(v.AsStringHandle())
		if err != nil {
			return "", false
		}
		return string(s.Bytes), true
	case value.KindNumber:
		return formatNumber(v.AsNumber()), true
	default:
		return "", false
	}
}

// formatNumber renders a Lua number the way tostring/concat would: integer
// values with no decimal point, everything else matching Lua 5.1's
// LUAI_NUMFMT ("%.14g").
func formatNumber(n float64) string {
	if n == math.Trunc(n) && !math.IsInf(n, 0) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', 14, 64)
}

// comparison opcodes

func (vm *VM) compareEq(a, b value.Value) (bool, error) {
	if value.RawEqual(a, b) {
		return true, nil
	}
	if a.Kind() != value.KindTable || b.Kind() != value.KindTable {
		return false, nil
	}
	handler, ok, err := vm.metamethodOf(a, "__eq")
	if err != nil {
		return false, err
	}
	if !ok {
		handler, ok, err = vm.metamethodOf(b, "__eq")
		if err != nil {
			return false, err
		}
	}
	if !ok {
		return false, nil
	}
	results, err := vm.callSync(handler, []value.Value{a, b})
	if err != nil {
		return false, err
	}
	return first(results).IsTruthy(), nil
}

func (vm *VM) compareLt(a, b value.Value) (bool, error) {
	if a.Kind() == value.KindNumber && b.Kind() == value.KindNumber {
		return a.AsNumber() < b.AsNumber(), nil
	}
	if a.Kind() == value.KindString && b.Kind() == value.KindString {
		as, _ := vm.concatString(a)
		bs, _ := vm.concatString(b)
		return as < bs, nil
	}
	handler, ok, err := vm.metamethodOf(a, "__lt")
	if err != nil {
		return false, err
	}
	if !ok {
		handler, ok, err = vm.metamethodOf(b, "__lt")
		if err != nil {
			return false, err
		}
	}
	if !ok {
		return false, luaerr.TypeError("attempt to compare two %s values", a.Kind())
	}
	results, err := vm.callSync(handler, []value.Value{a, b})
	if err != nil {
		return false, err
	}
	return first(results).IsTruthy(), nil
}

func (vm *VM) compareLe(a, b value.Value) (bool, error) {
	if a.Kind() == value.KindNumber && b.Kind() == value.KindNumber {
		return a.AsNumber() <= b.AsNumber(), nil
	}
	if a.Kind() == value.KindString && b.Kind() == value.KindString {
		as, _ := vm.concatString(a)
		bs, _ := vm.concatString(b)
		return as <= bs, nil
	}
	handler, ok, err := vm.metamethodOf(a, "__le")
	if err != nil {
		return false, err
	}
	if !ok {
		handler, ok, err = vm.metamethodOf(b, "__le")
		if err != nil {
			return false, err
		}
	}
	if !ok {
		lt, err := vm.compareLt(b, a)
		if err != nil {
			return false, err
		}
		return !lt, nil
	}
	results, err := vm.callSync(handler, []value.Value{a, b})
	if err != nil {
		return false, err
	}
	return first(results).IsTruthy(), nil
}

// for loops

// execForPrep implements FORPREP A sBx: check the numeric for-loop's
// initial/limit/step registers are numbers, subtract step from the
// counter once (FORLOOP's first action re-adds it), then jump.
func (vm *VM) execForPrep(frame *thread.Frame, a, sbx int) error {
	init := vm.Th.Get(frame.Base + a)
	step := vm.Th.Get(frame.Base + a + 2)
	if step.IsNil() {
		step = value.Number(1.0)
		vm.Th.Set(frame.Base+a+2, step)
	}
	if init.Kind() != value.KindNumber || vm.Th.Get(frame.Base+a+1).Kind() != value.KindNumber || step.Kind() != value.KindNumber {
		return luaerr.TypeError("'for' initial value, limit, and step must be numbers")
	}
	vm.Th.Set(frame.Base+a, value.Number(init.AsNumber()-step.AsNumber()))
	frame.PC += sbx
	return nil
}

// execForLoop implements FORLOOP A sBx: advance the counter by step; if
// still within [limit] (direction-aware), copy it into R(A+3) and jump
// back by sBx to re-enter the loop body.
func (vm *VM) execForLoop(frame *thread.Frame, a, sbx int) {
	counter := vm.Th.Get(frame.Base+a).AsNumber() + vm.Th.Get(frame.Base+a+2).AsNumber()
	limit := vm.Th.Get(frame.Base + a + 1).AsNumber()
	step := vm.Th.Get(frame.Base + a + 2).AsNumber()

	continues := (step > 0 && counter <= limit) || (step < 0 && counter >= limit)
	if !continues {
		return
	}
	vm.Th.Set(frame.Base+a, value.Number(counter))
	vm.Th.Set(frame.Base+a+3, value.Number(counter))
	frame.PC += sbx
}

// execTForLoop implements TFORLOOP A C: call the generic-for iterator
// function at R(A) with (R(A+1), R(A+2)), storing C results at R(A+3)...
// If the first result is non-nil, it becomes the new control variable
// R(A+2) and the loop body (the following JMP) runs again; otherwise the
// loop falls through. The call itself is deferred through the operation
// queue so a Lua-closure iterator does not recurse on the Go stack.
func (vm *VM) execTForLoop(frame *thread.Frame, a, c int) {
	vm.Q.Push(opqueue.Operation{
		Kind: opqueue.KindForIterStep,
		ForIter: opqueue.ForIterStep{
			Iterator: vm.Th.Get(frame.Base + a),
			State:    vm.Th.Get(frame.Base + a + 1),
			Control:  vm.Th.Get(frame.Base + a + 2),
			DestBase: frame.Base + a + 3,
			NumVars:  c,
		},
	})
}

// execForIterStep runs the iterator call requested by TFORLOOP. Real Lua
// bytecode places an unconditional JMP immediately after TFORLOOP that
// jumps back to the loop body; when the iterator's first result is Nil,
// iteration is finished and that JMP must be skipped rather than taken, so
// this advances PC past it via skipNext. Otherwise the control variable
// R(A+2) is updated to the first result and the JMP runs normally.
func (vm *VM) execForIterStep(op opqueue.ForIterStep) error {
	results, err := vm.callSync(op.Iterator, []value.Value{op.State, op.Control})
	if err != nil {
		return err
	}
	for i := 0; i < op.NumVars; i++ {
		if i < len(results) {
			vm.Th.Set(op.DestBase+i, results[i])
		} else {
			vm.Th.Set(op.DestBase+i, value.Nil)
		}
	}
	if vm.Th.Get(op.DestBase).IsNil() {
		vm.skipNext()
		return nil
	}
	vm.Th.Set(op.DestBase-1, vm.Th.Get(op.DestBase))
	return nil
}

// execMetamethodCall drives a MetamethodCall queued operation, used when a
// metamethod is resolved from a context (the opcode dispatch switch) that
// wants the deferred, non-recursive call path rather than callSync. Not
// currently reached by any opcode handler — every metamethod site in this
// executor uses callSync directly, since a metamethod's result is needed
// synchronously within the same instruction. Kept so the operation kind
// opqueue.KindMetamethodCall (part of the documented queue vocabulary) has
// a real handler rather than an unreachable default case.
func (vm *VM) execMetamethodCall(op opqueue.MetamethodCall) error {
	results, err := vm.callSync(op.Fn, op.Args)
	if err != nil {
		return err
	}
	vm.Th.Set(op.DestBase, first(results))
	return nil
}
