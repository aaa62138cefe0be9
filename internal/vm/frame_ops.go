package vm

import (
	"luacore/internal/heap"
	"luacore/internal/luaerr"
	"luacore/internal/opqueue"
	"luacore/internal/thread"
	"luacore/internal/value"
)

// pushClosureFrame installs a new Frame for ch at base, copying args into
// the callee's parameter registers (padding with Nil, capturing the
// remainder as varargs when the prototype is vararg) and growing the
// register window to the prototype's declared MaxStackSize.
func (vm *VM) pushClosureFrame(ch value.ClosureHandle, args []value.Value, base, numResults int) error {
	c, err := vm.H.GetClosure(ch)
	if err != nil {
		return err
	}
	proto, err := vm.H.GetProto(c.Proto)
	if err != nil {
		return err
	}

	vm.Th.Truncate(base)
	for i := 0; i < proto.NumParams; i++ {
		if i < len(args) {
			vm.Th.Push(args[i])
		} else {
			vm.Th.Push(value.Nil)
		}
	}

	var va thread.VarargInfo
	if proto.IsVararg && len(args) > proto.NumParams {
		va.Base = vm.Th.Top()
		for _, a := range args[proto.NumParams:] {
			vm.Th.Push(a)
		}
		va.Count = len(args) - proto.NumParams
	}

	vm.Th.EnsureTop(base + proto.MaxStackSize)

	vm.Th.PushFrame(thread.Frame{
		Closure:    ch,
		Base:       base,
		ReturnSlot: base,
		NumResults: numResults,
		PC:         0,
		Vararg:     va,
	})
	return nil
}

// skipNext advances the current frame's PC by one more instruction,
// implementing the "comparison opcode followed by an unconditional JMP that
// is skipped when the comparison result matches the opcode's own polarity"
// idiom (EQ/LT/LE/TEST/TESTSET).
func (vm *VM) skipNext() {
	if f := vm.Th.CurrentFrame(); f != nil {
		f.PC++
	}
}

// execReturn gathers RETURN A B's result list, closes upvalues captured
// from this frame's register window, pops the frame, and enqueues the
// Return operation the main loop will use to deliver results to the
// caller (or, if the chain is now empty, as the script's final result).
func (vm *VM) execReturn(frame *thread.Frame, a, b int) error {
	var values []value.Value
	if b == 0 {
		top := vm.Th.Top()
		for i := frame.Base + a; i < top; i++ {
			values = append(values, vm.Th.Get(i))
		}
	} else {
		values = make([]value.Value, b-1)
		for i := 0; i < b-1; i++ {
			values[i] = vm.Th.Get(frame.Base + a + i)
		}
	}

	if err := vm.UV.CloseTo(vm.ThH, vm.Th.Get, frame.Base); err != nil {
		return err
	}

	popped := vm.Th.PopFrame()
	vm.Q.Push(opqueue.Operation{
		Kind: opqueue.KindReturn,
		Ret: opqueue.Return{
			Values:     values,
			Base:       popped.Base,
			NumResults: popped.NumResults,
			IsRoot:     vm.Th.Depth() == 0,
		},
	})
	return nil
}

// gatherCallArgs reads CALL/TAILCALL's B-encoded argument list: B-1 fixed
// arguments from R(A+1).., or (B==0) "every register up to the current
// top", used when the preceding instruction left a variable-length result
// (another CALL or VARARG) sitting at the top of the callee's window.
func gatherCallArgs(th *thread.Thread, base, a, b int) []value.Value {
	if b == 0 {
		top := th.Top()
		args := make([]value.Value, 0, top-(base+a+1))
		for i := base + a + 1; i < top; i++ {
			args = append(args, th.Get(i))
		}
		return args
	}
	args := make([]value.Value, b-1)
	for i := 0; i < b-1; i++ {
		args[i] = th.Get(base + a + 1 + i)
	}
	return args
}

// execCall implements CALL A B C. A function value (or __call-able table)
// at R(A), arguments at R(A+1..), requests C-1 results (C==0 means "all")
// landing back at R(A)... Calls to a Lua closure are deferred through the
// operation queue; calls to a CFunction run in place, since a native
// callback is expected to complete without growing the Lua frame chain.
func (vm *VM) execCall(frame *thread.Frame, a, b, c int) error {
	callee := vm.Th.Get(frame.Base + a)
	args := gatherCallArgs(vm.Th, frame.Base, a, b)
	numResults := c - 1

	return vm.dispatchCall(callee, args, frame.Base+a, numResults, 0)
}

// execTailCall implements TAILCALL A B (C is unused in Lua 5.1's encoding,
// always 0). The current frame is discarded before the callee's frame is
// pushed, so the callee's results are delivered straight to whatever
// register and result-count this frame's own caller originally requested —
// Lua's tail-call does not grow the call chain.
func (vm *VM) execTailCall(frame *thread.Frame, a, b int) error {
	callee := vm.Th.Get(frame.Base + a)
	args := gatherCallArgs(vm.Th, frame.Base, a, b)

	base := frame.Base
	numResults := frame.NumResults
	if err := vm.UV.CloseTo(vm.ThH, vm.Th.Get, base); err != nil {
		return err
	}
	vm.Th.PopFrame()
	vm.Th.Truncate(base)

	return vm.dispatchCall(callee, args, base, numResults, 0)
}

// dispatchCall resolves callee to something invocable (a closure, a native
// function, or a value with a __call metamethod) and either enqueues a
// FunctionCall operation (closures) or runs the call to completion in place
// (native functions), writing results at destBase per numResults (-1 means
// all). callDepth guards against an unbounded __call redirection chain.
func (vm *VM) dispatchCall(callee value.Value, args []value.Value, destBase, numResults, callDepth int) error {
	if callDepth > MaxIndexChainDepth {
		return luaerr.TypeError("'__call' chain too long; possible loop")
	}

	switch callee.Kind() {
	case value.KindClosure:
		vm.Q.Push(opqueue.Operation{
			Kind: opqueue.KindFunctionCall,
			Call: opqueue.FunctionCall{
				Callee:     callee,
				Args:       args,
				DestBase:   destBase,
				NumResults: numResults,
			},
		})
		return nil

	case value.KindCFunction:
		results, err := vm.callNative(callee.AsCFunction(), args)
		if err != nil {
			return err
		}
		vm.placeResults(destBase, numResults, results)
		return nil

	default:
		fn, ok, err := vm.metamethodOf(callee, "__call")
		if err != nil {
			return err
		}
		if !ok {
			return luaerr.TypeError("attempt to call a %s value", callee.Kind())
		}
		return vm.dispatchCall(fn, append([]value.Value{callee}, args...), destBase, numResults, callDepth+1)
	}
}

// callSync invokes fn and blocks (by draining the operation queue, not by
// recursing on the Go call stack) until it returns, for call sites that
// need the result immediately within the same opcode handler: metamethods,
// the generic `for` iterator, and Context.Call (pcall, table.sort's
// comparator, string.gsub's replacement function).
func (vm *VM) callSync(fn value.Value, args []value.Value) ([]value.Value, error) {
	switch fn.Kind() {
	case value.KindCFunction:
		return vm.callNative(fn.AsCFunction(), args)

	case value.KindClosure:
		base := vm.Th.Top()
		depth := vm.Th.Depth()
		if depth >= MaxCallDepth {
			return nil, luaerr.StackOverflow(depth)
		}
		if err := vm.pushClosureFrame(fn.AsClosureHandle(), args, base, -1); err != nil {
			return nil, err
		}
		results, err := vm.runUntilDepth(depth)
		if err != nil {
			// Unwind the frames the error left behind, closing their upvalues,
			// so the caller resumes at its own frame.
			if cerr := vm.UV.CloseTo(vm.ThH, vm.Th.Get, base); cerr != nil {
				return nil, cerr
			}
			for vm.Th.Depth() > depth {
				vm.Th.PopFrame()
			}
		}
		vm.Th.Truncate(base)
		return results, err

	default:
		callable, ok, err := vm.metamethodOf(fn, "__call")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, luaerr.TypeError("attempt to call a %s value", fn.Kind())
		}
		return vm.callSync(callable, append([]value.Value{fn}, args...))
	}
}

// callNative invokes a Go CFunction, handing it a fresh nativeCall frame it
// reads its arguments from and pushes results into via the exec.Context
// methods implemented in context.go.
func (vm *VM) callNative(fn value.CFunction, args []value.Value) ([]value.Value, error) {
	nc := &nativeCall{args: args}
	vm.nativeStack = append(vm.nativeStack, nc)
	defer func() { vm.nativeStack = vm.nativeStack[:len(vm.nativeStack)-1] }()

	n, err := fn(vm)
	if err != nil {
		return nil, err
	}
	if n < len(nc.results) {
		return nc.results[:n], nil
	}
	return nc.results, nil
}

// execClosure implements CLOSURE A Bx: instantiate proto.Protos[Bx] with
// its upvalues resolved against this frame's register window and the
// enclosing closure's own upvalues, per each UpvalDesc.
func (vm *VM) execClosure(frame *thread.Frame, proto *heap.FunctionProto, a, bx int) error {
	if bx < 0 || bx >= len(proto.Protos) {
		return luaerr.TypeError("CLOSURE Bx %d out of range", bx)
	}
	childHandle := proto.Protos[bx]
	child, err := vm.H.GetProto(childHandle)
	if err != nil {
		return err
	}

	enclosing, err := vm.H.GetClosure(frame.Closure)
	if err != nil {
		return err
	}

	upvalues := make([]value.UpvalueHandle, len(child.Upvalues))
	for i, desc := range child.Upvalues {
		if desc.InStack {
			uh, err := vm.UV.FindOrCreateOpen(vm.ThH, frame.Base+int(desc.Index))
			if err != nil {
				return err
			}
			upvalues[i] = uh
		} else {
			if int(desc.Index) >= len(enclosing.Upvalues) {
				return luaerr.TypeError("upvalue index %d out of range for enclosing closure", desc.Index)
			}
			upvalues[i] = enclosing.Upvalues[desc.Index]
		}
	}

	ch, err := vm.H.CreateClosure(childHandle, upvalues)
	if err != nil {
		return err
	}
	vm.Th.Set(frame.Base+a, value.Closure(ch))
	return nil
}

// execVararg implements VARARG A B: copy B-1 (or, if B==0, all) of the
// current frame's captured extra arguments into R(A)...
func (vm *VM) execVararg(frame *thread.Frame, a, b int) {
	n := frame.Vararg.Count
	want := n
	if b != 0 {
		want = b - 1
	}
	base := frame.Base + a
	vm.Th.EnsureTop(base + want)
	for i := 0; i < want; i++ {
		if i < n {
			vm.Th.Set(base+i, vm.Th.Get(frame.Vararg.Base+i))
		} else {
			vm.Th.Set(base+i, value.Nil)
		}
	}
}

// execSetList implements SETLIST A B C: store R(A+1)..R(A+B) into table
// R(A) at consecutive integer keys starting at (C-1)*FieldsPerFlush+1.
// FieldsPerFlush is the Lua 5.1 constant (50); when B==0 the list runs to
// the current stack top, the "open" form used after a CALL/VARARG with an
// unknown result count as the table constructor's last field. If C==0, the
// compiler stores a real index in the immediately-following instruction
// word (read here as the whole raw word) rather than the 9-bit C field, since
// C's range is too small for large table constructors — the `resolved`
// form, read in dispatch before this is called.
const fieldsPerFlush = 50

func (vm *VM) execSetList(frame *thread.Frame, a, b, c int) error {
	t := vm.Th.Get(frame.Base + a)
	if t.Kind() != value.KindTable {
		return luaerr.TypeError("SETLIST target is not a table")
	}
	table, err := vm.H.GetTableMut(t.AsTableHandle())
	if err != nil {
		return err
	}

	n := b
	if n == 0 {
		n = vm.Th.Top() - (frame.Base + a + 1)
	}
	offset := (c - 1) * fieldsPerFlush
	for i := 1; i <= n; i++ {
		table.RawSet(value.Number(float64(offset+i)), vm.Th.Get(frame.Base+a+i))
	}
	return nil
}
