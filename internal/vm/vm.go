// Package vm implements the register-based bytecode executor: the
// non-recursive dispatch loop, the two-phase-borrow opcode handlers, and
// the metamethod resolver. It is the component that ties the heap, thread,
// upvalue manager, and operation queue together into a running script.
package vm

import (
	"time"

	"luacore/internal/bytecode"
	"luacore/internal/exec"
	"luacore/internal/heap"
	"luacore/internal/luaerr"
	"luacore/internal/opqueue"
	"luacore/internal/thread"
	"luacore/internal/upvalue"
	"luacore/internal/value"
)

// MaxCallDepth bounds the call-frame chain. Exceeding it raises
// StackOverflow, per SPEC_FULL.md §7.
const MaxCallDepth = 200

// MaxIndexChainDepth bounds __index/__newindex table-form chains and
// __call redirection so a metatable cycle cannot recurse forever.
const MaxIndexChainDepth = 2000

// VM executes one script against one Heap/Thread pair. It implements
// exec.Context directly (see context.go) so native callbacks receive the
// VM itself, never the heap or thread.
type VM struct {
	H      *heap.Heap
	ThH    value.ThreadHandle
	Th     *thread.Thread
	UV     *upvalue.Manager
	Q      *opqueue.Queue
	Host   exec.Host
	Source string

	Deadline    time.Time
	hasDeadline bool

	nativeStack []*nativeCall
}

// nativeCall is the per-invocation frame a Context method reads/writes
// through while a value.CFunction is executing.
type nativeCall struct {
	args    []value.Value
	results []value.Value
}

// New builds a VM over h, rooted at h's main thread.
func New(h *heap.Heap, host exec.Host, source string) (*VM, error) {
	th, err := h.GetThread(h.Roots.Main)
	if err != nil {
		return nil, err
	}
	return &VM{
		H:      h,
		ThH:    h.Roots.Main,
		Th:     th,
		UV:     upvalue.New(h),
		Q:      opqueue.New(),
		Host:   host,
		Source: source,
	}, nil
}

// SetDeadline installs a wall-clock deadline checked at every call/return,
// per SPEC_FULL.md §5.
func (vm *VM) SetDeadline(d time.Time) {
	vm.Deadline = d
	vm.hasDeadline = !d.IsZero()
}

func (vm *VM) checkDeadline() error {
	if vm.hasDeadline && !time.Now().Before(vm.Deadline) {
		return luaerr.ResourceExhausted(luaerr.ResourceTime, "script exceeded its execution deadline")
	}
	return nil
}

// Run loads proto as a closure with no upvalues, pushes it as the root
// frame with args as its arguments, and drives the dispatch loop to
// completion, returning the script's first declared return value (Nil if
// none) or an error.
func (vm *VM) Run(proto value.ProtoHandle, args []value.Value) (value.Value, error) {
	closureHandle, err := vm.H.CreateClosure(proto, nil)
	if err != nil {
		return value.Nil, err
	}
	vm.Th.SetInitialBase(vm.Th.Top())

	if err := vm.pushClosureFrame(closureHandle, args, vm.Th.Top(), -1); err != nil {
		return value.Nil, err
	}

	results, err := vm.runUntilDepth(0)
	if err != nil {
		return value.Nil, err
	}
	if len(results) == 0 {
		return value.Nil, nil
	}
	return results[0], nil
}

// runUntilDepth drains the operation queue and dispatch loop until the
// thread's frame chain returns to depth targetDepth, returning the values
// produced by the Return operation that brought it there. Both the
// top-level Run and Context.Call (re-entrant native calls, e.g. pcall) use
// this same loop — a native callback never recurses into the Go call stack
// to execute Lua bytecode, it re-enters here instead.
func (vm *VM) runUntilDepth(targetDepth int) ([]value.Value, error) {
	for {
		if op, ok := vm.Q.Pop(); ok {
			results, done, err := vm.handleOperation(op, targetDepth)
			if err != nil {
				return nil, err
			}
			if done {
				return results, nil
			}
			continue
		}

		frame := vm.Th.CurrentFrame()
		if frame == nil {
			return nil, nil
		}

		if err := vm.H.ChargeInstruction(); err != nil {
			return nil, err
		}

		proto, err := vm.protoOf(frame)
		if err != nil {
			return nil, err
		}
		if frame.PC >= len(proto.Code) {
			return nil, luaerr.TypeError("program counter ran off the end of the function")
		}
		instr := bytecode.Instruction(proto.Code[frame.PC])
		frame.PC++

		if err := vm.dispatch(frame, proto, instr); err != nil {
			return nil, vm.annotate(err, frame, proto)
		}
	}
}

func (vm *VM) protoOf(f *thread.Frame) (*heap.FunctionProto, error) {
	c, err := vm.H.GetClosure(f.Closure)
	if err != nil {
		return nil, err
	}
	return vm.H.GetProto(c.Proto)
}

// annotate attaches source/line position to an error raised while
// executing an instruction belonging to proto, for the "prepend chunk
// name and line" rule applied to string errors. For a user-level
// error(msg) call (KindRuntime with a string Value), the Value itself is
// rebuilt as the positioned string too, so pcall's returned error value
// matches what the root-level rendering shows — not just Error()'s output.
func (vm *VM) annotate(err error, f *thread.Frame, proto *heap.FunctionProto) error {
	le, ok := err.(*luaerr.Error)
	if !ok || le.Source != "" {
		return err
	}
	line := 0
	if f.PC-1 >= 0 && f.PC-1 < len(proto.Lines) {
		line = proto.Lines[f.PC-1]
	}
	positioned := le.WithPosition(firstNonEmpty(proto.Source, vm.Source), line)
	if positioned.Kind == luaerr.KindRuntime && positioned.Value.Kind() == value.KindString {
		positioned.Value = value.String(vm.H.CreateString([]byte(positioned.Error())))
	}
	return positioned
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// handleOperation executes one dequeued Operation. done reports whether
// this operation resolved runUntilDepth's target (a Return that brought the
// frame chain back to targetDepth).
func (vm *VM) handleOperation(op opqueue.Operation, targetDepth int) (results []value.Value, done bool, err error) {
	switch op.Kind {
	case opqueue.KindFunctionCall:
		if err := vm.checkDeadline(); err != nil {
			return nil, false, err
		}
		if vm.Th.Depth() >= MaxCallDepth {
			return nil, false, luaerr.StackOverflow(vm.Th.Depth())
		}
		if err := vm.pushClosureFrame(op.Call.Callee.AsClosureHandle(), op.Call.Args, op.Call.DestBase, op.Call.NumResults); err != nil {
			return nil, false, err
		}
		return nil, false, nil

	case opqueue.KindReturn:
		if err := vm.checkDeadline(); err != nil {
			return nil, false, err
		}
		vm.placeResults(op.Ret.Base, op.Ret.NumResults, op.Ret.Values)
		if op.Ret.IsRoot || vm.Th.Depth() == targetDepth {
			return op.Ret.Values, true, nil
		}
		return nil, false, nil

	case opqueue.KindForIterStep:
		if err := vm.execForIterStep(op.ForIter); err != nil {
			return nil, false, err
		}
		return nil, false, nil

	case opqueue.KindMetamethodCall:
		if err := vm.execMetamethodCall(op.MetaCall); err != nil {
			return nil, false, err
		}
		return nil, false, nil

	default:
		return nil, false, luaerr.TypeError("unknown queued operation kind %d", op.Kind)
	}
}

// placeResults truncates the stack to base and writes values there,
// honoring Lua's "-1 means all results" convention for NumResults.
func (vm *VM) placeResults(base, numResults int, values []value.Value) {
	vm.Th.Truncate(base)
	if numResults < 0 {
		for _, v := range values {
			vm.Th.Push(v)
		}
		return
	}
	for i := 0; i < numResults; i++ {
		if i < len(values) {
			vm.Th.Push(values[i])
		} else {
			vm.Th.Push(value.Nil)
		}
	}
}
