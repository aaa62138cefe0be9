package vm

import (
	"luacore/internal/bytecode"
	"luacore/internal/heap"
	"luacore/internal/luaerr"
	"luacore/internal/thread"
	"luacore/internal/value"
)

// fb2int decodes Lua 5.1's "floating point byte" size hint used by
// NEWTABLE's B and C operands: values 0-7 are literal, larger sizes are
// packed as a 3-bit mantissa and an exponent so the 9-bit field can express
// sizes up to 2^31.
func fb2int(x int) int {
	if x < 8 {
		return x
	}
	e := uint(x >> 3)
	return ((x & 7) + 8) << (e - 1)
}

// dispatch executes a single decoded instruction against frame. It follows
// a two-phase borrow discipline per opcode: operands are read from the
// thread's stack and the proto's constant pool first, then exactly one
// mutation (a register write, a table write, a frame push, or a queued
// operation) is applied — no opcode handler holds a live pointer into the
// heap's table/closure arenas across a nested call, since every nested
// call goes through callSync or the operation queue rather than a direct
// recursive dispatch.
func (vm *VM) dispatch(frame *thread.Frame, proto *heap.FunctionProto, instr bytecode.Instruction) error {
	a := instr.A()

	switch instr.Op() {
	case bytecode.OpNoop:
		return nil

	case bytecode.OpMove:
		vm.Th.Set(frame.Base+a, vm.Th.Get(frame.Base+instr.B()))
		return nil

	case bytecode.OpLoadK:
		vm.Th.Set(frame.Base+a, proto.Constants[instr.Bx()])
		return nil

	case bytecode.OpLoadBool:
		vm.Th.Set(frame.Base+a, value.Boolean(instr.B() != 0))
		if instr.C() != 0 {
			frame.PC++
		}
		return nil

	case bytecode.OpLoadNil:
		b := instr.B()
		for i := a; i <= b; i++ {
			vm.Th.Set(frame.Base+i, value.Nil)
		}
		return nil

	case bytecode.OpGetUpval:
		c, err := vm.H.GetClosure(frame.Closure)
		if err != nil {
			return err
		}
		v, err := vm.UV.Read(vm.Th, c.Upvalues[instr.B()])
		if err != nil {
			return err
		}
		vm.Th.Set(frame.Base+a, v)
		return nil

	case bytecode.OpSetUpval:
		c, err := vm.H.GetClosure(frame.Closure)
		if err != nil {
			return err
		}
		return vm.UV.Write(vm.Th, c.Upvalues[instr.B()], vm.Th.Get(frame.Base+a))

	case bytecode.OpGetGlobal:
		key := proto.Constants[instr.Bx()]
		v, err := vm.Index(value.Table(vm.H.Roots.Globals), key)
		if err != nil {
			return err
		}
		vm.Th.Set(frame.Base+a, v)
		return nil

	case bytecode.OpSetGlobal:
		key := proto.Constants[instr.Bx()]
		return vm.NewIndex(value.Table(vm.H.Roots.Globals), key, vm.Th.Get(frame.Base+a))

	case bytecode.OpGetTable:
		t := vm.Th.Get(frame.Base + instr.B())
		key := vm.rk(frame, proto, instr.C())
		v, err := vm.Index(t, key)
		if err != nil {
			return err
		}
		vm.Th.Set(frame.Base+a, v)
		return nil

	case bytecode.OpSetTable:
		t := vm.Th.Get(frame.Base + a)
		key := vm.rk(frame, proto, instr.B())
		val := vm.rk(frame, proto, instr.C())
		return vm.NewIndex(t, key, val)

	case bytecode.OpNewTable:
		th := vm.H.CreateTable(fb2int(instr.B()), fb2int(instr.C()))
		vm.Th.Set(frame.Base+a, value.Table(th))
		return nil

	case bytecode.OpSelf:
		b := instr.B()
		obj := vm.Th.Get(frame.Base + b)
		key := vm.rk(frame, proto, instr.C())
		method, err := vm.Index(obj, key)
		if err != nil {
			return err
		}
		vm.Th.Set(frame.Base+a+1, obj)
		vm.Th.Set(frame.Base+a, method)
		return nil

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod, bytecode.OpPow:
		return vm.execArith(frame, proto, instr.Op(), a, instr.B(), instr.C())

	case bytecode.OpUnm:
		return vm.execUnm(frame, a, instr.B())

	case bytecode.OpNot:
		vm.Th.Set(frame.Base+a, value.Boolean(!vm.Th.Get(frame.Base+instr.B()).IsTruthy()))
		return nil

	case bytecode.OpLen:
		return vm.execLen(frame, a, instr.B())

	case bytecode.OpConcat:
		return vm.execConcat(frame, a, instr.B(), instr.C())

	case bytecode.OpJmp:
		frame.PC += instr.SBx()
		return nil

	case bytecode.OpEq:
		eq, err := vm.compareEq(vm.rk(frame, proto, a), vm.rk(frame, proto, instr.B()))
		if err != nil {
			return err
		}
		if eq != (instr.C() != 0) {
			vm.skipNext()
		}
		return nil

	case bytecode.OpLt:
		lt, err := vm.compareLt(vm.rk(frame, proto, a), vm.rk(frame, proto, instr.B()))
		if err != nil {
			return err
		}
		if lt != (instr.C() != 0) {
			vm.skipNext()
		}
		return nil

	case bytecode.OpLe:
		le, err := vm.compareLe(vm.rk(frame, proto, a), vm.rk(frame, proto, instr.B()))
		if err != nil {
			return err
		}
		if le != (instr.C() != 0) {
			vm.skipNext()
		}
		return nil

	case bytecode.OpTest:
		if vm.Th.Get(frame.Base+a).IsTruthy() != (instr.C() != 0) {
			vm.skipNext()
		}
		return nil

	case bytecode.OpTestSet:
		b := vm.Th.Get(frame.Base + instr.B())
		if b.IsTruthy() == (instr.C() != 0) {
			vm.Th.Set(frame.Base+a, b)
		} else {
			vm.skipNext()
		}
		return nil

	case bytecode.OpCall:
		return vm.execCall(frame, a, instr.B(), instr.C())

	case bytecode.OpTailCall:
		return vm.execTailCall(frame, a, instr.B())

	case bytecode.OpReturn:
		return vm.execReturn(frame, a, instr.B())

	case bytecode.OpForPrep:
		return vm.execForPrep(frame, a, instr.SBx())

	case bytecode.OpForLoop:
		vm.execForLoop(frame, a, instr.SBx())
		return nil

	case bytecode.OpTForLoop:
		vm.execTForLoop(frame, a, instr.C())
		return nil

	case bytecode.OpSetList:
		c := instr.C()
		if c == 0 {
			c = int(proto.Code[frame.PC])
			frame.PC++
		}
		return vm.execSetList(frame, a, instr.B(), c)

	case bytecode.OpClose:
		return vm.UV.CloseTo(vm.ThH, vm.Th.Get, frame.Base+a)

	case bytecode.OpClosure:
		return vm.execClosure(frame, proto, a, instr.Bx())

	case bytecode.OpVararg:
		vm.execVararg(frame, a, instr.B())
		return nil

	default:
		return luaerr.TypeError("unimplemented opcode %v", instr.Op())
	}
}
