// Package bytecode implements the Lua 5.1 instruction encoding, the
// function-prototype tree, and a reader for the standard Lua 5.1 binary
// chunk format, so bytecode produced by an external compiler (or by
// `luac`) is directly executable by internal/vm.
package bytecode

// OpMode distinguishes the three instruction layouts.
type OpMode uint8

const (
	ModeABC OpMode = iota
	ModeABx
	ModeAsBx
)

// Op is a Lua 5.1 opcode. Numbering matches the reference implementation
// exactly (lopcodes.h) so standard bytecode loads without translation.
type Op uint8

const (
	OpMove Op = iota
	OpLoadK
	OpLoadBool
	OpLoadNil
	OpGetUpval
	OpGetGlobal
	OpGetTable
	OpSetGlobal
	OpSetUpval
	OpSetTable
	OpNewTable
	OpSelf
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpUnm
	OpNot
	OpLen
	OpConcat
	OpJmp
	OpEq
	OpLt
	OpLe
	OpTest
	OpTestSet
	OpCall
	OpTailCall
	OpReturn
	OpForLoop
	OpForPrep
	OpTForLoop
	OpSetList
	OpClose
	OpClosure
	OpVararg

	// OpNoop does not occur in a standard Lua 5.1 instruction stream. The
	// chunk loader rewrites the upvalue-descriptor pseudo-instructions that
	// follow a CLOSURE opcode (plain MOVE/GETUPVAL words in the reference
	// encoding) into OpNoop once their in_stack/index bits have been
	// captured into the child prototype's Upvalues slice, so the executor
	// never mistakes them for real register moves.
	OpNoop
	opCount
)

var opModes = [opCount]OpMode{
	OpMove:     ModeABC,
	OpLoadK:    ModeABx,
	OpLoadBool: ModeABC,
	OpLoadNil:  ModeABC,
	OpGetUpval: ModeABC,
	OpGetGlobal: ModeABx,
	OpGetTable: ModeABC,
	OpSetGlobal: ModeABx,
	OpSetUpval: ModeABC,
	OpSetTable: ModeABC,
	OpNewTable: ModeABC,
	OpSelf:     ModeABC,
	OpAdd:      ModeABC,
	OpSub:      ModeABC,
	OpMul:      ModeABC,
	OpDiv:      ModeABC,
	OpMod:      ModeABC,
	OpPow:      ModeABC,
	OpUnm:      ModeABC,
	OpNot:      ModeABC,
	OpLen:      ModeABC,
	OpConcat:   ModeABC,
	OpJmp:      ModeAsBx,
	OpEq:       ModeABC,
	OpLt:       ModeABC,
	OpLe:       ModeABC,
	OpTest:     ModeABC,
	OpTestSet:  ModeABC,
	OpCall:     ModeABC,
	OpTailCall: ModeABC,
	OpReturn:   ModeABC,
	OpForLoop:  ModeAsBx,
	OpForPrep:  ModeAsBx,
	OpTForLoop: ModeABC,
	OpSetList:  ModeABC,
	OpClose:    ModeABC,
	OpClosure:  ModeABx,
	OpVararg:   ModeABC,
	OpNoop:     ModeABC,
}

// Mode returns op's instruction layout.
func (op Op) Mode() OpMode { return opModes[op] }

// Field widths and biases for the 32-bit iABC / iABx / iAsBx encodings.
const (
	sizeOp  = 6
	sizeA   = 8
	sizeB   = 9
	sizeC   = 9
	sizeBx  = sizeB + sizeC
	posOp   = 0
	posA    = posOp + sizeOp
	posC    = posA + sizeA
	posB    = posC + sizeC
	posBx   = posC
	maxArgBx  = 1<<sizeBx - 1
	maxArgSBx = maxArgBx >> 1
)

func mask1(n, p uint32) uint32 { return ((^uint32(0)) >> (32 - n)) << p }

var (
	maskOp = mask1(sizeOp, posOp)
	maskA  = mask1(sizeA, posA)
	maskB  = mask1(sizeB, posB)
	maskC  = mask1(sizeC, posC)
	maskBx = mask1(sizeBx, posBx)
)

// Instruction is one 32-bit Lua 5.1 instruction word.
type Instruction uint32

func (i Instruction) Op() Op { return Op((uint32(i) & maskOp) >> posOp) }
func (i Instruction) A() int { return int((uint32(i) & maskA) >> posA) }
func (i Instruction) B() int { return int((uint32(i) & maskB) >> posB) }
func (i Instruction) C() int { return int((uint32(i) & maskC) >> posC) }
func (i Instruction) Bx() int { return int((uint32(i) & maskBx) >> posBx) }
func (i Instruction) SBx() int { return i.Bx() - maxArgSBx }

// Encode builds an iABC instruction.
func Encode(op Op, a, b, c int) Instruction {
	return Instruction(uint32(op)<<posOp | uint32(a)<<posA | uint32(b)<<posB | uint32(c)<<posC)
}

// EncodeABx builds an iABx instruction.
func EncodeABx(op Op, a, bx int) Instruction {
	return Instruction(uint32(op)<<posOp | uint32(a)<<posA | uint32(bx)<<posBx)
}

// EncodeAsBx builds an iAsBx instruction.
func EncodeAsBx(op Op, a, sbx int) Instruction {
	return EncodeABx(op, a, sbx+maxArgSBx)
}

// Bit flags on a B/C register/constant-pool operand: when set, the operand
// names a constant-pool slot rather than a register. Matches Lua 5.1's
// RK encoding (BITRK / ISK).
const (
	bitRK  = 1 << (sizeB - 1)
	maxIndexRK = bitRK - 1
)

// IsConstant reports whether an RK-encoded operand names a constant.
func IsConstant(rk int) bool { return rk&bitRK != 0 }

// ConstantIndex extracts the constant-pool index from an RK-encoded operand
// for which IsConstant is true.
func ConstantIndex(rk int) int { return rk & maxIndexRK }

// RKAsConstant encodes constant index k as an RK operand.
func RKAsConstant(k int) int { return k | bitRK }
