package bytecode

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"luacore/internal/heap"
)

func TestInstructionEncodeDecodeABC(t *testing.T) {
	i := Encode(OpAdd, 1, 2, 3)
	if i.Op() != OpAdd || i.A() != 1 || i.B() != 2 || i.C() != 3 {
		t.Fatalf("round trip ABC failed: op=%v a=%d b=%d c=%d", i.Op(), i.A(), i.B(), i.C())
	}
}

func TestInstructionEncodeDecodeABx(t *testing.T) {
	i := EncodeABx(OpLoadK, 4, 100)
	if i.Op() != OpLoadK || i.A() != 4 || i.Bx() != 100 {
		t.Fatalf("round trip ABx failed: op=%v a=%d bx=%d", i.Op(), i.A(), i.Bx())
	}
}

func TestInstructionEncodeDecodeAsBx(t *testing.T) {
	i := EncodeAsBx(OpJmp, 0, -5)
	if i.Op() != OpJmp || i.SBx() != -5 {
		t.Fatalf("round trip AsBx failed: op=%v sbx=%d", i.Op(), i.SBx())
	}
	i2 := EncodeAsBx(OpJmp, 0, 37)
	if i2.SBx() != 37 {
		t.Fatalf("positive sbx round trip failed: got %d want 37", i2.SBx())
	}
}

func TestRKEncoding(t *testing.T) {
	rk := RKAsConstant(12)
	if !IsConstant(rk) {
		t.Fatalf("RKAsConstant(12) not recognized as constant")
	}
	if ConstantIndex(rk) != 12 {
		t.Fatalf("ConstantIndex = %d, want 12", ConstantIndex(rk))
	}
	if IsConstant(5) {
		t.Fatalf("plain register operand misidentified as constant")
	}
}

// chunkBuilder assembles a minimal, valid Lua 5.1 binary chunk byte-for-byte
// so Load can be tested without a real luac binary in the sandbox.
type chunkBuilder struct {
	buf bytes.Buffer
}

func (b *chunkBuilder) header() {
	b.buf.WriteString(signature)
	b.buf.WriteByte(versionLua51)
	b.buf.WriteByte(0) // format
	b.buf.WriteByte(1) // little endian
	b.buf.WriteByte(4) // sizeof(int)
	b.buf.WriteByte(8) // sizeof(size_t)
	b.buf.WriteByte(4) // sizeof(Instruction)
	b.buf.WriteByte(8) // sizeof(lua_Number)
	b.buf.WriteByte(0) // integral flag
}

func (b *chunkBuilder) int32(v int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	b.buf.Write(buf[:])
}

func (b *chunkBuilder) sizeT(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.buf.Write(buf[:])
}

func (b *chunkBuilder) luaString(s string) {
	if s == "" {
		b.sizeT(0)
		return
	}
	b.sizeT(uint64(len(s) + 1))
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
}

func (b *chunkBuilder) number(v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	b.buf.Write(buf[:])
}

func (b *chunkBuilder) instruction(i Instruction) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(i))
	b.buf.Write(buf[:])
}

// simpleReturnConstantChunk builds: function() return 42 end
func simpleReturnConstantChunk() []byte {
	b := &chunkBuilder{}
	b.header()

	b.luaString("test") // source
	b.int32(0)           // linedefined
	b.int32(0)           // lastlinedefined
	b.buf.WriteByte(0)   // nups
	b.buf.WriteByte(0)   // numparams
	b.buf.WriteByte(0)   // is_vararg
	b.buf.WriteByte(2)   // maxstacksize

	// code: LOADK R0 K0 ; RETURN R0 2
	b.int32(2)
	b.instruction(EncodeABx(OpLoadK, 0, 0))
	b.instruction(Encode(OpReturn, 0, 2, 0))

	// constants: [42.0]
	b.int32(1)
	b.buf.WriteByte(tagNumber)
	b.number(42)

	// protos: none
	b.int32(0)

	// debug: lines
	b.int32(0)
	// debug: locals
	b.int32(0)
	// debug: upvalue names
	b.int32(0)

	return b.buf.Bytes()
}

func TestLoadRejectsBadSignature(t *testing.T) {
	h := heap.New(heap.Limits{}, nil)
	_, err := Load(h, []byte("not a chunk"))
	if err == nil {
		t.Fatalf("Load accepted garbage input")
	}
}

func TestLoadParsesMinimalChunk(t *testing.T) {
	h := heap.New(heap.Limits{}, nil)
	ph, err := Load(h, simpleReturnConstantChunk())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	proto, err := h.GetProto(ph)
	if err != nil {
		t.Fatalf("GetProto: %v", err)
	}
	if len(proto.Code) != 2 {
		t.Fatalf("Code length = %d, want 2", len(proto.Code))
	}
	if Instruction(proto.Code[0]).Op() != OpLoadK {
		t.Fatalf("Code[0] op = %v, want OpLoadK", Instruction(proto.Code[0]).Op())
	}
	if len(proto.Constants) != 1 || proto.Constants[0].AsNumber() != 42 {
		t.Fatalf("Constants = %v, want [42]", proto.Constants)
	}
	if proto.MaxStackSize != 2 {
		t.Fatalf("MaxStackSize = %d, want 2", proto.MaxStackSize)
	}
}
