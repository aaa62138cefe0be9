package scripting

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"luacore/internal/bytecode"
	"luacore/internal/exec"
)

// testChunkBuilder assembles a minimal, valid Lua 5.1 binary chunk
// byte-for-byte, mirroring internal/bytecode's own unexported test helper —
// duplicated here since that one isn't exported across package boundaries.
type testChunkBuilder struct {
	buf bytes.Buffer
}

func (b *testChunkBuilder) header() {
	b.buf.WriteString("\x1BLua")
	b.buf.WriteByte(0x51) // version
	b.buf.WriteByte(0)    // format
	b.buf.WriteByte(1)    // little endian
	b.buf.WriteByte(4)    // sizeof(int)
	b.buf.WriteByte(8)    // sizeof(size_t)
	b.buf.WriteByte(4)    // sizeof(Instruction)
	b.buf.WriteByte(8)    // sizeof(lua_Number)
	b.buf.WriteByte(0)    // integral flag
}

func (b *testChunkBuilder) int32(v int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	b.buf.Write(buf[:])
}

func (b *testChunkBuilder) sizeT(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.buf.Write(buf[:])
}

func (b *testChunkBuilder) luaString(s string) {
	if s == "" {
		b.sizeT(0)
		return
	}
	b.sizeT(uint64(len(s) + 1))
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
}

func (b *testChunkBuilder) number(v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	b.buf.Write(buf[:])
}

func (b *testChunkBuilder) instruction(i bytecode.Instruction) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(i))
	b.buf.Write(buf[:])
}

// returnConstantChunk builds the bytecode for: function() return 42 end
func returnConstantChunk(n float64) []byte {
	b := &testChunkBuilder{}
	b.header()

	b.luaString("test")
	b.int32(0) // linedefined
	b.int32(0) // lastlinedefined
	b.buf.WriteByte(0) // nups
	b.buf.WriteByte(0) // numparams
	b.buf.WriteByte(0) // is_vararg
	b.buf.WriteByte(2) // maxstacksize

	b.int32(2)
	b.instruction(bytecode.EncodeABx(bytecode.OpLoadK, 0, 0))
	b.instruction(bytecode.Encode(bytecode.OpReturn, 0, 2, 0))

	b.int32(1)
	b.buf.WriteByte(3) // tagNumber
	b.number(n)

	b.int32(0) // protos
	b.int32(0) // debug lines
	b.int32(0) // debug locals
	b.int32(0) // debug upvalue names

	return b.buf.Bytes()
}

type nopHost struct{}

func (nopHost) Call(cmd string, args [][]byte) (exec.Reply, error)  { return exec.Reply{}, nil }
func (nopHost) PCall(cmd string, args [][]byte) (exec.Reply, error) { return exec.Reply{}, nil }
func (nopHost) Log(level int, msg string)                           {}

func TestLoadAcceptsValidChunk(t *testing.T) {
	if _, err := Load("test", returnConstantChunk(42)); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	if _, err := Load("test", []byte("not a chunk")); err == nil {
		t.Fatal("Load accepted garbage input")
	}
}

func TestRunReturnsConvertedReply(t *testing.T) {
	script, err := Load("test", returnConstantChunk(42))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	reply, err := Run(script, nil, nil, nopHost{}, Limits{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.Kind != ReplyInteger || reply.Integer != 42 {
		t.Fatalf("reply = %+v, want integer 42", reply)
	}
}

func TestRunnerReusesHeapsAcrossCalls(t *testing.T) {
	script, err := Load("test", returnConstantChunk(7))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	runner := NewRunner(1, Limits{}, nil)
	defer runner.Close()

	for i := 0; i < 3; i++ {
		reply, err := runner.Run(script, nil, nil, nopHost{}, Limits{})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if reply.Kind != ReplyInteger || reply.Integer != 7 {
			t.Fatalf("run %d: reply = %+v, want integer 7", i, reply)
		}
	}
}
