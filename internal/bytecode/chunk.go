package bytecode

import (
	"encoding/binary"
	"io"
	"math"

	"luacore/internal/heap"
	"luacore/internal/luaerr"
	"luacore/internal/value"
)

// Lua 5.1 binary chunk header signature and tag values (lundump.h).
const (
	signature   = "\x1BLua"
	versionLua51 = 0x51
	formatOfficial = 0

	tagNil    = 0
	tagBool   = 1
	tagNumber = 3
	tagString = 4
)

// header mirrors the fixed-size preamble of a Lua 5.1 binary chunk. The
// loader only accepts little-endian chunks with 4-byte instructions and
// 8-byte numbers; the int and size_t widths are read as the header
// declares them.
type header struct {
	sizeInt        int
	sizeSizeT      int
	sizeInstruction int
	sizeNumber     int
	integralFlag   int
}

// reader wraps an io.Reader with the little helpers the undump algorithm
// needs, translating any I/O failure into a CompileError (the external
// compiler's contract is "bytecode in, Proto or CompileError out").
type reader struct {
	r   io.Reader
	hdr header
}

func (rd *reader) bytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rd.r, buf); err != nil {
		return nil, luaerr.Compile("truncated bytecode: %v", err)
	}
	return buf, nil
}

func (rd *reader) byte() (byte, error) {
	b, err := rd.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (rd *reader) uint32() (uint32, error) {
	b, err := rd.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (rd *reader) sizeT() (uint64, error) {
	b, err := rd.bytes(rd.hdr.sizeSizeT)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

func (rd *reader) int() (int, error) {
	b, err := rd.bytes(rd.hdr.sizeInt)
	if err != nil {
		return 0, err
	}
	var v uint32
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return int(int32(v)), nil
}

func (rd *reader) number() (float64, error) {
	b, err := rd.bytes(rd.hdr.sizeNumber)
	if err != nil {
		return 0, err
	}
	if rd.hdr.sizeNumber != 8 {
		return 0, luaerr.Compile("unsupported lua_Number size %d (want 8)", rd.hdr.sizeNumber)
	}
	bits := binary.LittleEndian.Uint64(b)
	return math.Float64frombits(bits), nil
}

func (rd *reader) luaString() ([]byte, error) {
	n, err := rd.sizeT()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	// The on-disk string includes a trailing NUL the dumper adds.
	b, err := rd.bytes(int(n))
	if err != nil {
		return nil, err
	}
	if len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b, nil
}

func (rd *reader) readHeader() error {
	sig, err := rd.bytes(4)
	if err != nil {
		return err
	}
	if string(sig) != signature {
		return luaerr.Compile("not a Lua bytecode chunk (bad signature)")
	}
	version, err := rd.byte()
	if err != nil {
		return err
	}
	if version != versionLua51 {
		return luaerr.Compile("unsupported bytecode version 0x%x (want Lua 5.1)", version)
	}
	if _, err := rd.byte(); err != nil { // format byte, "official" == 0
		return err
	}
	endian, err := rd.byte()
	if err != nil {
		return err
	}
	if endian != 1 {
		return luaerr.Compile("unsupported bytecode endianness (big-endian chunks are not supported)")
	}
	sizeInt, err := rd.byte()
	if err != nil {
		return err
	}
	sizeSizeT, err := rd.byte()
	if err != nil {
		return err
	}
	sizeInstr, err := rd.byte()
	if err != nil {
		return err
	}
	sizeNumber, err := rd.byte()
	if err != nil {
		return err
	}
	integral, err := rd.byte()
	if err != nil {
		return err
	}
	rd.hdr = header{
		sizeInt:         int(sizeInt),
		sizeSizeT:       int(sizeSizeT),
		sizeInstruction: int(sizeInstr),
		sizeNumber:      int(sizeNumber),
		integralFlag:    int(integral),
	}
	if rd.hdr.sizeInstruction != 4 {
		return luaerr.Compile("unsupported Instruction size %d (want 4)", rd.hdr.sizeInstruction)
	}
	return nil
}

// Load parses a Lua 5.1 binary chunk (as produced by `luac -o` or
// `string.dump`) and installs its function tree into h, returning the
// handle to the top-level (main) prototype. Compilation itself is out of
// scope (SPEC_FULL.md §1); this is strictly the binary-format reader half
// of component E.
func Load(h *heap.Heap, data []byte) (value.ProtoHandle, error) {
	rd := &reader{r: newByteReader(data)}
	if err := rd.readHeader(); err != nil {
		return value.ProtoHandle{}, err
	}
	return rd.readFunction(h, "")
}

func (rd *reader) readFunction(h *heap.Heap, parentSource string) (value.ProtoHandle, error) {
	source, err := rd.luaString()
	if err != nil {
		return value.ProtoHandle{}, err
	}
	sourceName := string(source)
	if sourceName == "" {
		sourceName = parentSource
	}

	lineDefined, err := rd.int()
	if err != nil {
		return value.ProtoHandle{}, err
	}
	lastLineDefined, err := rd.int()
	if err != nil {
		return value.ProtoHandle{}, err
	}
	numUpvalues, err := rd.byte()
	if err != nil {
		return value.ProtoHandle{}, err
	}
	numParams, err := rd.byte()
	if err != nil {
		return value.ProtoHandle{}, err
	}
	isVararg, err := rd.byte()
	if err != nil {
		return value.ProtoHandle{}, err
	}
	maxStack, err := rd.byte()
	if err != nil {
		return value.ProtoHandle{}, err
	}

	code, err := rd.readCode()
	if err != nil {
		return value.ProtoHandle{}, err
	}

	constants, err := rd.readConstants(h)
	if err != nil {
		return value.ProtoHandle{}, err
	}

	nProtos, err := rd.int()
	if err != nil {
		return value.ProtoHandle{}, err
	}
	subProtos := make([]value.ProtoHandle, nProtos)
	for i := range subProtos {
		ph, err := rd.readFunction(h, sourceName)
		if err != nil {
			return value.ProtoHandle{}, err
		}
		subProtos[i] = ph
	}

	lines, err := rd.readDebugLines()
	if err != nil {
		return value.ProtoHandle{}, err
	}
	localNames, err := rd.readLocalNames()
	if err != nil {
		return value.ProtoHandle{}, err
	}
	upvalNames, err := rd.readUpvalNames(int(numUpvalues))
	if err != nil {
		return value.ProtoHandle{}, err
	}

	upvalues := make([]heap.UpvalDesc, numUpvalues)
	for i := range upvalues {
		if i < len(upvalNames) {
			upvalues[i].Name = upvalNames[i]
		}
	}

	proto := &heap.FunctionProto{
		Source:          sourceName,
		LineDefined:     lineDefined,
		LastLineDefined: lastLineDefined,
		NumParams:       int(numParams),
		IsVararg:        isVararg != 0,
		MaxStackSize:    int(maxStack),
		Code:            code,
		Constants:       constants,
		Protos:          subProtos,
		Upvalues:        upvalues,
		Lines:           lines,
		LocalNames:      localNames,
	}
	if err := resolveUpvalueDescriptors(h, proto); err != nil {
		return value.ProtoHandle{}, err
	}
	return h.CreateProto(proto), nil
}

// resolveUpvalueDescriptors scans proto's code for CLOSURE instructions and
// rewrites the pseudo-instructions immediately following each one — plain
// MOVE (capture from this frame's stack) or GETUPVAL (capture from this
// frame's own upvalue vector) in the reference encoding — into the child
// prototype's Upvalues descriptors, replacing the pseudo-instruction words
// with OpNoop so the executor's normal dispatch never touches them.
func resolveUpvalueDescriptors(h *heap.Heap, proto *heap.FunctionProto) error {
	for pc := 0; pc < len(proto.Code); pc++ {
		instr := Instruction(proto.Code[pc])
		if instr.Op() != OpClosure {
			continue
		}
		bx := instr.Bx()
		if bx < 0 || bx >= len(proto.Protos) {
			return luaerr.Compile("CLOSURE references out-of-range prototype %d", bx)
		}
		child, err := h.GetProto(proto.Protos[bx])
		if err != nil {
			return err
		}
		n := len(child.Upvalues)
		for j := 0; j < n; j++ {
			idx := pc + 1 + j
			if idx >= len(proto.Code) {
				return luaerr.Compile("truncated upvalue descriptor stream after CLOSURE at pc %d", pc)
			}
			pseudo := Instruction(proto.Code[idx])
			switch pseudo.Op() {
			case OpMove:
				child.Upvalues[j].InStack = true
				child.Upvalues[j].Index = uint8(pseudo.B())
			case OpGetUpval:
				child.Upvalues[j].InStack = false
				child.Upvalues[j].Index = uint8(pseudo.B())
			default:
				return luaerr.Compile("expected upvalue descriptor pseudo-instruction after CLOSURE at pc %d, got opcode %d", pc, pseudo.Op())
			}
			proto.Code[idx] = uint32(Encode(OpNoop, 0, 0, 0))
		}
	}
	return nil
}

func (rd *reader) readCode() ([]uint32, error) {
	n, err := rd.int()
	if err != nil {
		return nil, err
	}
	code := make([]uint32, n)
	for i := range code {
		w, err := rd.uint32()
		if err != nil {
			return nil, err
		}
		code[i] = w
	}
	return code, nil
}

func (rd *reader) readConstants(h *heap.Heap) ([]value.Value, error) {
	n, err := rd.int()
	if err != nil {
		return nil, err
	}
	out := make([]value.Value, n)
	for i := range out {
		tag, err := rd.byte()
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagNil:
			out[i] = value.Nil
		case tagBool:
			b, err := rd.byte()
			if err != nil {
				return nil, err
			}
			out[i] = value.Boolean(b != 0)
		case tagNumber:
			n, err := rd.number()
			if err != nil {
				return nil, err
			}
			out[i] = value.Number(n)
		case tagString:
			s, err := rd.luaString()
			if err != nil {
				return nil, err
			}
			out[i] = value.String(h.CreateString(s))
		default:
			return nil, luaerr.Compile("unknown constant tag %d", tag)
		}
	}
	return out, nil
}

func (rd *reader) readDebugLines() ([]int, error) {
	n, err := rd.int()
	if err != nil {
		return nil, err
	}
	lines := make([]int, n)
	for i := range lines {
		v, err := rd.int()
		if err != nil {
			return nil, err
		}
		lines[i] = v
	}
	return lines, nil
}

func (rd *reader) readLocalNames() ([]string, error) {
	n, err := rd.int()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name, err := rd.luaString()
		if err != nil {
			return nil, err
		}
		if _, err := rd.int(); err != nil { // startpc
			return nil, err
		}
		if _, err := rd.int(); err != nil { // endpc
			return nil, err
		}
		names = append(names, string(name))
	}
	return names, nil
}

func (rd *reader) readUpvalNames(expected int) ([]string, error) {
	n, err := rd.int()
	if err != nil {
		return nil, err
	}
	names := make([]string, n)
	for i := range names {
		name, err := rd.luaString()
		if err != nil {
			return nil, err
		}
		names[i] = string(name)
	}
	if n != expected {
		// Not fatal: debug info is optional/advisory (stripped chunks omit
		// it), so a mismatch only means names are unavailable, not that the
		// chunk is malformed.
		return names, nil
	}
	return names, nil
}

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (b *byteReader) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}
