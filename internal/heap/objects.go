package heap

import (
	"sort"

	"luacore/internal/thread"
	"luacore/internal/value"
)

// LuaString is an immutable byte sequence plus its cached hash, interned so
// that equal byte strings always share a StringHandle (pointer equality on
// handles implements Lua's string equality).
type LuaString struct {
	Bytes []byte
	Hash  uint64
}

func (s *LuaString) String() string { return string(s.Bytes) }

// fnvHash is used for the string intern cache's own bookkeeping hash; Go's
// builtin map already hashes the Bytes-derived string key, this field only
// exists so stdlib functions (e.g. a hypothetical custom hash table) have a
// precomputed hash available without rehashing.
func fnvHash(b []byte) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for _, c := range b {
		h ^= uint64(c)
		h *= prime64
	}
	return h
}

// UpvalDesc describes how a closure's upvalue at a given index is captured:
// either from the enclosing frame's stack (in_stack) or from the enclosing
// closure's own upvalue vector.
type UpvalDesc struct {
	InStack bool
	Index   uint8
	Name    string // debug info, may be empty
}

// FunctionProto is a compiled function prototype: its bytecode, constant
// pool, nested prototypes, and upvalue descriptors. Produced by the
// external compiler or the binary chunk loader in internal/bytecode.
type FunctionProto struct {
	Source          string
	LineDefined     int
	LastLineDefined int
	NumParams       int
	IsVararg        bool
	MaxStackSize    int
	Code            []uint32
	Constants       []value.Value
	Protos          []value.ProtoHandle
	Upvalues        []UpvalDesc

	// Debug info, optional.
	Lines      []int // Lines[pc] = source line of Code[pc]
	LocalNames []string
}

// Closure pairs a prototype with a fixed-length vector of upvalue handles.
// Two closures that share a captured variable share the same
// value.UpvalueHandle entry in their Upvalues slices.
type Closure struct {
	Proto    value.ProtoHandle
	Upvalues []value.UpvalueHandle
}

// UpvalueState tags whether an Upvalue still indirects through a live stack
// slot or has been lifted into owning its value.
type UpvalueState uint8

const (
	UpvalueOpen UpvalueState = iota
	UpvalueClosed
)

// Upvalue is the indirection a closure uses to reach a variable captured
// from an enclosing scope. While Open it references (Thread, StackIndex);
// once Closed it owns Value directly and StackIndex/Thread are stale.
type Upvalue struct {
	State      UpvalueState
	Thread     value.ThreadHandle
	StackIndex int
	Value      value.Value
}

// Table has a dense array part (1-based, no trailing Nil holes) and a hash
// part for everything else, plus an optional metatable. The sequence length
// is the array part's length (see Len).
type Table struct {
	Array []value.Value // Array[i] holds Lua key i+1
	Hash  map[any]hashEntry
	Meta  value.TableHandle
	hasMeta bool
}

type hashEntry struct {
	key value.Value
	val value.Value
}

// NewTable returns an empty table with capacity hints for its array and
// hash parts.
func NewTable(narr, nhash int) *Table {
	t := &Table{}
	if narr > 0 {
		t.Array = make([]value.Value, 0, narr)
	}
	if nhash > 0 {
		t.Hash = make(map[any]hashEntry, nhash)
	}
	return t
}

// SetMetatable installs h as t's metatable. A zero Handle clears it.
func (t *Table) SetMetatable(h value.TableHandle) {
	t.Meta = h
	t.hasMeta = !h.H.Zero()
}

// Metatable returns t's metatable handle and whether one is set.
func (t *Table) Metatable() (value.TableHandle, bool) {
	return t.Meta, t.hasMeta
}

// arrayIndex reports whether key is a positive integer-valued number and
// returns its 0-based array-part index.
func arrayIndex(key value.Value) (int, bool) {
	if key.Kind() != value.KindNumber {
		return 0, false
	}
	n := key.AsNumber()
	if !key.IsNumberInteger() || n < 1 {
		return 0, false
	}
	return int(n) - 1, true
}

// RawGet looks up key without consulting any metamethod.
func (t *Table) RawGet(key value.Value) value.Value {
	if idx, ok := arrayIndex(key); ok && idx < len(t.Array) {
		return t.Array[idx]
	}
	if t.Hash == nil {
		return value.Nil
	}
	if e, ok := t.Hash[value.HashKey(key)]; ok {
		return e.val
	}
	return value.Nil
}

// RawSet stores val at key without consulting any metamethod, maintaining
// the array-part invariant (integer keys 1..len(Array) live in Array, with
// no trailing Nil holes).
func (t *Table) RawSet(key value.Value, val value.Value) {
	if idx, ok := arrayIndex(key); ok {
		switch {
		case idx < len(t.Array):
			t.Array[idx] = val
			if val.IsNil() && idx == len(t.Array)-1 {
				t.trimArrayTail()
			}
			return
		case idx == len(t.Array):
			if val.IsNil() {
				return // appending Nil just past the end is a no-op
			}
			t.Array = append(t.Array, val)
			t.absorbFromHash()
			return
		}
	}
	if val.IsNil() {
		if t.Hash != nil {
			delete(t.Hash, value.HashKey(key))
		}
		return
	}
	if t.Hash == nil {
		t.Hash = make(map[any]hashEntry, 4)
	}
	t.Hash[value.HashKey(key)] = hashEntry{key: key, val: val}
}

// trimArrayTail removes trailing Nil entries so the array part never ends
// in a hole.
func (t *Table) trimArrayTail() {
	n := len(t.Array)
	for n > 0 && t.Array[n-1].IsNil() {
		n--
	}
	t.Array = t.Array[:n]
}

// absorbFromHash pulls consecutive integer keys that now continue the array
// part out of the hash part, e.g. after appending key len(Array)+1 makes
// len(Array)+2 contiguous too.
func (t *Table) absorbFromHash() {
	if t.Hash == nil {
		return
	}
	for {
		nextKey := value.Number(float64(len(t.Array) + 1))
		e, ok := t.Hash[value.HashKey(nextKey)]
		if !ok || e.val.IsNil() {
			return
		}
		t.Array = append(t.Array, e.val)
		delete(t.Hash, value.HashKey(nextKey))
	}
}

// Len implements the Lua `#t` border rule for sequence-shaped tables: the
// length of the dense array part after trimming trailing nils. It is a
// hint, not a guarantee, for tables with holes — matching standard Lua 5.1
// semantics where `#t` on a table with holes may return any border.
func (t *Table) Len() int { return len(t.Array) }

// IsSequence reports whether the table is array-shaped (every live key is
// a contiguous integer run starting at 1 with no hash part), the shape
// cjson.encode needs to distinguish Lua arrays from Lua objects.
func (t *Table) IsSequence() bool {
	return len(t.Hash) == 0
}

// Next implements the `next(t, key)` traversal contract: given the
// previous key (Nil to start), return the following (key, value) pair in
// an order consistent for the lifetime of the table (no further raw
// modification), or (Nil, Nil, true) when iteration is exhausted. Iterates
// the array part in order, then hash-part keys in hashOrder's sorted order.
func (t *Table) Next(key value.Value) (value.Value, value.Value, bool, error) {
	if key.IsNil() {
		if len(t.Array) > 0 {
			return value.Number(1), t.Array[0], false, nil
		}
		return t.firstHashEntry()
	}

	if idx, ok := arrayIndex(key); ok && idx < len(t.Array) {
		if idx+1 < len(t.Array) {
			return value.Number(float64(idx + 2)), t.Array[idx+1], false, nil
		}
		return t.firstHashEntry()
	}

	return t.hashEntryAfter(key)
}

func (t *Table) firstHashEntry() (value.Value, value.Value, bool, error) {
	if len(t.Hash) == 0 {
		return value.Nil, value.Nil, true, nil
	}
	for _, e := range t.hashOrder() {
		return e.key, e.val, false, nil
	}
	return value.Nil, value.Nil, true, nil
}

// hashOrder returns hash-part entries sorted by key kind, then by key
// payload (false before true, numbers ascending, handles by index then
// generation), so every Next call over an unmodified table sees the same
// order and a full walk visits each key exactly once.
func (t *Table) hashOrder() []hashEntry {
	out := make([]hashEntry, 0, len(t.Hash))
	for _, e := range t.Hash {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].key, out[j].key
		if a.Kind() != b.Kind() {
			return a.Kind() < b.Kind()
		}
		switch a.Kind() {
		case value.KindBoolean:
			return !a.AsBoolean() && b.AsBoolean()
		case value.KindNumber:
			return a.AsNumber() < b.AsNumber()
		case value.KindCFunction:
			return value.HashKey(a).(string) < value.HashKey(b).(string)
		}
		ha, hb := a.AsTableHandle().H, b.AsTableHandle().H
		return ha.Index < hb.Index || (ha.Index == hb.Index && ha.Gen < hb.Gen)
	})
	return out
}

func (t *Table) hashEntryAfter(key value.Value) (value.Value, value.Value, bool, error) {
	order := t.hashOrder()
	target := value.HashKey(key)
	for i, e := range order {
		if value.HashKey(e.key) == target {
			if i+1 < len(order) {
				return order[i+1].key, order[i+1].val, false, nil
			}
			return value.Nil, value.Nil, true, nil
		}
	}
	return value.Nil, value.Nil, false, errInvalidNextKey
}

// Roots holds the per-heap root handles: the globals table, the registry
// table, and the main thread, none of which are ever collected by the
// script-boundary reset.
type Roots struct {
	Globals  value.TableHandle
	Registry value.TableHandle
	Main     value.ThreadHandle
}

// threadBox lets the heap's thread arena hold *thread.Thread values (a
// pointer, since Thread itself is large and mutated in place by the VM via
// the handle rather than copied in and out on every access).
type threadBox struct {
	T *thread.Thread
}
