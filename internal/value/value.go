// Package value defines the Lua value representation shared by every other
// core package: a tagged union over the Lua primitive types plus typed
// arena handles for the heap-allocated kinds.
package value

import (
	"fmt"
	"math"

	"luacore/internal/arena"
)

// Kind tags a Value's active variant.
type Kind uint8

const (
	KindNil Kind = iota
	KindBoolean
	KindNumber
	KindString
	KindTable
	KindClosure
	KindCFunction
	KindUserData
	KindFunctionProto
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTable:
		return "table"
	case KindClosure, KindCFunction:
		return "function"
	case KindUserData:
		return "userdata"
	case KindFunctionProto:
		return "function"
	default:
		return "unknown"
	}
}

// Typed handles. Each is a distinct Go type wrapping arena.Handle so the
// compiler catches a StringHandle being passed where a TableHandle is
// expected — the "tagged per object kind at the type level" requirement.
type (
	StringHandle   struct{ H arena.Handle }
	TableHandle    struct{ H arena.Handle }
	ClosureHandle  struct{ H arena.Handle }
	UserDataHandle struct{ H arena.Handle }
	ProtoHandle    struct{ H arena.Handle }
	ThreadHandle   struct{ H arena.Handle }
	UpvalueHandle  struct{ H arena.Handle }
)

// CFunction is a native callback. It receives an execution context (defined
// in package exec to avoid an import cycle between value and exec) as an
// opaque interface{} cast by the caller; the VM always calls these through
// internal/stdlib and internal/exec, which know the concrete type.
type CFunction func(ctx any) (int, error)

// Value is a 16-byte-class tagged union: a Kind byte plus the largest
// payload (a float64 or an arena.Handle pair). Go does not give us a true
// packed union, but keeping exactly one numeric field and one handle field
// keeps Value a small, Copy-able struct with no heap allocation of its own.
type Value struct {
	kind    Kind
	boolean bool
	number  float64
	handle  arena.Handle
	cfunc   CFunction
}

// Nil is the canonical nil value.
var Nil = Value{kind: KindNil}

func Boolean(b bool) Value { return Value{kind: KindBoolean, boolean: b} }
func Number(n float64) Value { return Value{kind: KindNumber, number: n} }
func String(h StringHandle) Value { return Value{kind: KindString, handle: h.H} }
func Table(h TableHandle) Value { return Value{kind: KindTable, handle: h.H} }
func Closure(h ClosureHandle) Value { return Value{kind: KindClosure, handle: h.H} }
func UserData(h UserDataHandle) Value { return Value{kind: KindUserData, handle: h.H} }
func FunctionProto(h ProtoHandle) Value { return Value{kind: KindFunctionProto, handle: h.H} }
func CFunc(f CFunction) Value { return Value{kind: KindCFunction, cfunc: f} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNil() bool { return v.kind == KindNil }

// IsTruthy implements Lua's truthiness rule: everything except nil and
// false is true, including 0 and the empty string.
func (v Value) IsTruthy() bool {
	if v.kind == KindNil {
		return false
	}
	if v.kind == KindBoolean {
		return v.boolean
	}
	return true
}

func (v Value) AsBoolean() bool { return v.boolean }
func (v Value) AsNumber() float64 { return v.number }
func (v Value) AsCFunction() CFunction { return v.cfunc }

func (v Value) AsStringHandle() StringHandle { return StringHandle{H: v.handle} }
func (v Value) AsTableHandle() TableHandle { return TableHandle{H: v.handle} }
func (v Value) AsClosureHandle() ClosureHandle { return ClosureHandle{H: v.handle} }
func (v Value) AsUserDataHandle() UserDataHandle { return UserDataHandle{H: v.handle} }
func (v Value) AsProtoHandle() ProtoHandle { return ProtoHandle{H: v.handle} }

// IsNumberInteger reports whether v is a Number with no fractional part and
// within the float64-exact integer range, matching Lua 5.1's convention of
// representing integers as integer-valued doubles.
func (v Value) IsNumberInteger() bool {
	if v.kind != KindNumber {
		return false
	}
	return v.number == math.Trunc(v.number) && !math.IsInf(v.number, 0)
}

// RawEqual implements Lua's raw equality: tag first, then payload. Strings
// are interned, so string equality reduces to handle equality.
func RawEqual(a, b Value) bool {
	if a.kind != b.kind {
		// Lua treats no cross-kind equality as true, full stop.
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBoolean:
		return a.boolean == b.boolean
	case KindNumber:
		return a.number == b.number
	case KindString, KindTable, KindClosure, KindUserData, KindFunctionProto:
		return a.handle == b.handle
	case KindCFunction:
		return fmt.Sprintf("%p", a.cfunc) == fmt.Sprintf("%p", b.cfunc)
	default:
		return false
	}
}

// Hashable reports whether v may be used as a table key: any value except
// Nil and NaN.
func Hashable(v Value) bool {
	if v.kind == KindNil {
		return false
	}
	if v.kind == KindNumber && math.IsNaN(v.number) {
		return false
	}
	return true
}

// HashKey derives a comparable Go value suitable for use as a map key for
// v's hash-part slot: two values get equal keys exactly when RawEqual holds
// for them. Numbers that are integer-valued hash identically to how Lua
// treats 1 and 1.0 as the same key; handle kinds pair the handle with the
// kind, and C functions key on the same pointer rendering RawEqual compares.
func HashKey(v Value) any {
	switch v.kind {
	case KindBoolean:
		return v.boolean
	case KindNumber:
		return v.number
	case KindString, KindTable, KindClosure, KindUserData, KindFunctionProto:
		return struct {
			kind   Kind
			handle arena.Handle
		}{v.kind, v.handle}
	case KindCFunction:
		return fmt.Sprintf("%p", v.cfunc)
	default:
		return nil
	}
}
