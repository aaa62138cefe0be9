package stdlib

import (
	"luacore/internal/exec"
	"luacore/internal/heap"
	"luacore/internal/luaerr"
	"luacore/internal/value"
)

func installBase(h *heap.Heap, g *heap.Table) {
	cfn(g, h, "type", baseType)
	cfn(g, h, "tostring", baseToString)
	cfn(g, h, "tonumber", baseToNumber)
	cfn(g, h, "print", basePrint)
	cfn(g, h, "pairs", basePairs)
	cfn(g, h, "ipairs", baseIPairs)
	cfn(g, h, "next", baseNext)
	cfn(g, h, "select", baseSelect)
	cfn(g, h, "rawget", baseRawGet)
	cfn(g, h, "rawset", baseRawSet)
	cfn(g, h, "rawequal", baseRawEqual)
	cfn(g, h, "rawlen", baseRawLen)
	cfn(g, h, "unpack", baseUnpack)
	cfn(g, h, "pcall", basePCall)
	cfn(g, h, "xpcall", baseXPCall)
	cfn(g, h, "error", baseError)
	cfn(g, h, "assert", baseAssert)
	cfn(g, h, "setmetatable", baseSetMetatable)
	cfn(g, h, "getmetatable", baseGetMetatable)
}

func baseType(a any) (int, error) {
	ctx := ctxOf(a)
	pushString(ctx, ctx.Arg(0).Kind().String())
	return 1, nil
}

func baseToString(a any) (int, error) {
	ctx := ctxOf(a)
	s, err := ctx.ToString(ctx.Arg(0))
	if err != nil {
		return 0, err
	}
	pushString(ctx, s)
	return 1, nil
}

func baseToNumber(a any) (int, error) {
	ctx := ctxOf(a)
	v := ctx.Arg(0)
	switch v.Kind() {
	case value.KindNumber:
		ctx.PushResult(v)
		return 1, nil
	case value.KindString:
		s, _ := argString(ctx, 0)
		n, ok := parseNumber(s)
		if !ok {
			ctx.PushResult(value.Nil)
			return 1, nil
		}
		ctx.PushResult(value.Number(n))
		return 1, nil
	default:
		ctx.PushResult(value.Nil)
		return 1, nil
	}
}

func basePrint(a any) (int, error) {
	ctx := ctxOf(a)
	var line string
	for i := 0; i < ctx.ArgCount(); i++ {
		s, err := ctx.ToString(ctx.Arg(i))
		if err != nil {
			return 0, err
		}
		if i > 0 {
			line += "\t"
		}
		line += s
	}
	ctx.Log(0, line)
	return 0, nil
}

// basePairs returns (next, t, nil) so a generic `for k, v in pairs(t) do`
// drives TFORLOOP with the `next` CFunction as its iterator.
func basePairs(a any) (int, error) {
	ctx := ctxOf(a)
	ctx.PushResult(value.CFunc(baseNext))
	ctx.PushResult(ctx.Arg(0))
	ctx.PushResult(value.Nil)
	return 3, nil
}

func baseNext(a any) (int, error) {
	ctx := ctxOf(a)
	t := ctx.Arg(0)
	if t.Kind() != value.KindTable {
		return 0, luaerr.TypeError("bad argument #1 to 'next' (table expected, got %s)", t.Kind())
	}
	k, v, done, err := ctx.TableNext(t.AsTableHandle(), ctx.Arg(1))
	if err != nil {
		return 0, err
	}
	if done {
		ctx.PushResult(value.Nil)
		return 1, nil
	}
	ctx.PushResult(k)
	ctx.PushResult(v)
	return 2, nil
}

// baseIPairs returns (ipairsAux, t, 0); ipairsAux stops the generic for
// loop the first time t[i] is Nil.
func baseIPairs(a any) (int, error) {
	ctx := ctxOf(a)
	ctx.PushResult(value.CFunc(ipairsAux))
	ctx.PushResult(ctx.Arg(0))
	ctx.PushResult(value.Number(0))
	return 3, nil
}

func ipairsAux(a any) (int, error) {
	ctx := ctxOf(a)
	t := ctx.Arg(0)
	i := ctx.Arg(1).AsNumber() + 1
	if t.Kind() != value.KindTable {
		return 0, luaerr.TypeError("bad argument #1 to ipairs iterator (table expected, got %s)", t.Kind())
	}
	v, err := ctx.GetField(t.AsTableHandle(), value.Number(i))
	if err != nil {
		return 0, err
	}
	if v.IsNil() {
		ctx.PushResult(value.Nil)
		return 1, nil
	}
	ctx.PushResult(value.Number(i))
	ctx.PushResult(v)
	return 2, nil
}

func baseSelect(a any) (int, error) {
	ctx := ctxOf(a)
	if s, ok := argString(ctx, 0); ok && s == "#" {
		ctx.PushResult(value.Number(float64(ctx.ArgCount() - 1)))
		return 1, nil
	}
	n, _ := argNumber(ctx, 0)
	start := int(n)
	count := 0
	for i := start; i < ctx.ArgCount(); i++ {
		ctx.PushResult(ctx.Arg(i))
		count++
	}
	return count, nil
}

func baseRawGet(a any) (int, error) {
	ctx := ctxOf(a)
	t := ctx.Arg(0)
	if t.Kind() != value.KindTable {
		return 0, luaerr.TypeError("bad argument #1 to 'rawget' (table expected, got %s)", t.Kind())
	}
	v, err := ctx.GetField(t.AsTableHandle(), ctx.Arg(1))
	if err != nil {
		return 0, err
	}
	ctx.PushResult(v)
	return 1, nil
}

func baseRawSet(a any) (int, error) {
	ctx := ctxOf(a)
	t := ctx.Arg(0)
	if t.Kind() != value.KindTable {
		return 0, luaerr.TypeError("bad argument #1 to 'rawset' (table expected, got %s)", t.Kind())
	}
	if err := ctx.SetField(t.AsTableHandle(), ctx.Arg(1), ctx.Arg(2)); err != nil {
		return 0, err
	}
	ctx.PushResult(t)
	return 1, nil
}

func baseRawEqual(a any) (int, error) {
	ctx := ctxOf(a)
	ctx.PushResult(value.Boolean(value.RawEqual(ctx.Arg(0), ctx.Arg(1))))
	return 1, nil
}

func baseRawLen(a any) (int, error) {
	ctx := ctxOf(a)
	v := ctx.Arg(0)
	switch v.Kind() {
	case value.KindTable:
		n, err := ctx.TableLen(v.AsTableHandle())
		if err != nil {
			return 0, err
		}
		ctx.PushResult(value.Number(float64(n)))
	case value.KindString:
		b, err := ctx.StringBytes(v.AsStringHandle())
		if err != nil {
			return 0, err
		}
		ctx.PushResult(value.Number(float64(len(b))))
	default:
		return 0, luaerr.TypeError("table or string expected")
	}
	return 1, nil
}

func baseUnpack(a any) (int, error) {
	ctx := ctxOf(a)
	t := ctx.Arg(0)
	if t.Kind() != value.KindTable {
		return 0, luaerr.TypeError("bad argument #1 to 'unpack' (table expected, got %s)", t.Kind())
	}
	i := 1
	if n, ok := argNumber(ctx, 1); ok {
		i = int(n)
	}
	j, err := ctx.TableLen(t.AsTableHandle())
	if err != nil {
		return 0, err
	}
	if n, ok := argNumber(ctx, 2); ok {
		j = int(n)
	}
	count := 0
	for ; i <= j; i++ {
		v, err := ctx.GetField(t.AsTableHandle(), value.Number(float64(i)))
		if err != nil {
			return 0, err
		}
		ctx.PushResult(v)
		count++
	}
	return count, nil
}

// basePCall implements protected calls: Context.Call re-enters the VM's
// own dispatch loop (never the Go call stack), so a Lua-level error there
// surfaces as a Go error here to convert into pcall's (false, err) result
// rather than unwinding further.
func basePCall(a any) (int, error) {
	ctx := ctxOf(a)
	fn := ctx.Arg(0)
	argc := ctx.ArgCount() - 1
	if argc < 0 {
		argc = 0
	}
	args := make([]value.Value, 0, argc)
	for i := 1; i < ctx.ArgCount(); i++ {
		args = append(args, ctx.Arg(i))
	}

	results, err := ctx.Call(fn, args)
	if err != nil {
		ctx.PushResult(value.Boolean(false))
		ctx.PushResult(errorValue(ctx, err))
		return 2, nil
	}
	ctx.PushResult(value.Boolean(true))
	for _, v := range results {
		ctx.PushResult(v)
	}
	return 1 + len(results), nil
}

// baseXPCall implements pcall with a message handler: the handler receives
// the error value and its own single return value is what xpcall reports
// back instead of the raw error.
func baseXPCall(a any) (int, error) {
	ctx := ctxOf(a)
	fn := ctx.Arg(0)
	handler := ctx.Arg(1)
	argc := ctx.ArgCount() - 2
	if argc < 0 {
		argc = 0
	}
	args := make([]value.Value, 0, argc)
	for i := 2; i < ctx.ArgCount(); i++ {
		args = append(args, ctx.Arg(i))
	}

	results, err := ctx.Call(fn, args)
	if err != nil {
		handled, herr := ctx.Call(handler, []value.Value{errorValue(ctx, err)})
		if herr != nil {
			handled = []value.Value{errorValue(ctx, herr)}
		}
		ctx.PushResult(value.Boolean(false))
		if len(handled) > 0 {
			ctx.PushResult(handled[0])
		} else {
			ctx.PushResult(value.Nil)
		}
		return 2, nil
	}
	ctx.PushResult(value.Boolean(true))
	for _, v := range results {
		ctx.PushResult(v)
	}
	return 1 + len(results), nil
}

// errorValue extracts the Lua value a luaerr.Error carries (set by
// baseError for a user-level error() call) or falls back to its rendered
// message for errors raised internally by the VM.
func errorValue(ctx exec.Context, err error) value.Value {
	if le, ok := err.(*luaerr.Error); ok && !le.Value.IsNil() {
		return le.Value
	}
	return value.String(ctx.CreateString([]byte(err.Error())))
}

func baseError(a any) (int, error) {
	ctx := ctxOf(a)
	v := ctx.Arg(0)
	msg, _ := ctx.ToString(v)
	return 0, luaerr.Runtime(v, msg)
}

func baseAssert(a any) (int, error) {
	ctx := ctxOf(a)
	if !ctx.Arg(0).IsTruthy() {
		msg := "assertion failed!"
		if s, ok := argString(ctx, 1); ok {
			msg = s
		}
		return 0, luaerr.Runtime(value.String(ctx.CreateString([]byte(msg))), msg)
	}
	for i := 0; i < ctx.ArgCount(); i++ {
		ctx.PushResult(ctx.Arg(i))
	}
	return ctx.ArgCount(), nil
}

func baseSetMetatable(a any) (int, error) {
	ctx := ctxOf(a)
	t := ctx.Arg(0)
	if t.Kind() != value.KindTable {
		return 0, luaerr.TypeError("bad argument #1 to 'setmetatable' (table expected, got %s)", t.Kind())
	}
	mt := ctx.Arg(1)
	vc, ok := ctx.(interface {
		SetMetatable(value.TableHandle, value.Value) error
	})
	if ok {
		if err := vc.SetMetatable(t.AsTableHandle(), mt); err != nil {
			return 0, err
		}
	}
	ctx.PushResult(t)
	return 1, nil
}

func baseGetMetatable(a any) (int, error) {
	ctx := ctxOf(a)
	t := ctx.Arg(0)
	vc, ok := ctx.(interface {
		Metatable(value.TableHandle) (value.Value, error)
	})
	if !ok || t.Kind() != value.KindTable {
		ctx.PushResult(value.Nil)
		return 1, nil
	}
	mt, err := vc.Metatable(t.AsTableHandle())
	if err != nil {
		return 0, err
	}
	ctx.PushResult(mt)
	return 1, nil
}

// parseNumber implements tonumber's string-to-number conversion: decimal
// and 0x-prefixed hexadecimal integers, with optional leading sign and
// surrounding whitespace, matching Lua 5.1's lexer-based strtod/strtoul
// behavior closely enough for scripting use.
func parseNumber(s string) (float64, bool) {
	return parseLuaNumber(s)
}
