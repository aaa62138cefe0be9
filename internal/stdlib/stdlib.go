// Package stdlib implements the subset of the Lua 5.1 standard library
// exposed to sandboxed scripts, plus the `redis` host-callback table. Every
// entry is a value.CFunction taking an exec.Context (never the heap or
// thread directly), matching the boundary internal/exec defines.
package stdlib

import (
	"luacore/internal/exec"
	"luacore/internal/heap"
	"luacore/internal/value"
)

// Install registers every library this build supports into h's globals
// table: the unprefixed base library, and the string/table/math/cjson/redis
// namespace tables. pkg/scripting calls this before every run, pooled heap
// or not, since ResetScript recreates the globals table and a second script
// on a reused heap would otherwise see an empty environment.
func Install(h *heap.Heap, host exec.Host) error {
	g, err := h.GetTableMut(h.Roots.Globals)
	if err != nil {
		return err
	}

	installBase(h, g)
	g.RawSet(str(h, "string"), value.Table(installStringLib(h)))
	g.RawSet(str(h, "table"), value.Table(installTableLib(h)))
	g.RawSet(str(h, "math"), value.Table(installMathLib(h)))
	g.RawSet(str(h, "cjson"), value.Table(installJSONLib(h)))
	g.RawSet(str(h, "redis"), value.Table(installRedisLib(h, host)))

	return nil
}

func str(h *heap.Heap, s string) value.Value {
	return value.String(h.CreateString([]byte(s)))
}

func cfn(g *heap.Table, h *heap.Heap, name string, fn value.CFunction) {
	g.RawSet(str(h, name), value.CFunc(fn))
}

// ctxOf narrows the opaque `any` every CFunction receives back to
// exec.Context. Every caller in this package is internal/vm.VM, which
// implements the interface; the assertion only fails if stdlib is wired
// to a different caller, a programmer error worth panicking on immediately
// rather than propagating a confusing nil-pointer error deeper in.
func ctxOf(a any) exec.Context { return a.(exec.Context) }

func argString(ctx exec.Context, i int) (string, bool) {
	v := ctx.Arg(i)
	if v.Kind() != value.KindString {
		return "", false
	}
	b, err := ctx.StringBytes(v.AsStringHandle())
	if err != nil {
		return "", false
	}
	return string(b), true
}

func argNumber(ctx exec.Context, i int) (float64, bool) {
	v := ctx.Arg(i)
	if v.Kind() != value.KindNumber {
		return 0, false
	}
	return v.AsNumber(), true
}

func pushString(ctx exec.Context, s string) {
	ctx.PushResult(value.String(ctx.CreateString([]byte(s))))
}
