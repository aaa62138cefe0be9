package stdlib

import (
	"sort"

	"luacore/internal/exec"
	"luacore/internal/heap"
	"luacore/internal/luaerr"
	"luacore/internal/value"
)

func installTableLib(h *heap.Heap) value.TableHandle {
	th := h.CreateTable(0, 8)
	t, _ := h.GetTableMut(th)
	cfn(t, h, "insert", tblInsert)
	cfn(t, h, "remove", tblRemove)
	cfn(t, h, "concat", tblConcat)
	cfn(t, h, "sort", tblSort)
	cfn(t, h, "getn", tblGetn)
	return th
}

func tblInsert(a any) (int, error) {
	ctx := ctxOf(a)
	t := ctx.Arg(0)
	if t.Kind() != value.KindTable {
		return 0, luaerr.TypeError("bad argument #1 to 'insert' (table expected, got %s)", t.Kind())
	}
	th := t.AsTableHandle()
	n, err := ctx.TableLen(th)
	if err != nil {
		return 0, err
	}

	var pos int
	var v value.Value
	if ctx.ArgCount() >= 3 {
		pn, _ := argNumber(ctx, 1)
		pos = int(pn)
		v = ctx.Arg(2)
	} else {
		pos = n + 1
		v = ctx.Arg(1)
	}
	for i := n + 1; i > pos; i-- {
		prev, err := ctx.GetField(th, value.Number(float64(i-1)))
		if err != nil {
			return 0, err
		}
		if err := ctx.SetField(th, value.Number(float64(i)), prev); err != nil {
			return 0, err
		}
	}
	if err := ctx.SetField(th, value.Number(float64(pos)), v); err != nil {
		return 0, err
	}
	return 0, nil
}

func tblRemove(a any) (int, error) {
	ctx := ctxOf(a)
	t := ctx.Arg(0)
	if t.Kind() != value.KindTable {
		return 0, luaerr.TypeError("bad argument #1 to 'remove' (table expected, got %s)", t.Kind())
	}
	th := t.AsTableHandle()
	n, err := ctx.TableLen(th)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		ctx.PushResult(value.Nil)
		return 1, nil
	}
	pos := n
	if pn, ok := argNumber(ctx, 1); ok {
		pos = int(pn)
	}
	removed, err := ctx.GetField(th, value.Number(float64(pos)))
	if err != nil {
		return 0, err
	}
	for i := pos; i < n; i++ {
		next, err := ctx.GetField(th, value.Number(float64(i+1)))
		if err != nil {
			return 0, err
		}
		if err := ctx.SetField(th, value.Number(float64(i)), next); err != nil {
			return 0, err
		}
	}
	if err := ctx.SetField(th, value.Number(float64(n)), value.Nil); err != nil {
		return 0, err
	}
	ctx.PushResult(removed)
	return 1, nil
}

func tblConcat(a any) (int, error) {
	ctx := ctxOf(a)
	t := ctx.Arg(0)
	if t.Kind() != value.KindTable {
		return 0, luaerr.TypeError("bad argument #1 to 'concat' (table expected, got %s)", t.Kind())
	}
	th := t.AsTableHandle()
	sep := ""
	if s, ok := argString(ctx, 1); ok {
		sep = s
	}
	i := 1
	if n, ok := argNumber(ctx, 2); ok {
		i = int(n)
	}
	j, err := ctx.TableLen(th)
	if err != nil {
		return 0, err
	}
	if n, ok := argNumber(ctx, 3); ok {
		j = int(n)
	}

	var out []byte
	for ; i <= j; i++ {
		v, err := ctx.GetField(th, value.Number(float64(i)))
		if err != nil {
			return 0, err
		}
		s, err := concatElemString(ctx, v)
		if err != nil {
			return 0, err
		}
		if len(out) > 0 {
			out = append(out, sep...)
		}
		out = append(out, s...)
	}
	pushString(ctx, string(out))
	return 1, nil
}

func concatElemString(ctx exec.Context, v value.Value) (string, error) {
	switch v.Kind() {
	case value.KindString:
		b, err := ctx.StringBytes(v.AsStringHandle())
		return string(b), err
	case value.KindNumber:
		return ctx.ToString(v)
	default:
		return "", luaerr.TypeError("invalid value (%s) at a table.concat entry", v.Kind())
	}
}

func tblGetn(a any) (int, error) {
	ctx := ctxOf(a)
	t := ctx.Arg(0)
	if t.Kind() != value.KindTable {
		return 0, luaerr.TypeError("bad argument #1 to 'getn' (table expected, got %s)", t.Kind())
	}
	n, err := ctx.TableLen(t.AsTableHandle())
	if err != nil {
		return 0, err
	}
	ctx.PushResult(value.Number(float64(n)))
	return 1, nil
}

// tblSort sorts a table's array part in place. Without a comparator it
// orders numbers and strings the default Lua way (`<`); with one, each
// comparison re-enters the VM through Context.Call, mirroring the real
// qsort-plus-callback shape table.sort uses against a Lua comparator.
func tblSort(a any) (int, error) {
	ctx := ctxOf(a)
	t := ctx.Arg(0)
	if t.Kind() != value.KindTable {
		return 0, luaerr.TypeError("bad argument #1 to 'sort' (table expected, got %s)", t.Kind())
	}
	th := t.AsTableHandle()
	n, err := ctx.TableLen(th)
	if err != nil {
		return 0, err
	}
	cmp := ctx.Arg(1)

	elems := make([]value.Value, n)
	for i := 0; i < n; i++ {
		v, err := ctx.GetField(th, value.Number(float64(i+1)))
		if err != nil {
			return 0, err
		}
		elems[i] = v
	}

	var sortErr error
	sort.SliceStable(elems, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		if cmp.IsNil() {
			less, err := defaultLess(ctx, elems[i], elems[j])
			if err != nil {
				sortErr = err
			}
			return less
		}
		results, err := ctx.Call(cmp, []value.Value{elems[i], elems[j]})
		if err != nil {
			sortErr = err
			return false
		}
		return len(results) > 0 && results[0].IsTruthy()
	})
	if sortErr != nil {
		return 0, sortErr
	}

	for i, v := range elems {
		if err := ctx.SetField(th, value.Number(float64(i+1)), v); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

func defaultLess(ctx exec.Context, a, b value.Value) (bool, error) {
	if a.Kind() == value.KindNumber && b.Kind() == value.KindNumber {
		return a.AsNumber() < b.AsNumber(), nil
	}
	as, aok := concatElemStringOK(ctx, a)
	bs, bok := concatElemStringOK(ctx, b)
	if aok && bok {
		return as < bs, nil
	}
	return false, luaerr.TypeError("attempt to compare two %s values", a.Kind())
}

func concatElemStringOK(ctx exec.Context, v value.Value) (string, bool) {
	if v.Kind() != value.KindString {
		return "", false
	}
	b, err := ctx.StringBytes(v.AsStringHandle())
	if err != nil {
		return "", false
	}
	return string(b), true
}
