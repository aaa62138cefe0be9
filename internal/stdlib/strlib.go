package stdlib

import (
	"fmt"
	"strings"

	"luacore/internal/exec"
	"luacore/internal/heap"
	"luacore/internal/luaerr"
	"luacore/internal/value"
)

func installStringLib(h *heap.Heap) value.TableHandle {
	th := h.CreateTable(0, 16)
	t, _ := h.GetTableMut(th)
	cfn(t, h, "len", strLen)
	cfn(t, h, "sub", strSub)
	cfn(t, h, "upper", strUpper)
	cfn(t, h, "lower", strLower)
	cfn(t, h, "rep", strRep)
	cfn(t, h, "reverse", strReverse)
	cfn(t, h, "byte", strByte)
	cfn(t, h, "char", strChar)
	cfn(t, h, "format", strFormat)
	cfn(t, h, "find", strFind)
	cfn(t, h, "match", strMatch)
	cfn(t, h, "gmatch", strGmatch)
	cfn(t, h, "gsub", strGsub)
	return th
}

func strLen(a any) (int, error) {
	ctx := ctxOf(a)
	s, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'len' (string expected)")
	}
	ctx.PushResult(value.Number(float64(len(s))))
	return 1, nil
}

// strRange resolves Lua's 1-based, negative-from-end substring indices,
// used by sub/byte.
func strRange(length, i, j int) (int, int) {
	if i < 0 {
		i = length + i + 1
		if i < 1 {
			i = 1
		}
	} else if i == 0 {
		i = 1
	}
	if j < 0 {
		j = length + j + 1
	} else if j > length {
		j = length
	}
	return i, j
}

func strSub(a any) (int, error) {
	ctx := ctxOf(a)
	s, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'sub' (string expected)")
	}
	i := 1
	if n, ok := argNumber(ctx, 1); ok {
		i = int(n)
	}
	j := -1
	if n, ok := argNumber(ctx, 2); ok {
		j = int(n)
	}
	i, j = strRange(len(s), i, j)
	if i > j {
		pushString(ctx, "")
		return 1, nil
	}
	pushString(ctx, s[i-1:j])
	return 1, nil
}

func strUpper(a any) (int, error) {
	ctx := ctxOf(a)
	s, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'upper' (string expected)")
	}
	pushString(ctx, strings.ToUpper(s))
	return 1, nil
}

func strLower(a any) (int, error) {
	ctx := ctxOf(a)
	s, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'lower' (string expected)")
	}
	pushString(ctx, strings.ToLower(s))
	return 1, nil
}

func strRep(a any) (int, error) {
	ctx := ctxOf(a)
	s, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'rep' (string expected)")
	}
	n, _ := argNumber(ctx, 1)
	count := int(n)
	if count <= 0 {
		pushString(ctx, "")
		return 1, nil
	}
	pushString(ctx, strings.Repeat(s, count))
	return 1, nil
}

func strReverse(a any) (int, error) {
	ctx := ctxOf(a)
	s, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'reverse' (string expected)")
	}
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	pushString(ctx, string(b))
	return 1, nil
}

func strByte(a any) (int, error) {
	ctx := ctxOf(a)
	s, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'byte' (string expected)")
	}
	i := 1
	if n, ok := argNumber(ctx, 1); ok {
		i = int(n)
	}
	j := i
	if n, ok := argNumber(ctx, 2); ok {
		j = int(n)
	}
	i, j = strRange(len(s), i, j)
	count := 0
	for ; i <= j; i++ {
		ctx.PushResult(value.Number(float64(s[i-1])))
		count++
	}
	return count, nil
}

func strChar(a any) (int, error) {
	ctx := ctxOf(a)
	b := make([]byte, ctx.ArgCount())
	for i := 0; i < ctx.ArgCount(); i++ {
		n, ok := argNumber(ctx, i)
		if !ok {
			return 0, luaerr.TypeError("bad argument #%d to 'char' (number expected)", i+1)
		}
		b[i] = byte(n)
	}
	pushString(ctx, string(b))
	return 1, nil
}

// strFormat implements the %d/%i/%u/%f/%g/%e/%s/%q/%x/%X/%o/%c/%% subset
// of string.format by delegating each verb's width/precision flags to
// Go's fmt, translating only the verb letters Lua and Go disagree on.
func strFormat(a any) (int, error) {
	ctx := ctxOf(a)
	format, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'format' (string expected)")
	}
	var out strings.Builder
	argi := 1
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			out.WriteByte(c)
			continue
		}
		start := i
		i++
		for i < len(format) && strings.ContainsRune("-+ #0123456789.", rune(format[i])) {
			i++
		}
		if i >= len(format) {
			return 0, luaerr.TypeError("invalid format string to 'format'")
		}
		verb := format[i]
		spec := format[start : i+1]
		switch verb {
		case '%':
			out.WriteByte('%')
		case 'd', 'i', 'u':
			n, _ := argNumber(ctx, argi)
			argi++
			fmt.Fprintf(&out, spec[:len(spec)-1]+"d", int64(n))
		case 'x', 'X', 'o':
			n, _ := argNumber(ctx, argi)
			argi++
			fmt.Fprintf(&out, spec, int64(n))
		case 'c':
			n, _ := argNumber(ctx, argi)
			argi++
			out.WriteByte(byte(n))
		case 'f', 'F', 'g', 'G', 'e', 'E':
			n, _ := argNumber(ctx, argi)
			argi++
			fmt.Fprintf(&out, spec, n)
		case 's':
			s, err := ctx.ToString(ctx.Arg(argi))
			if err != nil {
				return 0, err
			}
			argi++
			fmt.Fprintf(&out, spec, s)
		case 'q':
			s, _ := argString(ctx, argi)
			argi++
			out.WriteString(quoteLua(s))
		default:
			return 0, luaerr.TypeError("invalid conversion '%%%c' to 'format'", verb)
		}
	}
	pushString(ctx, out.String())
	return 1, nil
}

func quoteLua(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case 0:
			b.WriteString("\\0")
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func pushCaptures(ctx exec.Context, results []capResult) int {
	for _, r := range results {
		if r.isPos {
			ctx.PushResult(value.Number(float64(r.pos)))
		} else {
			pushString(ctx, r.s)
		}
	}
	return len(results)
}

func strFind(a any) (int, error) {
	ctx := ctxOf(a)
	s, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'find' (string expected)")
	}
	pat, ok := argString(ctx, 1)
	if !ok {
		return 0, luaerr.TypeError("bad argument #2 to 'find' (string expected)")
	}
	init := 1
	if n, ok := argNumber(ctx, 2); ok {
		init = int(n)
	}
	plain := ctx.Arg(3).IsTruthy()
	start, _ := strRange(len(s), init, len(s))
	start--
	if start < 0 {
		start = 0
	}
	if start > len(s) {
		ctx.PushResult(value.Nil)
		return 1, nil
	}

	if plain || !strings.ContainsAny(pat, "^$*+?.([%-") {
		idx := strings.Index(s[start:], pat)
		if idx < 0 {
			ctx.PushResult(value.Nil)
			return 1, nil
		}
		ctx.PushResult(value.Number(float64(start + idx + 1)))
		ctx.PushResult(value.Number(float64(start + idx + len(pat))))
		return 2, nil
	}

	end, caps, found, err := doMatch([]byte(s), []byte(pat), start)
	if err != nil {
		return 0, err
	}
	if !found {
		ctx.PushResult(value.Nil)
		return 1, nil
	}
	mstart := findMatchStart(s, pat, start, end, caps)
	ctx.PushResult(value.Number(float64(mstart + 1)))
	ctx.PushResult(value.Number(float64(end)))
	if len(caps) == 0 {
		return 2, nil
	}
	return 2 + pushCaptures(ctx, capturesOrWhole([]byte(s), mstart, end, caps)), nil
}

// findMatchStart recovers the match's starting offset, since doMatch only
// reports where the scan began and where the match ended (Lua's matcher
// does not track the start separately, relying on the caller's search
// cursor instead).
func findMatchStart(s, pat string, scanStart, end int, caps []capture) int {
	anchor := len(pat) > 0 && pat[0] == '^'
	if anchor {
		return scanStart
	}
	p := pat
	if anchor {
		p = pat[1:]
	}
	for i := scanStart; i <= end; i++ {
		if e, c, ok, err := doMatch([]byte(s), []byte(p), i); err == nil && ok && e == end {
			_ = c
			return i
		}
	}
	return scanStart
}

func strMatch(a any) (int, error) {
	ctx := ctxOf(a)
	s, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'match' (string expected)")
	}
	pat, ok := argString(ctx, 1)
	if !ok {
		return 0, luaerr.TypeError("bad argument #2 to 'match' (string expected)")
	}
	init := 1
	if n, ok := argNumber(ctx, 2); ok {
		init = int(n)
	}
	start, _ := strRange(len(s), init, len(s))
	start--
	if start < 0 {
		start = 0
	}
	end, caps, found, err := doMatch([]byte(s), []byte(pat), start)
	if err != nil {
		return 0, err
	}
	if !found {
		ctx.PushResult(value.Nil)
		return 1, nil
	}
	mstart := findMatchStart(s, pat, start, end, caps)
	return pushCaptures(ctx, capturesOrWhole([]byte(s), mstart, end, caps)), nil
}

func strGmatch(a any) (int, error) {
	ctx := ctxOf(a)
	s, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'gmatch' (string expected)")
	}
	pat, ok := argString(ctx, 1)
	if !ok {
		return 0, luaerr.TypeError("bad argument #2 to 'gmatch' (string expected)")
	}
	pos := 0
	iter := value.CFunc(func(innerAny any) (int, error) {
		ictx := ctxOf(innerAny)
		for pos <= len(s) {
			end, caps, found, err := doMatch([]byte(s), []byte(pat), pos)
			if err != nil {
				return 0, err
			}
			if !found {
				ictx.PushResult(value.Nil)
				return 1, nil
			}
			mstart := findMatchStart(s, pat, pos, end, caps)
			if end == pos {
				pos++
			} else {
				pos = end
			}
			return pushCaptures(ictx, capturesOrWhole([]byte(s), mstart, end, caps)), nil
		}
		ictx.PushResult(value.Nil)
		return 1, nil
	})
	ctx.PushResult(iter)
	return 1, nil
}

func strGsub(a any) (int, error) {
	ctx := ctxOf(a)
	s, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'gsub' (string expected)")
	}
	pat, ok := argString(ctx, 1)
	if !ok {
		return 0, luaerr.TypeError("bad argument #2 to 'gsub' (string expected)")
	}
	repl := ctx.Arg(2)
	maxN := -1
	if n, ok := argNumber(ctx, 3); ok {
		maxN = int(n)
	}

	var out strings.Builder
	pos := 0
	count := 0
	for pos <= len(s) {
		if maxN >= 0 && count >= maxN {
			break
		}
		end, caps, found, err := doMatch([]byte(s), []byte(pat), pos)
		if !found {
			break
		}
		if err != nil {
			return 0, err
		}
		mstart := findMatchStart(s, pat, pos, end, caps)
		out.WriteString(s[pos:mstart])
		capVals := capturesOrWhole([]byte(s), mstart, end, caps)
		whole := s[mstart:end]

		replacement, err := gsubReplacement(ctx, repl, whole, capVals)
		if err != nil {
			return 0, err
		}
		out.WriteString(replacement)
		count++

		if end == pos {
			if end < len(s) {
				out.WriteByte(s[end])
			}
			pos = end + 1
		} else {
			pos = end
		}
	}
	if pos < len(s) {
		out.WriteString(s[pos:])
	}
	pushString(ctx, out.String())
	ctx.PushResult(value.Number(float64(count)))
	return 2, nil
}

func gsubReplacement(ctx exec.Context, repl value.Value, whole string, caps []capResult) (string, error) {
	switch repl.Kind() {
	case value.KindString:
		s, _ := ctx.StringBytes(repl.AsStringHandle())
		return expandGsubPattern(string(s), whole, caps), nil
	case value.KindTable:
		key := whole
		if len(caps) > 0 && !caps[0].isPos {
			key = caps[0].s
		}
		v, err := ctx.GetField(repl.AsTableHandle(), value.String(ctx.CreateString([]byte(key))))
		if err != nil {
			return "", err
		}
		return gsubResultToString(ctx, v, whole)
	case value.KindClosure, value.KindCFunction:
		args := make([]value.Value, len(caps))
		for i, c := range caps {
			if c.isPos {
				args[i] = value.Number(float64(c.pos))
			} else {
				args[i] = value.String(ctx.CreateString([]byte(c.s)))
			}
		}
		results, err := ctx.Call(repl, args)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return whole, nil
		}
		return gsubResultToString(ctx, results[0], whole)
	default:
		return whole, nil
	}
}

func gsubResultToString(ctx exec.Context, v value.Value, whole string) (string, error) {
	if v.IsNil() || (v.Kind() == value.KindBoolean && !v.AsBoolean()) {
		return whole, nil
	}
	return ctx.ToString(v)
}

// expandGsubPattern substitutes %0-%9 references in a gsub string
// replacement (%0 is the whole match, matching Lua's own convention).
func expandGsubPattern(repl, whole string, caps []capResult) string {
	var b strings.Builder
	for i := 0; i < len(repl); i++ {
		if repl[i] == '%' && i+1 < len(repl) {
			n := repl[i+1]
			if n == '%' {
				b.WriteByte('%')
				i++
				continue
			}
			if n >= '0' && n <= '9' {
				idx := int(n - '0')
				if idx == 0 || len(caps) == 0 {
					b.WriteString(whole)
				} else if idx-1 < len(caps) {
					c := caps[idx-1]
					if c.isPos {
						fmt.Fprintf(&b, "%d", c.pos)
					} else {
						b.WriteString(c.s)
					}
				}
				i++
				continue
			}
		}
		b.WriteByte(repl[i])
	}
	return b.String()
}
