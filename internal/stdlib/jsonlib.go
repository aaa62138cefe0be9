package stdlib

import (
	"encoding/json"
	"strconv"
	"strings"

	"luacore/internal/exec"
	"luacore/internal/heap"
	"luacore/internal/luaerr"
	"luacore/internal/value"
)

// installJSONLib implements the cjson.encode/decode subset: encode walks a
// Lua value directly (a table with a non-zero length encodes as a JSON
// array of elements 1..#t, and its other keys are not written; a table of
// length zero encodes as an object), decode uses encoding/json for the
// parse and rebuilds Lua tables from its generic any result — grounded on
// Go's own encoding/json rather than a third-party codec, since no example
// repo in the corpus imports one; wiring the standard library here is the
// documented exception (see DESIGN.md).
func installJSONLib(h *heap.Heap) value.TableHandle {
	th := h.CreateTable(0, 2)
	t, _ := h.GetTableMut(th)
	cfn(t, h, "encode", jsonEncode)
	cfn(t, h, "decode", jsonDecode)
	return th
}

func jsonEncode(a any) (int, error) {
	ctx := ctxOf(a)
	var b strings.Builder
	if err := encodeJSONValue(ctx, &b, ctx.Arg(0), 0); err != nil {
		return 0, err
	}
	pushString(ctx, b.String())
	return 1, nil
}

func encodeJSONValue(ctx exec.Context, b *strings.Builder, v value.Value, depth int) error {
	if depth > 128 {
		return luaerr.TypeError("cjson.encode: nesting too deep")
	}
	switch v.Kind() {
	case value.KindNil:
		b.WriteString("null")
	case value.KindBoolean:
		if v.AsBoolean() {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case value.KindNumber:
		b.WriteString(strconv.FormatFloat(v.AsNumber(), 'g', -1, 64))
	case value.KindString:
		s, err := ctx.StringBytes(v.AsStringHandle())
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(string(s))
		if err != nil {
			return err
		}
		b.Write(encoded)
	case value.KindTable:
		return encodeJSONTable(ctx, b, v.AsTableHandle(), depth)
	default:
		return luaerr.TypeError("cjson.encode: cannot serialize %s", v.Kind())
	}
	return nil
}

func encodeJSONTable(ctx exec.Context, b *strings.Builder, th value.TableHandle, depth int) error {
	n, err := ctx.TableLen(th)
	if err != nil {
		return err
	}
	if n > 0 {
		b.WriteByte('[')
		for i := 1; i <= n; i++ {
			if i > 1 {
				b.WriteByte(',')
			}
			elem, err := ctx.GetField(th, value.Number(float64(i)))
			if err != nil {
				return err
			}
			if err := encodeJSONValue(ctx, b, elem, depth+1); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	}

	b.WriteByte('{')
	first := true
	key := value.Nil
	for {
		k, v, done, err := ctx.TableNext(th, key)
		if err != nil {
			return err
		}
		if done {
			break
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		keyStr, err := ctx.ToString(k)
		if err != nil {
			return err
		}
		encodedKey, _ := json.Marshal(keyStr)
		b.Write(encodedKey)
		b.WriteByte(':')
		if err := encodeJSONValue(ctx, b, v, depth+1); err != nil {
			return err
		}
		key = k
	}
	b.WriteByte('}')
	return nil
}

func jsonDecode(a any) (int, error) {
	ctx := ctxOf(a)
	s, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'decode' (string expected)")
	}
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return 0, luaerr.TypeError("cjson.decode: %s", err.Error())
	}
	v, err := jsonToLua(ctx, parsed)
	if err != nil {
		return 0, err
	}
	ctx.PushResult(v)
	return 1, nil
}

func jsonToLua(ctx exec.Context, v any) (value.Value, error) {
	switch t := v.(type) {
	case nil:
		return value.Nil, nil
	case bool:
		return value.Boolean(t), nil
	case float64:
		return value.Number(t), nil
	case string:
		return value.String(ctx.CreateString([]byte(t))), nil
	case []any:
		th := ctx.CreateTable(len(t), 0)
		for i, elem := range t {
			ev, err := jsonToLua(ctx, elem)
			if err != nil {
				return value.Nil, err
			}
			if err := ctx.SetField(th, value.Number(float64(i+1)), ev); err != nil {
				return value.Nil, err
			}
		}
		return value.Table(th), nil
	case map[string]any:
		th := ctx.CreateTable(0, len(t))
		for k, elem := range t {
			ev, err := jsonToLua(ctx, elem)
			if err != nil {
				return value.Nil, err
			}
			if err := ctx.SetField(th, value.String(ctx.CreateString([]byte(k))), ev); err != nil {
				return value.Nil, err
			}
		}
		return value.Table(th), nil
	default:
		return value.Nil, luaerr.TypeError("cjson.decode: unsupported JSON value")
	}
}
