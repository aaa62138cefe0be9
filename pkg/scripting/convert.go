package scripting

import (
	"math"

	"luacore/internal/heap"
	"luacore/internal/value"
)

// valueToReply converts a script's single Lua return value into a Reply,
// following the standard Redis Lua conversion rules: false/nil become a
// Nil reply, true becomes integer 1, numbers truncate to integers,
// strings pass through as bulk replies, and tables are inspected for an
// "err"/"ok" field before falling back to an array reply truncated at the
// first nil element (Lua's own notion of where a sequence ends).
func valueToReply(h *heap.Heap, v value.Value) (Reply, error) {
	switch v.Kind() {
	case value.KindNil:
		return Reply{Kind: ReplyNil}, nil
	case value.KindBoolean:
		if !v.AsBoolean() {
			return Reply{Kind: ReplyNil}, nil
		}
		return Reply{Kind: ReplyInteger, Integer: 1}, nil
	case value.KindNumber:
		return Reply{Kind: ReplyInteger, Integer: int64(math.Trunc(v.AsNumber()))}, nil
	case value.KindString:
		s, err := h.GetString(v.AsStringHandle())
		if err != nil {
			return Reply{}, err
		}
		return Reply{Kind: ReplyBulk, Bulk: append([]byte(nil), s.Bytes...)}, nil
	case value.KindTable:
		return tableToReply(h, v.AsTableHandle())
	default:
		return Reply{Kind: ReplyNil}, nil
	}
}

func tableToReply(h *heap.Heap, th value.TableHandle) (Reply, error) {
	t, err := h.GetTable(th)
	if err != nil {
		return Reply{}, err
	}

	if errv := t.RawGet(value.String(h.CreateString([]byte("err")))); !errv.IsNil() {
		s, serr := luaToGoString(h, errv)
		if serr != nil {
			return Reply{}, serr
		}
		return Reply{Kind: ReplyError, Err: s}, nil
	}
	if okv := t.RawGet(value.String(h.CreateString([]byte("ok")))); !okv.IsNil() {
		s, serr := luaToGoString(h, okv)
		if serr != nil {
			return Reply{}, serr
		}
		return Reply{Kind: ReplyStatus, Status: s}, nil
	}

	var elems []Reply
	for i := 1; ; i++ {
		v := t.RawGet(value.Number(float64(i)))
		if v.IsNil() {
			break
		}
		r, err := valueToReply(h, v)
		if err != nil {
			return Reply{}, err
		}
		elems = append(elems, r)
	}
	return Reply{Kind: ReplyArray, Array: elems}, nil
}

func luaToGoString(h *heap.Heap, v value.Value) (string, error) {
	if v.Kind() != value.KindString {
		return "", nil
	}
	s, err := h.GetString(v.AsStringHandle())
	if err != nil {
		return "", err
	}
	return string(s.Bytes), nil
}
