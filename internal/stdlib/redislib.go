package stdlib

import (
	"crypto/sha1"
	"encoding/hex"

	"luacore/internal/exec"
	"luacore/internal/heap"
	"luacore/internal/luaerr"
	"luacore/internal/value"
)

// installRedisLib wires the embedder's exec.Host into the `redis` global.
// call/pcall convert Lua argument tables to [][]byte and the host's Reply
// back to Lua values; error_reply/status_reply/sha1hex are pure Lua-side
// convenience with no host round trip, and log forwards to the host's Log.
func installRedisLib(h *heap.Heap, host exec.Host) value.TableHandle {
	th := h.CreateTable(0, 8)
	t, _ := h.GetTableMut(th)

	cfn(t, h, "call", func(a any) (int, error) {
		return redisDispatch(a, host.Call, true)
	})
	cfn(t, h, "pcall", func(a any) (int, error) {
		return redisDispatch(a, host.PCall, false)
	})
	cfn(t, h, "error_reply", redisErrorReply)
	cfn(t, h, "status_reply", redisStatusReply)
	cfn(t, h, "sha1hex", redisSha1Hex)
	cfn(t, h, "log", func(a any) (int, error) {
		ctx := ctxOf(a)
		level := 0
		if n, ok := argNumber(ctx, 0); ok {
			level = int(n)
		}
		if s, ok := argString(ctx, 1); ok {
			host.Log(level, s)
		}
		return 0, nil
	})
	// setresp/breakpoint: accepted by scripts written against a fuller
	// Redis Lua API but meaningless in this subset (no RESP3 mode, no
	// attached debugger) — documented no-ops, not silently dropped.
	cfn(t, h, "setresp", func(a any) (int, error) { return 0, nil })
	cfn(t, h, "breakpoint", func(a any) (int, error) {
		ctxOf(a).PushResult(value.Boolean(false))
		return 1, nil
	})

	return th
}

func redisDispatch(a any, call func(string, [][]byte) (exec.Reply, error), raiseOnError bool) (int, error) {
	ctx := ctxOf(a)
	if ctx.ArgCount() == 0 {
		return 0, luaerr.TypeError("redis.call requires at least one argument")
	}
	cmd, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to redis call (string expected)")
	}
	args := make([][]byte, 0, ctx.ArgCount()-1)
	for i := 1; i < ctx.ArgCount(); i++ {
		s, err := argAsBytes(ctx, i)
		if err != nil {
			return 0, err
		}
		args = append(args, s)
	}

	reply, err := call(cmd, args)
	if err != nil {
		if raiseOnError {
			return 0, luaerr.Runtime(value.Nil, err.Error())
		}
		v, verr := replyErrorTable(ctx, err.Error())
		if verr != nil {
			return 0, verr
		}
		ctx.PushResult(v)
		return 1, nil
	}
	v, err := replyToLua(ctx, reply)
	if err != nil {
		return 0, err
	}
	ctx.PushResult(v)
	return 1, nil
}

func argAsBytes(ctx exec.Context, i int) ([]byte, error) {
	v := ctx.Arg(i)
	switch v.Kind() {
	case value.KindString:
		return ctx.StringBytes(v.AsStringHandle())
	case value.KindNumber:
		s, err := ctx.ToString(v)
		return []byte(s), err
	default:
		return nil, luaerr.TypeError("Lua redis lib command arguments must be strings or integers")
	}
}

func replyToLua(ctx exec.Context, r exec.Reply) (value.Value, error) {
	switch r.Kind {
	case exec.ReplyNil:
		return value.Boolean(false), nil
	case exec.ReplyInteger:
		return value.Number(float64(r.Integer)), nil
	case exec.ReplyBulk:
		return value.String(ctx.CreateString(r.Bulk)), nil
	case exec.ReplyStatus:
		th := ctx.CreateTable(0, 1)
		if err := ctx.SetField(th, value.String(ctx.CreateString([]byte("ok"))), value.String(ctx.CreateString([]byte(r.Status)))); err != nil {
			return value.Nil, err
		}
		return value.Table(th), nil
	case exec.ReplyError:
		return replyErrorTable(ctx, r.Err)
	case exec.ReplyArray:
		th := ctx.CreateTable(len(r.Array), 0)
		for i, elem := range r.Array {
			v, err := replyToLua(ctx, elem)
			if err != nil {
				return value.Nil, err
			}
			if err := ctx.SetField(th, value.Number(float64(i+1)), v); err != nil {
				return value.Nil, err
			}
		}
		return value.Table(th), nil
	default:
		return value.Boolean(false), nil
	}
}

func replyErrorTable(ctx exec.Context, msg string) (value.Value, error) {
	th := ctx.CreateTable(0, 1)
	if err := ctx.SetField(th, value.String(ctx.CreateString([]byte("err"))), value.String(ctx.CreateString([]byte(msg)))); err != nil {
		return value.Nil, err
	}
	return value.Table(th), nil
}

func redisErrorReply(a any) (int, error) {
	ctx := ctxOf(a)
	msg, _ := argString(ctx, 0)
	v, err := replyErrorTable(ctx, msg)
	if err != nil {
		return 0, err
	}
	ctx.PushResult(v)
	return 1, nil
}

func redisStatusReply(a any) (int, error) {
	ctx := ctxOf(a)
	status, _ := argString(ctx, 0)
	th := ctx.CreateTable(0, 1)
	if err := ctx.SetField(th, value.String(ctx.CreateString([]byte("ok"))), value.String(ctx.CreateString([]byte(status)))); err != nil {
		return 0, err
	}
	ctx.PushResult(value.Table(th))
	return 1, nil
}

func redisSha1Hex(a any) (int, error) {
	ctx := ctxOf(a)
	s, ok := argString(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'sha1hex' (string expected)")
	}
	sum := sha1.Sum([]byte(s))
	pushString(ctx, hex.EncodeToString(sum[:]))
	return 1, nil
}
