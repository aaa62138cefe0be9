package stdlib

import (
	"math"
	"math/rand"

	"luacore/internal/heap"
	"luacore/internal/luaerr"
	"luacore/internal/value"
)

// installMathLib builds a fresh math table (and a fresh *rand.Rand closed
// over its random/randomseed entries) per Heap, so two sandboxed scripts
// sharing no state also share no PRNG sequence. Deterministic by default
// (seeded at 0) per the embedder's no-ambient-randomness requirement;
// randomseed reseeds explicitly from a script-supplied value.
func installMathLib(h *heap.Heap) value.TableHandle {
	th := h.CreateTable(0, 16)
	t, _ := h.GetTableMut(th)

	rng := rand.New(rand.NewSource(0))

	cfn(t, h, "floor", mathFloor)
	cfn(t, h, "ceil", mathCeil)
	cfn(t, h, "abs", mathAbs)
	cfn(t, h, "max", mathMax)
	cfn(t, h, "min", mathMin)
	cfn(t, h, "sqrt", mathSqrt)
	cfn(t, h, "fmod", mathFmod)
	cfn(t, h, "modf", mathModf)
	cfn(t, h, "pow", mathPow)
	cfn(t, h, "log", mathLog)
	cfn(t, h, "exp", mathExp)
	cfn(t, h, "sin", mathSin)
	cfn(t, h, "cos", mathCos)
	cfn(t, h, "tan", mathTan)

	t.RawSet(str(h, "huge"), value.Number(math.Inf(1)))
	t.RawSet(str(h, "pi"), value.Number(math.Pi))

	cfn(t, h, "random", func(a any) (int, error) {
		ctx := ctxOf(a)
		switch ctx.ArgCount() {
		case 0:
			ctx.PushResult(value.Number(rng.Float64()))
		case 1:
			m, _ := argNumber(ctx, 0)
			ctx.PushResult(value.Number(float64(1 + rng.Intn(int(m)))))
		default:
			lo, _ := argNumber(ctx, 0)
			hi, _ := argNumber(ctx, 1)
			ctx.PushResult(value.Number(float64(int(lo) + rng.Intn(int(hi)-int(lo)+1))))
		}
		return 1, nil
	})
	cfn(t, h, "randomseed", func(a any) (int, error) {
		ctx := ctxOf(a)
		n, _ := argNumber(ctx, 0)
		rng.Seed(int64(n))
		return 0, nil
	})

	return th
}

func mathFloor(a any) (int, error) {
	ctx := ctxOf(a)
	n, ok := argNumber(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'floor' (number expected)")
	}
	ctx.PushResult(value.Number(math.Floor(n)))
	return 1, nil
}

func mathCeil(a any) (int, error) {
	ctx := ctxOf(a)
	n, ok := argNumber(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'ceil' (number expected)")
	}
	ctx.PushResult(value.Number(math.Ceil(n)))
	return 1, nil
}

func mathAbs(a any) (int, error) {
	ctx := ctxOf(a)
	n, ok := argNumber(ctx, 0)
	if !ok {
		return 0, luaerr.TypeError("bad argument #1 to 'abs' (number expected)")
	}
	ctx.PushResult(value.Number(math.Abs(n)))
	return 1, nil
}

func mathMax(a any) (int, error) {
	ctx := ctxOf(a)
	if ctx.ArgCount() == 0 {
		return 0, luaerr.TypeError("bad argument #1 to 'max' (value expected)")
	}
	best, _ := argNumber(ctx, 0)
	for i := 1; i < ctx.ArgCount(); i++ {
		n, _ := argNumber(ctx, i)
		if n > best {
			best = n
		}
	}
	ctx.PushResult(value.Number(best))
	return 1, nil
}

func mathMin(a any) (int, error) {
	ctx := ctxOf(a)
	if ctx.ArgCount() == 0 {
		return 0, luaerr.TypeError("bad argument #1 to 'min' (value expected)")
	}
	best, _ := argNumber(ctx, 0)
	for i := 1; i < ctx.ArgCount(); i++ {
		n, _ := argNumber(ctx, i)
		if n < best {
			best = n
		}
	}
	ctx.PushResult(value.Number(best))
	return 1, nil
}

func mathSqrt(a any) (int, error) {
	ctx := ctxOf(a)
	n, _ := argNumber(ctx, 0)
	ctx.PushResult(value.Number(math.Sqrt(n)))
	return 1, nil
}

func mathFmod(a any) (int, error) {
	ctx := ctxOf(a)
	x, _ := argNumber(ctx, 0)
	y, _ := argNumber(ctx, 1)
	ctx.PushResult(value.Number(math.Mod(x, y)))
	return 1, nil
}

func mathModf(a any) (int, error) {
	ctx := ctxOf(a)
	n, _ := argNumber(ctx, 0)
	ip, fp := math.Modf(n)
	ctx.PushResult(value.Number(ip))
	ctx.PushResult(value.Number(fp))
	return 2, nil
}

func mathPow(a any) (int, error) {
	ctx := ctxOf(a)
	x, _ := argNumber(ctx, 0)
	y, _ := argNumber(ctx, 1)
	ctx.PushResult(value.Number(math.Pow(x, y)))
	return 1, nil
}

func mathLog(a any) (int, error) {
	ctx := ctxOf(a)
	n, _ := argNumber(ctx, 0)
	if base, ok := argNumber(ctx, 1); ok {
		ctx.PushResult(value.Number(math.Log(n) / math.Log(base)))
		return 1, nil
	}
	ctx.PushResult(value.Number(math.Log(n)))
	return 1, nil
}

func mathExp(a any) (int, error) {
	ctx := ctxOf(a)
	n, _ := argNumber(ctx, 0)
	ctx.PushResult(value.Number(math.Exp(n)))
	return 1, nil
}

func mathSin(a any) (int, error) {
	ctx := ctxOf(a)
	n, _ := argNumber(ctx, 0)
	ctx.PushResult(value.Number(math.Sin(n)))
	return 1, nil
}

func mathCos(a any) (int, error) {
	ctx := ctxOf(a)
	n, _ := argNumber(ctx, 0)
	ctx.PushResult(value.Number(math.Cos(n)))
	return 1, nil
}

func mathTan(a any) (int, error) {
	ctx := ctxOf(a)
	n, _ := argNumber(ctx, 0)
	ctx.PushResult(value.Number(math.Tan(n)))
	return 1, nil
}
