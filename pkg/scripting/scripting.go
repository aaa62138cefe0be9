// Package scripting is the external Go API of the Lua scripting engine:
// Load compiles (really, just validates) a bytecode chunk once, Run
// executes it against a fresh or pooled heap with a given KEYS/ARGV pair
// and host dispatcher. Matches SPEC_FULL.md §6's Go-native shape.
package scripting

import (
	"time"

	"luacore/internal/bytecode"
	"luacore/internal/exec"
	"luacore/internal/heap"
	"luacore/internal/stdlib"
	"luacore/internal/value"
	"luacore/internal/vm"
)

// Host is the data-store command dispatcher a script's redis.* calls
// reach. Re-exported from internal/exec so callers never import an
// internal package.
type Host = exec.Host

// Reply is the host's response shape, and also what Run ultimately
// converts a script's return value into.
type Reply = exec.Reply

// ReplyKind tags a Reply's active variant.
type ReplyKind = exec.ReplyKind

const (
	ReplyNil     = exec.ReplyNil
	ReplyInteger = exec.ReplyInteger
	ReplyBulk    = exec.ReplyBulk
	ReplyArray   = exec.ReplyArray
	ReplyStatus  = exec.ReplyStatus
	ReplyError   = exec.ReplyError
)

// Limits bounds one script execution: an instruction count, a memory
// ceiling, and an optional wall-clock deadline.
type Limits struct {
	MaxInstructions uint64
	MaxMemoryBytes  uint64
	Deadline        time.Time
}

func (l Limits) heapLimits() heap.Limits {
	return heap.Limits{MaxInstructions: l.MaxInstructions, MaxMemoryBytes: l.MaxMemoryBytes}
}

// Script is a loaded, validated bytecode chunk ready to Run repeatedly.
// Proto handles are scoped to the heap that created them, so Script holds
// the raw bytes rather than a handle — each Run loads them fresh into
// whichever heap it executes against, mirroring how a real Redis server
// recompiles a cached script's body into each Lua state that runs it.
type Script struct {
	source   string
	bytecode []byte
}

// Load validates that data is a well-formed Lua 5.1 binary chunk (or
// bytecode.Encode-produced equivalent) by loading it once against a
// throwaway heap, then returns a Script ready for repeated Run calls.
func Load(source string, data []byte) (*Script, error) {
	h := heap.New(heap.Limits{}, nil)
	if _, err := bytecode.Load(h, data); err != nil {
		return nil, err
	}
	return &Script{source: source, bytecode: append([]byte(nil), data...)}, nil
}

// Run executes script against a fresh heap: installs the standard
// library, seeds KEYS/ARGV as globals (the Redis Lua convention), runs
// the root chunk to completion, and converts its single return value to
// a Reply. Use Runner instead when heaps should be pooled across calls.
func Run(script *Script, keys, argv [][]byte, host Host, limits Limits) (Reply, error) {
	h := heap.New(limits.heapLimits(), nil)
	return runOn(h, script, keys, argv, host, limits)
}

func runOn(h *heap.Heap, script *Script, keys, argv [][]byte, host Host, limits Limits) (Reply, error) {
	if err := stdlib.Install(h, host); err != nil {
		return Reply{}, err
	}
	protoHandle, err := bytecode.Load(h, script.bytecode)
	if err != nil {
		return Reply{}, err
	}

	g, err := h.GetTableMut(h.Roots.Globals)
	if err != nil {
		return Reply{}, err
	}
	keysHandle, err := byteSlicesToTable(h, keys)
	if err != nil {
		return Reply{}, err
	}
	argvHandle, err := byteSlicesToTable(h, argv)
	if err != nil {
		return Reply{}, err
	}
	g.RawSet(value.String(h.CreateString([]byte("KEYS"))), value.Table(keysHandle))
	g.RawSet(value.String(h.CreateString([]byte("ARGV"))), value.Table(argvHandle))

	m, err := vm.New(h, host, script.source)
	if err != nil {
		return Reply{}, err
	}
	if !limits.Deadline.IsZero() {
		m.SetDeadline(limits.Deadline)
	}

	result, err := m.Run(protoHandle, nil)
	if err != nil {
		return Reply{}, err
	}
	return valueToReply(h, result)
}

func byteSlicesToTable(h *heap.Heap, items [][]byte) (value.TableHandle, error) {
	th := h.CreateTable(len(items), 0)
	t, err := h.GetTableMut(th)
	if err != nil {
		return value.TableHandle{}, err
	}
	for i, item := range items {
		t.RawSet(value.Number(float64(i+1)), value.String(h.CreateString(item)))
	}
	return th, nil
}
