// Package heap owns every dynamically allocated Lua object behind typed
// generational-arena handles, the string-intern cache, the globals/registry/
// main-thread roots, and the resource-limit counters that bound a script's
// memory and object-count footprint.
package heap

import (
	"errors"

	"luacore/internal/arena"
	"luacore/internal/luaerr"
	"luacore/internal/metrics"
	"luacore/internal/thread"
	"luacore/internal/value"
)

var errInvalidNextKey = errors.New("heap: invalid key to 'next'")

// Limits bounds a single script's resource consumption. Both are hard caps:
// exceeding either raises a ResourceExhausted error with the matching
// Resource kind (the wall-clock deadline is held by the VM, see
// vm.SetDeadline). A zero field means no limit.
type Limits struct {
	MaxInstructions uint64
	MaxMemoryBytes  uint64
}

// Counters tracks live resource consumption against Limits.
type Counters struct {
	BytesAllocated      uint64
	ValuesLive          uint64
	InstructionsExecuted uint64
}

// Heap is the single owner of every arena, the intern cache, and the root
// handles for one script execution. It carries no cross-goroutine
// synchronization of its own: the embedder's global execution lock (out of
// scope here, see SPEC_FULL.md §5) guarantees only one script touches a
// given Heap at a time. internal/heappool pools *Heap values across scripts.
type Heap struct {
	strings *arena.Arena[*LuaString]
	tables  *arena.Arena[*Table]
	closures *arena.Arena[*Closure]
	upvalues *arena.Arena[*Upvalue]
	protos  *arena.Arena[*FunctionProto]
	threads *arena.Arena[*threadBox]

	intern map[string]value.StringHandle

	Roots    Roots
	Limits   Limits
	Counters Counters

	metrics *metrics.Scripting // optional; nil when running without Prometheus wiring
}

// New builds an empty Heap with globals, registry, and a main thread
// already rooted, ready to receive a root closure. metricsHandle may be nil
// — the core never requires Prometheus to be configured to run.
func New(limits Limits, metricsHandle *metrics.Scripting) *Heap {
	h := &Heap{
		strings:  arena.New[*LuaString](64),
		tables:   arena.New[*Table](16),
		closures: arena.New[*Closure](16),
		upvalues: arena.New[*Upvalue](16),
		protos:   arena.New[*FunctionProto](16),
		threads:  arena.New[*threadBox](2),
		intern:   make(map[string]value.StringHandle, 64),
		Limits:   limits,
		metrics:  metricsHandle,
	}
	h.Roots.Globals = h.CreateTable(0, 32)
	h.Roots.Registry = h.CreateTable(0, 8)
	h.Roots.Main = h.CreateThread(256)
	return h
}

func (h *Heap) chargeBytes(n uint64) error {
	h.Counters.BytesAllocated += n
	if h.metrics != nil {
		h.metrics.BytesAllocated.Add(float64(n))
	}
	if h.Limits.MaxMemoryBytes != 0 && h.Counters.BytesAllocated > h.Limits.MaxMemoryBytes {
		return luaerr.ResourceExhausted(luaerr.ResourceMemory, "script exceeded memory limit of %d bytes", h.Limits.MaxMemoryBytes)
	}
	return nil
}

func (h *Heap) chargeValue() {
	h.Counters.ValuesLive++
	if h.metrics != nil {
		h.metrics.ValuesLive.Inc()
	}
}

// ChargeInstruction increments the instruction counter and returns
// ResourceExhausted{instructions} once the limit is crossed, or
// ResourceExhausted{memory} once the bytes charged by the constructors
// exceed MaxMemoryBytes. Called once per VM dispatch cycle by internal/vm.
func (h *Heap) ChargeInstruction() error {
	h.Counters.InstructionsExecuted++
	if h.metrics != nil {
		h.metrics.InstructionsExecuted.Inc()
	}
	if h.Limits.MaxInstructions != 0 && h.Counters.InstructionsExecuted > h.Limits.MaxInstructions {
		return luaerr.ResourceExhausted(luaerr.ResourceInstructions, "script exceeded instruction limit of %d", h.Limits.MaxInstructions)
	}
	if h.Limits.MaxMemoryBytes != 0 && h.Counters.BytesAllocated > h.Limits.MaxMemoryBytes {
		return luaerr.ResourceExhausted(luaerr.ResourceMemory, "script exceeded memory limit of %d bytes", h.Limits.MaxMemoryBytes)
	}
	return nil
}

// CreateString returns the interned handle for bytes, allocating a new
// LuaString only the first time a given byte sequence is seen.
func (h *Heap) CreateString(bytes []byte) value.StringHandle {
	key := string(bytes) // Go string keys compare byte-wise, matching Lua
	if sh, ok := h.intern[key]; ok {
		return sh
	}
	owned := make([]byte, len(bytes))
	copy(owned, bytes)
	ls := &LuaString{Bytes: owned, Hash: fnvHash(owned)}
	h.chargeBytes(uint64(len(owned)) + 32)
	h.chargeValue()
	handle := h.strings.Insert(ls)
	sh := value.StringHandle{H: handle}
	h.intern[key] = sh
	return sh
}

// GetString dereferences a StringHandle.
func (h *Heap) GetString(sh value.StringHandle) (*LuaString, error) {
	ls, err := h.strings.Get(sh.H)
	if err != nil {
		return nil, luaerr.StaleHandle(err)
	}
	return ls, nil
}

// CreateTable allocates an empty table with capacity hints.
func (h *Heap) CreateTable(narr, nhash int) value.TableHandle {
	t := NewTable(narr, nhash)
	h.chargeBytes(48)
	h.chargeValue()
	return value.TableHandle{H: h.tables.Insert(t)}
}

// GetTable dereferences a TableHandle for read access. Callers that need to
// mutate the table should use GetTableMut.
func (h *Heap) GetTable(th value.TableHandle) (*Table, error) {
	t, err := h.tables.Get(th.H)
	if err != nil {
		return nil, luaerr.StaleHandle(err)
	}
	return t, nil
}

// GetTableMut returns the table pointer for in-place mutation.
func (h *Heap) GetTableMut(th value.TableHandle) (*Table, error) {
	pp, err := h.tables.GetMut(th.H)
	if err != nil {
		return nil, luaerr.StaleHandle(err)
	}
	return *pp, nil
}

// CreateClosure allocates a closure over proto with the given upvalues. len
// (upvalues) must equal proto.Upvalues length; callers (internal/vm) are
// expected to have already resolved descriptors into concrete handles.
func (h *Heap) CreateClosure(proto value.ProtoHandle, upvalues []value.UpvalueHandle) (value.ClosureHandle, error) {
	p, err := h.GetProto(proto)
	if err != nil {
		return value.ClosureHandle{}, err
	}
	if len(upvalues) != len(p.Upvalues) {
		return value.ClosureHandle{}, luaerr.TypeError("closure upvalue count mismatch: got %d, proto wants %d", len(upvalues), len(p.Upvalues))
	}
	c := &Closure{Proto: proto, Upvalues: upvalues}
	h.chargeBytes(uint64(24 + 8*len(upvalues)))
	h.chargeValue()
	return value.ClosureHandle{H: h.closures.Insert(c)}, nil
}

// GetClosure dereferences a ClosureHandle.
func (h *Heap) GetClosure(ch value.ClosureHandle) (*Closure, error) {
	c, err := h.closures.Get(ch.H)
	if err != nil {
		return nil, luaerr.StaleHandle(err)
	}
	return c, nil
}

// CreateProto installs a compiled prototype in the heap, returning its
// handle. Used by internal/bytecode's chunk loader and directly by tests
// that hand-build a Proto.
func (h *Heap) CreateProto(p *FunctionProto) value.ProtoHandle {
	h.chargeBytes(uint64(64 + 4*len(p.Code) + 16*len(p.Constants)))
	h.chargeValue()
	return value.ProtoHandle{H: h.protos.Insert(p)}
}

// GetProto dereferences a ProtoHandle.
func (h *Heap) GetProto(ph value.ProtoHandle) (*FunctionProto, error) {
	p, err := h.protos.Get(ph.H)
	if err != nil {
		return nil, luaerr.StaleHandle(err)
	}
	return p, nil
}

// CreateOpenUpvalue allocates a new Open upvalue pointing at (threadHandle,
// stackIndex). Called only by internal/upvalue's manager, which enforces
// the find-or-create and monotonicity invariants.
func (h *Heap) CreateOpenUpvalue(th value.ThreadHandle, stackIndex int) value.UpvalueHandle {
	uv := &Upvalue{State: UpvalueOpen, Thread: th, StackIndex: stackIndex}
	h.chargeBytes(32)
	h.chargeValue()
	return value.UpvalueHandle{H: h.upvalues.Insert(uv)}
}

// GetUpvalue dereferences an UpvalueHandle.
func (h *Heap) GetUpvalue(uh value.UpvalueHandle) (*Upvalue, error) {
	uv, err := h.upvalues.Get(uh.H)
	if err != nil {
		return nil, luaerr.StaleHandle(err)
	}
	return uv, nil
}

// CreateThread allocates a new Thread with its stack preallocated to hint
// slots and returns its handle.
func (h *Heap) CreateThread(hint int) value.ThreadHandle {
	t := thread.New(hint)
	h.chargeBytes(uint64(16 * hint))
	h.chargeValue()
	return value.ThreadHandle{H: h.threads.Insert(&threadBox{T: t})}
}

// GetThread dereferences a ThreadHandle to the underlying *thread.Thread.
func (h *Heap) GetThread(th value.ThreadHandle) (*thread.Thread, error) {
	box, err := h.threads.Get(th.H)
	if err != nil {
		return nil, luaerr.StaleHandle(err)
	}
	return box.T, nil
}

// ResetScript truncates the main thread's stack, releases the per-script
// table/closure/upvalue/string arenas, and trims the intern cache back to
// nothing — giving a bounded per-script memory footprint without a tracing
// collector, per §3's Lifecycle note. The thread and prototype arenas are
// kept; string constants of prototypes loaded before the reset refer to
// handles that are now stale, so a script's bytecode is loaded again
// before it runs on a reset heap (pkg/scripting does this on every run).
func (h *Heap) ResetScript() {
	main, err := h.GetThread(h.Roots.Main)
	if err == nil {
		main.Reset()
	}
	h.tables.Reset()
	h.closures.Reset()
	h.upvalues.Reset()
	h.intern = make(map[string]value.StringHandle, 64)
	h.strings.Reset()
	h.Counters = Counters{}
	h.Roots.Globals = h.CreateTable(0, 32)
	h.Roots.Registry = h.CreateTable(0, 8)
}
