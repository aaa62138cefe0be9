// Package exec defines the narrow interface given to every native callback
// (standard-library functions and the host's redis.call dispatcher). It
// hides the heap's arenas and the thread entirely: a callback can read its
// arguments, push results, build strings/tables, and re-enter the VM
// through Call, but it can never hold a mutable borrow of the heap across
// its own return — the sole abstraction barrier that keeps native code
// composable with the two-phase borrow discipline used by opcode handlers.
package exec

import "luacore/internal/value"

// Context is implemented by internal/vm.VM and passed to every
// value.CFunction and every internal/stdlib entry point.
type Context interface {
	// ArgCount returns the number of arguments passed to this call.
	ArgCount() int
	// Arg returns the i'th argument (0-based), or Nil if i is out of range.
	Arg(i int) value.Value
	// PushResult appends v to this call's result list.
	PushResult(v value.Value)

	// CreateString interns bytes and returns its handle.
	CreateString(bytes []byte) value.StringHandle
	// CreateTable allocates an empty table with capacity hints.
	CreateTable(narr, nhash int) value.TableHandle

	// GetField performs a raw, non-metamethod field read — table[key].
	GetField(t value.TableHandle, key value.Value) (value.Value, error)
	// SetField performs a raw, non-metamethod field write — table[key]=v.
	SetField(t value.TableHandle, key value.Value, v value.Value) error

	// Index performs a metamethod-aware index read, equivalent to the
	// GETTABLE/GETGLOBAL opcode path (consults __index on miss).
	Index(t value.Value, key value.Value) (value.Value, error)
	// NewIndex performs a metamethod-aware index write.
	NewIndex(t value.Value, key value.Value, v value.Value) error

	// Raise aborts the current call with err, unwinding to the nearest
	// pcall barrier or the root frame.
	Raise(err error) error

	// Call re-enters the VM to invoke fn with args, returning its results.
	// Used by pcall/xpcall/table.sort's comparator/string.gsub's
	// replacement-function form.
	Call(fn value.Value, args []value.Value) ([]value.Value, error)

	// ToString renders v the way `tostring` would, consulting __tostring
	// if present.
	ToString(v value.Value) (string, error)

	// StringBytes dereferences a StringHandle to its backing bytes.
	StringBytes(h value.StringHandle) ([]byte, error)

	// TableLen and TableNext give raw read access to a table's length and
	// traversal, beyond GetField/SetField (e.g. table.insert's array
	// manipulation).
	TableLen(t value.TableHandle) (int, error)
	TableNext(t value.TableHandle, key value.Value) (value.Value, value.Value, bool, error)

	// Log routes a message to the host sink (`print`, `redis.log`).
	Log(level int, msg string)
}
