package vm

import (
	"luacore/internal/luaerr"
	"luacore/internal/value"
)

// Context methods implement exec.Context, the narrow surface handed to
// every value.CFunction (internal/stdlib's entries and the host's
// redis.call dispatcher). A CFunction receives the VM itself as ctx any
// and type-asserts it back to exec.Context — see internal/stdlib.

func (vm *VM) currentNative() *nativeCall {
	return vm.nativeStack[len(vm.nativeStack)-1]
}

func (vm *VM) ArgCount() int {
	return len(vm.currentNative().args)
}

func (vm *VM) Arg(i int) value.Value {
	args := vm.currentNative().args
	if i < 0 || i >= len(args) {
		return value.Nil
	}
	return args[i]
}

func (vm *VM) PushResult(v value.Value) {
	nc := vm.currentNative()
	nc.results = append(nc.results, v)
}

func (vm *VM) CreateString(bytes []byte) value.StringHandle {
	return vm.H.CreateString(bytes)
}

func (vm *VM) CreateTable(narr, nhash int) value.TableHandle {
	return vm.H.CreateTable(narr, nhash)
}

func (vm *VM) GetField(t value.TableHandle, key value.Value) (value.Value, error) {
	table, err := vm.H.GetTable(t)
	if err != nil {
		return value.Nil, err
	}
	return table.RawGet(key), nil
}

func (vm *VM) SetField(t value.TableHandle, key value.Value, v value.Value) error {
	table, err := vm.H.GetTableMut(t)
	if err != nil {
		return err
	}
	if key.IsNil() {
		return luaerr.TypeError("table index is nil")
	}
	table.RawSet(key, v)
	return nil
}

func (vm *VM) Raise(err error) error { return err }

func (vm *VM) Call(fn value.Value, args []value.Value) ([]value.Value, error) {
	return vm.callSync(fn, args)
}

// ToString renders v the way `tostring` would, consulting __tostring on a
// table before falling back to the kind-tagged default rendering.
func (vm *VM) ToString(v value.Value) (string, error) {
	if v.Kind() == value.KindTable {
		if handler, ok, err := vm.metamethodOf(v, "__tostring"); err != nil {
			return "", err
		} else if ok {
			results, err := vm.callSync(handler, []value.Value{v})
			if err != nil {
				return "", err
			}
			s, _ := vm.concatString(first(results))
			return s, nil
		}
	}
	switch v.Kind() {
	case value.KindNil:
		return "nil", nil
	case value.KindBoolean:
		if v.AsBoolean() {
			return "true", nil
		}
		return "false", nil
	case value.KindNumber:
		return formatNumber(v.AsNumber()), nil
	case value.KindString:
		s, err := vm.H.GetString(v.AsStringHandle())
		if err != nil {
			return "", err
		}
		return string(s.Bytes), nil
	case value.KindTable:
		return "table: 0x0", nil
	case value.KindClosure, value.KindCFunction:
		return "function: 0x0", nil
	default:
		return v.Kind().String() + ": 0x0", nil
	}
}

func (vm *VM) StringBytes(h value.StringHandle) ([]byte, error) {
	s, err := vm.H.GetString(h)
	if err != nil {
		return nil, err
	}
	return s.Bytes, nil
}

func (vm *VM) TableLen(t value.TableHandle) (int, error) {
	table, err := vm.H.GetTable(t)
	if err != nil {
		return 0, err
	}
	return table.Len(), nil
}

func (vm *VM) TableNext(t value.TableHandle, key value.Value) (value.Value, value.Value, bool, error) {
	table, err := vm.H.GetTable(t)
	if err != nil {
		return value.Nil, value.Nil, false, err
	}
	return table.Next(key)
}

// SetMetatable installs mt as t's metatable, or clears it when mt is Nil.
// Not part of exec.Context — internal/stdlib's setmetatable reaches it via
// a narrower interface type assertion since only tables carry metatables
// in this object model.
func (vm *VM) SetMetatable(t value.TableHandle, mt value.Value) error {
	table, err := vm.H.GetTableMut(t)
	if err != nil {
		return err
	}
	if mt.IsNil() {
		table.SetMetatable(value.TableHandle{})
		return nil
	}
	if mt.Kind() != value.KindTable {
		return luaerr.TypeError("bad argument #2 to 'setmetatable' (nil or table expected)")
	}
	table.SetMetatable(mt.AsTableHandle())
	return nil
}

// Metatable returns t's metatable as a Value, or Nil if it has none.
func (vm *VM) Metatable(t value.TableHandle) (value.Value, error) {
	table, err := vm.H.GetTable(t)
	if err != nil {
		return value.Nil, err
	}
	mh, ok := table.Metatable()
	if !ok {
		return value.Nil, nil
	}
	return value.Table(mh), nil
}

func (vm *VM) Log(level int, msg string) {
	if vm.Host != nil {
		vm.Host.Log(level, msg)
	}
}
