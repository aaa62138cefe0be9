package scripting

import (
	"errors"

	"luacore/internal/luaerr"
)

// errorKind labels a failed run for the ScriptErrorsTotal counter. Errors
// that never went through luaerr (a heap/bytecode construction failure, for
// instance) fall back to "internal" rather than panicking on a type assert.
func errorKind(err error) string {
	var e *luaerr.Error
	if errors.As(err, &e) {
		return string(e.Kind)
	}
	return "internal"
}
