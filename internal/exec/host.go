package exec

// ReplyKind tags the shape of a host Reply, mirroring the Redis protocol
// reply types a script's redis.call result must be converted to and from.
type ReplyKind uint8

const (
	ReplyNil ReplyKind = iota
	ReplyInteger
	ReplyBulk
	ReplyArray
	ReplyStatus
	ReplyError
)

// Reply is the host's response to a redis.call/redis.pcall dispatch, or the
// value a script hands back to the embedder at the root frame after
// conversion (SPEC_FULL.md §6 "Reply conversion").
type Reply struct {
	Kind    ReplyKind
	Integer int64
	Bulk    []byte
	Array   []Reply
	Status  string
	Err     string
}

// Host is the data-store command dispatcher injected into the `redis`
// global. Its implementation (script-cache lookup, the actual command
// table, atomicity with other clients) is entirely the embedder's concern —
// out of scope for the core, per SPEC_FULL.md §1.
type Host interface {
	// Call executes cmd with args and returns its reply, or an error if the
	// command itself failed (redis.call semantics: raises into the script).
	Call(cmd string, args [][]byte) (Reply, error)
	// PCall is redis.pcall's counterpart: a failed command comes back as a
	// ReplyError-kind Reply with a nil error, never as a Go error, so the
	// script can inspect it instead of having the failure raised into it.
	PCall(cmd string, args [][]byte) (Reply, error)
	// Log routes a redis.log(level, msg) call to the host's logger.
	Log(level int, msg string)
}
