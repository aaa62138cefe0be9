// Package demo provides a minimal in-memory key-value store implementing
// exec.Host, so cmd/scriptd has something real for a script's redis.*
// calls to reach. The actual data store a production embedder plugs in is
// out of scope for this module (SPEC_FULL.md §1/§6) — this is deliberately
// small, just enough to exercise redis.call/pcall over HTTP for manual
// testing, not a Redis reimplementation.
package demo

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"luacore/internal/exec"
)

// Store is a goroutine-safe map of byte-string keys to byte-string values,
// backing the handful of commands scripts can exercise through redis.call.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Call implements exec.Host. Unknown commands and wrong-arity calls return
// an error, which redis.call raises into the script as a Lua error.
func (s *Store) Call(cmd string, args [][]byte) (exec.Reply, error) {
	return s.dispatch(cmd, args)
}

// PCall implements exec.Host. Any failure dispatch would otherwise return
// as an error comes back as a ReplyError instead, per redis.pcall's
// contract of never raising into the script.
func (s *Store) PCall(cmd string, args [][]byte) (exec.Reply, error) {
	reply, err := s.dispatch(cmd, args)
	if err != nil {
		return exec.Reply{Kind: exec.ReplyError, Err: err.Error()}, nil
	}
	return reply, nil
}

// Log implements exec.Host by routing redis.log calls to the default
// structured logger, tagged the way the teacher tags every subsystem.
func (s *Store) Log(level int, msg string) {
	slog.Info("script_log", "level", level, "msg", msg, "component", "demo_store")
}

func (s *Store) dispatch(cmd string, args [][]byte) (exec.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd {
	case "PING":
		return exec.Reply{Kind: exec.ReplyStatus, Status: "PONG"}, nil
	case "GET":
		if len(args) != 1 {
			return exec.Reply{}, fmt.Errorf("GET requires 1 argument, got %d", len(args))
		}
		v, ok := s.data[string(args[0])]
		if !ok {
			return exec.Reply{Kind: exec.ReplyNil}, nil
		}
		return exec.Reply{Kind: exec.ReplyBulk, Bulk: v}, nil
	case "SET":
		if len(args) != 2 {
			return exec.Reply{}, fmt.Errorf("SET requires 2 arguments, got %d", len(args))
		}
		s.data[string(args[0])] = append([]byte(nil), args[1]...)
		return exec.Reply{Kind: exec.ReplyStatus, Status: "OK"}, nil
	case "DEL":
		if len(args) < 1 {
			return exec.Reply{}, fmt.Errorf("DEL requires at least 1 argument")
		}
		var n int64
		for _, k := range args {
			if _, ok := s.data[string(k)]; ok {
				delete(s.data, string(k))
				n++
			}
		}
		return exec.Reply{Kind: exec.ReplyInteger, Integer: n}, nil
	case "EXISTS":
		if len(args) != 1 {
			return exec.Reply{}, fmt.Errorf("EXISTS requires 1 argument, got %d", len(args))
		}
		if _, ok := s.data[string(args[0])]; ok {
			return exec.Reply{Kind: exec.ReplyInteger, Integer: 1}, nil
		}
		return exec.Reply{Kind: exec.ReplyInteger, Integer: 0}, nil
	case "INCR", "INCRBY":
		if (cmd == "INCR" && len(args) != 1) || (cmd == "INCRBY" && len(args) != 2) {
			return exec.Reply{}, fmt.Errorf("%s wrong number of arguments", cmd)
		}
		delta := int64(1)
		if cmd == "INCRBY" {
			d, err := strconv.ParseInt(string(args[1]), 10, 64)
			if err != nil {
				return exec.Reply{}, fmt.Errorf("value is not an integer or out of range")
			}
			delta = d
		}
		cur := int64(0)
		if v, ok := s.data[string(args[0])]; ok {
			n, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				return exec.Reply{}, fmt.Errorf("value is not an integer or out of range")
			}
			cur = n
		}
		cur += delta
		s.data[string(args[0])] = []byte(strconv.FormatInt(cur, 10))
		return exec.Reply{Kind: exec.ReplyInteger, Integer: cur}, nil
	case "APPEND":
		if len(args) != 2 {
			return exec.Reply{}, fmt.Errorf("APPEND requires 2 arguments, got %d", len(args))
		}
		s.data[string(args[0])] = append(s.data[string(args[0])], args[1]...)
		return exec.Reply{Kind: exec.ReplyInteger, Integer: int64(len(s.data[string(args[0])]))}, nil
	default:
		return exec.Reply{}, fmt.Errorf("unknown command '%s'", cmd)
	}
}
