package demo

import (
	"testing"

	"luacore/internal/exec"
)

func TestStoreGetSetRoundTrip(t *testing.T) {
	s := New()

	reply, err := s.Call("GET", [][]byte{[]byte("missing")})
	if err != nil {
		t.Fatalf("GET missing: unexpected error: %v", err)
	}
	if reply.Kind != exec.ReplyNil {
		t.Fatalf("GET missing: kind = %v, want Nil", reply.Kind)
	}

	if _, err := s.Call("SET", [][]byte{[]byte("k"), []byte("v")}); err != nil {
		t.Fatalf("SET: unexpected error: %v", err)
	}

	reply, err = s.Call("GET", [][]byte{[]byte("k")})
	if err != nil {
		t.Fatalf("GET: unexpected error: %v", err)
	}
	if reply.Kind != exec.ReplyBulk || string(reply.Bulk) != "v" {
		t.Fatalf("GET = %+v, want bulk 'v'", reply)
	}
}

func TestStoreIncr(t *testing.T) {
	s := New()

	reply, err := s.Call("INCR", [][]byte{[]byte("counter")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Integer != 1 {
		t.Fatalf("first INCR = %d, want 1", reply.Integer)
	}

	reply, err = s.Call("INCRBY", [][]byte{[]byte("counter"), []byte("41")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Integer != 42 {
		t.Fatalf("INCRBY = %d, want 42", reply.Integer)
	}
}

func TestStoreDelExists(t *testing.T) {
	s := New()
	_, _ = s.Call("SET", [][]byte{[]byte("a"), []byte("1")})

	reply, err := s.Call("EXISTS", [][]byte{[]byte("a")})
	if err != nil || reply.Integer != 1 {
		t.Fatalf("EXISTS before delete = %+v, err=%v", reply, err)
	}

	reply, err = s.Call("DEL", [][]byte{[]byte("a"), []byte("nope")})
	if err != nil || reply.Integer != 1 {
		t.Fatalf("DEL = %+v, err=%v, want 1 deleted", reply, err)
	}

	reply, err = s.Call("EXISTS", [][]byte{[]byte("a")})
	if err != nil || reply.Integer != 0 {
		t.Fatalf("EXISTS after delete = %+v, err=%v", reply, err)
	}
}

func TestStoreCallRaisesOnUnknownCommand(t *testing.T) {
	s := New()
	if _, err := s.Call("NOPE", nil); err == nil {
		t.Fatal("Call with unknown command should return an error")
	}
}

func TestStorePCallConvertsErrorToReply(t *testing.T) {
	s := New()
	reply, err := s.PCall("NOPE", nil)
	if err != nil {
		t.Fatalf("PCall must never return a Go error, got %v", err)
	}
	if reply.Kind != exec.ReplyError {
		t.Fatalf("PCall reply kind = %v, want Error", reply.Kind)
	}
	if reply.Err == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestStorePing(t *testing.T) {
	s := New()
	reply, err := s.Call("PING", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Kind != exec.ReplyStatus || reply.Status != "PONG" {
		t.Fatalf("PING reply = %+v", reply)
	}
}
