package scripting

import (
	"testing"

	"luacore/internal/heap"
	"luacore/internal/value"
)

func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()
	return heap.New(heap.Limits{}, nil)
}

func TestValueToReplyScalars(t *testing.T) {
	h := newTestHeap(t)

	cases := []struct {
		name string
		v    value.Value
		want ReplyKind
	}{
		{"nil", value.Nil, ReplyNil},
		{"false", value.Boolean(false), ReplyNil},
		{"true", value.Boolean(true), ReplyInteger},
		{"number", value.Number(3.7), ReplyInteger},
		{"string", value.String(h.CreateString([]byte("hi"))), ReplyBulk},
	}
	for _, c := range cases {
		reply, err := valueToReply(h, c.v)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.name, err)
		}
		if reply.Kind != c.want {
			t.Errorf("%s: kind = %v, want %v", c.name, reply.Kind, c.want)
		}
	}
}

func TestValueToReplyTrueIsIntegerOne(t *testing.T) {
	h := newTestHeap(t)
	reply, err := valueToReply(h, value.Boolean(true))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Integer != 1 {
		t.Errorf("true -> Integer = %d, want 1", reply.Integer)
	}
}

func TestValueToReplyNumberTruncates(t *testing.T) {
	h := newTestHeap(t)
	reply, err := valueToReply(h, value.Number(9.99))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Integer != 9 {
		t.Errorf("9.99 -> Integer = %d, want 9", reply.Integer)
	}
}

func TestTableToReplyErrField(t *testing.T) {
	h := newTestHeap(t)
	th := h.CreateTable(0, 1)
	tbl, err := h.GetTableMut(th)
	if err != nil {
		t.Fatal(err)
	}
	tbl.RawSet(value.String(h.CreateString([]byte("err"))), value.String(h.CreateString([]byte("boom"))))

	reply, err := valueToReply(h, value.Table(th))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Kind != ReplyError || reply.Err != "boom" {
		t.Errorf("reply = %+v, want Error 'boom'", reply)
	}
}

func TestTableToReplyOkField(t *testing.T) {
	h := newTestHeap(t)
	th := h.CreateTable(0, 1)
	tbl, err := h.GetTableMut(th)
	if err != nil {
		t.Fatal(err)
	}
	tbl.RawSet(value.String(h.CreateString([]byte("ok"))), value.String(h.CreateString([]byte("OK"))))

	reply, err := valueToReply(h, value.Table(th))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Kind != ReplyStatus || reply.Status != "OK" {
		t.Errorf("reply = %+v, want Status 'OK'", reply)
	}
}

func TestTableToReplyArrayTruncatesAtNil(t *testing.T) {
	h := newTestHeap(t)
	th := h.CreateTable(3, 0)
	tbl, err := h.GetTableMut(th)
	if err != nil {
		t.Fatal(err)
	}
	tbl.RawSet(value.Number(1), value.String(h.CreateString([]byte("a"))))
	tbl.RawSet(value.Number(2), value.String(h.CreateString([]byte("b"))))
	// index 3 left nil; index 4 set but must never be reached.
	tbl.RawSet(value.Number(4), value.String(h.CreateString([]byte("d"))))

	reply, err := valueToReply(h, value.Table(th))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Kind != ReplyArray {
		t.Fatalf("kind = %v, want Array", reply.Kind)
	}
	if len(reply.Array) != 2 {
		t.Fatalf("len(Array) = %d, want 2 (truncated at the nil hole)", len(reply.Array))
	}
	if string(reply.Array[0].Bulk) != "a" || string(reply.Array[1].Bulk) != "b" {
		t.Fatalf("array elements = %q, %q", reply.Array[0].Bulk, reply.Array[1].Bulk)
	}
}
