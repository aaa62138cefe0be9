package stdlib

import "testing"

func TestDoMatchLiteral(t *testing.T) {
	end, caps, ok, err := doMatch([]byte("hello world"), []byte("world"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a match")
	}
	if len(caps) != 0 {
		t.Fatalf("expected no captures, got %d", len(caps))
	}
	if got := string([]byte("hello world")[end-len("world") : end]); got != "world" {
		t.Fatalf("matched text = %q", got)
	}
}

func TestDoMatchAnchored(t *testing.T) {
	_, _, ok, err := doMatch([]byte("hello world"), []byte("^world"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("anchored pattern should not match mid-string")
	}

	_, _, ok, err = doMatch([]byte("hello world"), []byte("^hello"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("anchored pattern should match at start")
	}
}

func TestDoMatchCharacterClasses(t *testing.T) {
	cases := []struct {
		src, pat string
		wantOK   bool
	}{
		{"abc123", "%a+", true},
		{"123", "%a+", false},
		{"   x", "%s+", true},
		{"foo.bar", "%.", true},
		{"foo-bar", "[%-%w]+", true},
	}
	for _, c := range cases {
		_, _, ok, err := doMatch([]byte(c.src), []byte(c.pat), 0)
		if err != nil {
			t.Fatalf("pattern %q on %q: unexpected error: %v", c.pat, c.src, err)
		}
		if ok != c.wantOK {
			t.Errorf("pattern %q on %q: ok = %v, want %v", c.pat, c.src, ok, c.wantOK)
		}
	}
}

func TestDoMatchCaptures(t *testing.T) {
	end, caps, ok, err := doMatch([]byte("key=value"), []byte("(%a+)=(%a+)"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a match")
	}
	if len(caps) != 2 {
		t.Fatalf("expected 2 captures, got %d", len(caps))
	}
	results := capturesOrWhole([]byte("key=value"), end-len("key=value"), end, caps)
	if results[0].s != "key" || results[1].s != "value" {
		t.Fatalf("captures = %q, %q", results[0].s, results[1].s)
	}
}

func TestDoMatchBalance(t *testing.T) {
	_, _, ok, err := doMatch([]byte("(nested (parens))"), []byte("%b()"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected %b() to match balanced parens")
	}
}

func TestClassEndMalformedPercent(t *testing.T) {
	ms := &matchState{pat: []byte("%")}
	if _, err := classEnd(ms, 0); err == nil {
		t.Fatal("expected error for trailing %")
	}
}

func TestClassEndMalformedSet(t *testing.T) {
	ms := &matchState{pat: []byte("[abc")}
	if _, err := classEnd(ms, 0); err == nil {
		t.Fatal("expected error for unterminated set")
	}
}

func TestParseLuaNumber(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantOK  bool
	}{
		{"42", 42, true},
		{"  3.5  ", 3.5, true},
		{"-10", -10, true},
		{"0x1F", 31, true},
		{"not a number", 0, false},
	}
	for _, c := range cases {
		got, ok := parseLuaNumber(c.in)
		if ok != c.wantOK {
			t.Errorf("parseLuaNumber(%q) ok = %v, want %v", c.in, ok, c.wantOK)
			continue
		}
		if ok && got != c.want {
			t.Errorf("parseLuaNumber(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
