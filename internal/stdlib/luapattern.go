package stdlib

import "luacore/internal/luaerr"

// This file is a Go port of Lua 5.1's string pattern matcher (lstrlib.c's
// match/classend/singlematch family). No example repo in the corpus
// implements Lua patterns, so this is grounded directly on the documented
// reference algorithm rather than any pack file; its structure (capture
// stack, recursive match over two cursors) mirrors the original closely
// since there is no idiomatic Go reinterpretation that wouldn't change
// the matcher's well-known semantics.

const maxCaptures = 32
const capPosition = -2
const capUnfinished = -1

type capture struct {
	start int
	len   int
}

type matchState struct {
	src     []byte
	pat     []byte
	caps    []capture
	matches int
}

func classEnd(ms *matchState, p int) (int, error) {
	c := ms.pat[p]
	p++
	if c == '%' {
		if p >= len(ms.pat) {
			return 0, luaerr.TypeError("malformed pattern (ends with '%')")
		}
		return p + 1, nil
	}
	if c == '[' {
		if p < len(ms.pat) && ms.pat[p] == '^' {
			p++
		}
		for {
			if p >= len(ms.pat) {
				return 0, luaerr.TypeError("malformed pattern (missing ']')")
			}
			c = ms.pat[p]
			p++
			if c == '%' {
				if p >= len(ms.pat) {
					return 0, luaerr.TypeError("malformed pattern (ends with '%')")
				}
				p++
			} else if c == ']' {
				return p, nil
			}
		}
	}
	return p, nil
}

func matchClassSingle(c byte, cl byte) bool {
	var res bool
	switch lower(cl) {
	case 'a':
		res = isAlpha(c)
	case 'd':
		res = isDigit(c)
	case 'l':
		res = isLower(c)
	case 's':
		res = isSpace(c)
	case 'u':
		res = isUpper(c)
	case 'w':
		res = isAlnum(c)
	case 'c':
		res = isCntrl(c)
	case 'p':
		res = isPunct(c)
	case 'x':
		res = isHex(c)
	default:
		return cl == c
	}
	if isUpperByte(cl) {
		return !res
	}
	return res
}

func isUpperByte(c byte) bool { return c >= 'A' && c <= 'Z' }
func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isLower(c byte) bool { return c >= 'a' && c <= 'z' }
func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
func isAlnum(c byte) bool { return isAlpha(c) || isDigit(c) }
func isCntrl(c byte) bool { return c < 32 || c == 127 }
func isPunct(c byte) bool {
	return c >= 33 && c <= 126 && !isAlnum(c)
}
func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func matchClass(ms *matchState, c byte, p, ep int) bool {
	switch ms.pat[p] {
	case '.':
		return true
	case '%':
		return matchClassSingle(c, ms.pat[p+1])
	case '[':
		return matchSet(ms, c, p, ep-1)
	default:
		return ms.pat[p] == c
	}
}

func matchSet(ms *matchState, c byte, p, ep int) bool {
	negate := false
	p++
	if ms.pat[p] == '^' {
		negate = true
		p++
	}
	found := false
	for p < ep {
		if ms.pat[p] == '%' {
			p++
			if matchClassSingle(c, ms.pat[p]) {
				found = true
			}
			p++
		} else if p+2 < ep && ms.pat[p+1] == '-' {
			if ms.pat[p] <= c && c <= ms.pat[p+2] {
				found = true
			}
			p += 3
		} else {
			if ms.pat[p] == c {
				found = true
			}
			p++
		}
	}
	return found != negate
}

func singleMatch(ms *matchState, s, p, ep int) bool {
	if s >= len(ms.src) {
		return false
	}
	return matchClass(ms, ms.src[s], p, ep)
}

func (ms *matchState) match(s, p int) (int, error) {
	if p >= len(ms.pat) {
		return s, nil
	}
	switch ms.pat[p] {
	case '(':
		if p+1 < len(ms.pat) && ms.pat[p+1] == ')' {
			return ms.startCapture(s, p+2, capPosition)
		}
		return ms.startCapture(s, p+1, capUnfinished)
	case ')':
		return ms.endCapture(s, p+1)
	case '$':
		if p+1 == len(ms.pat) {
			if s == len(ms.src) {
				return s, nil
			}
			return -1, nil
		}
	case '%':
		if p+1 < len(ms.pat) {
			switch ms.pat[p+1] {
			case 'b':
				return ms.matchBalance(s, p+2)
			case 'f':
				p += 2
				if p >= len(ms.pat) || ms.pat[p] != '[' {
					return 0, luaerr.TypeError("missing '[' after '%f' in pattern")
				}
				ep, err := classEnd(ms, p)
				if err != nil {
					return 0, err
				}
				var prev byte
				if s > 0 {
					prev = ms.src[s-1]
				}
				var cur byte
				if s < len(ms.src) {
					cur = ms.src[s]
				}
				if !matchSet(ms, prev, p, ep-1) && matchSet(ms, cur, p, ep-1) {
					return ms.match(s, ep)
				}
				return -1, nil
			default:
				if isDigit(ms.pat[p+1]) {
					return ms.matchCapture(s, p)
				}
			}
		}
	}

	ep, err := classEnd(ms, p)
	if err != nil {
		return 0, err
	}
	var suffix byte
	if ep < len(ms.pat) {
		suffix = ms.pat[ep]
	}
	switch suffix {
	case '?':
		if singleMatch(ms, s, p, ep) {
			if r, err := ms.match(s+1, ep+1); err != nil || r != -1 {
				return r, err
			}
		}
		return ms.match(s, ep+1)
	case '+':
		if singleMatch(ms, s, p, ep) {
			return ms.maxExpand(s+1, p, ep)
		}
		return -1, nil
	case '*':
		return ms.maxExpand(s, p, ep)
	case '-':
		return ms.minExpand(s, p, ep)
	default:
		if !singleMatch(ms, s, p, ep) {
			return -1, nil
		}
		return ms.match(s+1, ep)
	}
}

func (ms *matchState) maxExpand(s, p, ep int) (int, error) {
	count := 0
	for singleMatch(ms, s+count, p, ep) {
		count++
	}
	for count >= 0 {
		r, err := ms.match(s+count, ep+1)
		if err != nil {
			return 0, err
		}
		if r != -1 {
			return r, nil
		}
		count--
	}
	return -1, nil
}

func (ms *matchState) minExpand(s, p, ep int) (int, error) {
	for {
		r, err := ms.match(s, ep+1)
		if err != nil {
			return 0, err
		}
		if r != -1 {
			return r, nil
		}
		if singleMatch(ms, s, p, ep) {
			s++
		} else {
			return -1, nil
		}
	}
}

func (ms *matchState) startCapture(s, p, what int) (int, error) {
	ms.caps = append(ms.caps, capture{start: s, len: what})
	ms.matches++
	r, err := ms.match(s, p)
	if err != nil {
		return 0, err
	}
	if r == -1 {
		ms.caps = ms.caps[:len(ms.caps)-1]
		ms.matches--
	}
	return r, nil
}

func (ms *matchState) endCapture(s, p int) (int, error) {
	idx := -1
	for i := len(ms.caps) - 1; i >= 0; i-- {
		if ms.caps[i].len == capUnfinished {
			idx = i
			break
		}
	}
	if idx == -1 {
		return 0, luaerr.TypeError("invalid pattern capture")
	}
	ms.caps[idx].len = s - ms.caps[idx].start
	r, err := ms.match(s, p)
	if err != nil {
		return 0, err
	}
	if r == -1 {
		ms.caps[idx].len = capUnfinished
	}
	return r, nil
}

func (ms *matchState) matchCapture(s, p int) (int, error) {
	idx := int(ms.pat[p+1] - '1')
	if idx < 0 || idx >= len(ms.caps) || ms.caps[idx].len == capUnfinished {
		return 0, luaerr.TypeError("invalid capture index")
	}
	cs := ms.src[ms.caps[idx].start : ms.caps[idx].start+ms.caps[idx].len]
	if len(ms.src)-s >= len(cs) && string(ms.src[s:s+len(cs)]) == string(cs) {
		return ms.match(s+len(cs), p+2)
	}
	return -1, nil
}

func (ms *matchState) matchBalance(s, p int) (int, error) {
	if p+1 >= len(ms.pat) {
		return 0, luaerr.TypeError("missing arguments to '%b'")
	}
	if s >= len(ms.src) || ms.src[s] != ms.pat[p] {
		return -1, nil
	}
	b, e := ms.pat[p], ms.pat[p+1]
	depth := 1
	i := s + 1
	for i < len(ms.src) {
		if ms.src[i] == e {
			depth--
			if depth == 0 {
				return ms.match(i+1, p+2)
			}
		} else if ms.src[i] == b {
			depth++
		}
		i++
	}
	return -1, nil
}

// doMatch attempts the pattern at offset init and, unless the pattern is
// anchored with '^', at each later offset in turn, mirroring lstrlib.c's
// outer search loop around do_match. Returns the end offset and captures
// of the first match, or ok=false.
func doMatch(src, pat []byte, init int) (end int, caps []capture, ok bool, err error) {
	ms := &matchState{src: src, pat: pat}
	anchor := len(pat) > 0 && pat[0] == '^'
	p := 0
	if anchor {
		p = 1
	}
	s := init
	for {
		ms.caps = ms.caps[:0]
		ms.matches = 0
		r, merr := ms.match(s, p)
		if merr != nil {
			return 0, nil, false, merr
		}
		if r != -1 {
			return r, append([]capture(nil), ms.caps...), true, nil
		}
		s++
		if anchor || s > len(src) {
			return 0, nil, false, nil
		}
	}
}

func capturesOrWhole(src []byte, start, end int, caps []capture) []capResult {
	if len(caps) == 0 {
		return []capResult{{s: string(src[start:end])}}
	}
	out := make([]capResult, len(caps))
	for i, c := range caps {
		if c.len == capPosition {
			out[i] = capResult{pos: c.start + 1, isPos: true}
		} else {
			out[i] = capResult{s: string(src[c.start : c.start+c.len])}
		}
	}
	return out
}

type capResult struct {
	s     string
	pos   int
	isPos bool
}

