package scanner

import "testing"

func TestHexExecLiteral(t *testing.T) {
	var code []byte
	code = compileHexByte(code, 0xAA)
	code = compileHexByte(code, 0xBB)
	code = compileHexMatch(code)

	buf := []byte{0x11, 0xAA, 0xBB, 0x22}
	end, ok, err := hexExec(code, buf, 1, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || end != 3 {
		t.Fatalf("hexExec = (%d, %v), want (3, true)", end, ok)
	}

	if end, ok, _ := hexExec(code, buf, 0, 0, nil); ok {
		t.Fatalf("expected no match at offset 0, got end=%d", end)
	}
}

func TestHexExecWildcard(t *testing.T) {
	var code []byte
	code = compileHexByte(code, 0xAA)
	code = compileHexAny(code)
	code = compileHexByte(code, 0xCC)
	code = compileHexMatch(code)

	buf := []byte{0xAA, 0xBB, 0xCC}
	end, ok, err := hexExec(code, buf, 0, 0, nil)
	if err != nil || !ok || end != 3 {
		t.Fatalf("hexExec = (%d, %v, %v), want (3, true, nil)", end, ok, err)
	}
}

func TestHexExecMaskedLiteral(t *testing.T) {
	var code []byte
	code = compileHexMasked(code, 0xA0, 0xF0)
	code = compileHexMatch(code)

	buf := []byte{0xAF}
	end, ok, err := hexExec(code, buf, 0, 0, nil)
	if err != nil || !ok || end != 1 {
		t.Fatalf("hexExec = (%d, %v, %v), want (1, true, nil)", end, ok, err)
	}

	buf2 := []byte{0xBF}
	if _, ok, _ := hexExec(code, buf2, 0, 0, nil); ok {
		t.Fatal("expected masked literal mismatch to fail")
	}
}

func TestHexExecJump(t *testing.T) {
	var code []byte
	code = compileHexByte(code, 0xAA)
	code = compileHexPush(code, 1, 3)
	code = compileHexByte(code, 0xFF)
	code = compileHexMatch(code)

	// AA followed by 1-3 arbitrary bytes then FF.
	buf := []byte{0xAA, 0x01, 0x02, 0xFF}
	end, ok, err := hexExec(code, buf, 0, 0, nil)
	if err != nil || !ok || end != 4 {
		t.Fatalf("hexExec = (%d, %v, %v), want (4, true, nil)", end, ok, err)
	}

	// Gap too large to bridge within [1,3].
	buf2 := []byte{0xAA, 0x01, 0x02, 0x03, 0x04, 0xFF}
	if _, ok, _ := hexExec(code, buf2, 0, 0, nil); ok {
		t.Fatal("expected jump range to reject a too-long gap")
	}
}

func TestHexExecNoCase(t *testing.T) {
	var code []byte
	code = compileHexByte(code, 'a')
	code = compileHexMatch(code)

	buf := []byte{'A'}
	if _, ok, _ := hexExec(code, buf, 0, 0, nil); ok {
		t.Fatal("expected case-sensitive mismatch without hexNoCase")
	}
	if end, ok, err := hexExec(code, buf, 0, hexNoCase, nil); err != nil || !ok || end != 1 {
		t.Fatalf("hexExec with hexNoCase = (%d, %v, %v), want (1, true, nil)", end, ok, err)
	}
}

func TestHexExecWide(t *testing.T) {
	var code []byte
	code = compileHexByte(code, 'h')
	code = compileHexMatch(code)

	buf := []byte{'h', 0}
	end, ok, err := hexExec(code, buf, 0, hexWide, nil)
	if err != nil || !ok || end != 2 {
		t.Fatalf("hexExec wide = (%d, %v, %v), want (2, true, nil)", end, ok, err)
	}

	bad := []byte{'h', 1}
	if _, ok, _ := hexExec(code, bad, 0, hexWide, nil); ok {
		t.Fatal("expected wide match to reject non-zero high byte")
	}
}

func TestHexExecStackExhaustion(t *testing.T) {
	// A long chain of unbounded jumps forces the interpreter past its
	// recursion cap before any literal can settle a verdict.
	var code []byte
	for i := 0; i < maxFastHexStack+10; i++ {
		code = compileHexPush(code, 0, -1)
	}
	code = compileHexByte(code, 0xFF)
	code = compileHexMatch(code)

	buf := make([]byte, maxFastHexStack+20)
	_, _, err := hexExec(code, buf, 0, 0, nil)
	if err != ErrHexStackExhausted {
		t.Fatalf("err = %v, want ErrHexStackExhausted", err)
	}
}

func TestHexExecBackwards(t *testing.T) {
	// A backward program for everything preceding an atom is compiled
	// with its tokens closest to the atom first: "AA <gap 0-2> FF" reads,
	// consumed backward starting at the byte just before the atom, as
	// "match 0xAA here, skip back 0-2 bytes, then match 0xFF".
	var code []byte
	code = compileHexByte(code, 0xAA)
	code = compileHexPush(code, 0, 2)
	code = compileHexByte(code, 0xFF)
	code = compileHexMatch(code)

	buf := []byte{0xFF, 0x00, 0x00, 0xAA}
	end, ok, err := hexExec(code, buf, 3, hexBackwards, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a backward match")
	}
	// end is one position before the earliest consumed byte (index 0),
	// i.e. -1; the caller adds 1 to recover the match's start offset.
	if end != -1 {
		t.Fatalf("end = %d, want -1 (start offset = end+1 = 0)", end)
	}
}

func TestHexExecExhaustiveEnumeratesEveryOccurrence(t *testing.T) {
	// "A" matched against a run of identical bytes should report every
	// possible gap length that lands on a valid byte, not just the first.
	var code []byte
	code = compileHexPush(code, 0, 3)
	code = compileHexByte(code, 0xAA)
	code = compileHexMatch(code)

	buf := []byte{0xAA, 0xAA, 0xAA, 0xAA}
	var ends []int
	_, stopped, err := hexExec(code, buf, 0, hexExhaustive, func(pos int) bool {
		ends = append(ends, pos)
		return false
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stopped {
		t.Fatal("expected stopped=false: no callback requested an early stop")
	}
	if len(ends) != 4 {
		t.Fatalf("ends = %v, want 4 occurrences (gaps 0..3 all land on 0xAA)", ends)
	}
}

func TestHexExecExhaustiveCallbackCanStopEarly(t *testing.T) {
	var code []byte
	code = compileHexPush(code, 0, 3)
	code = compileHexByte(code, 0xAA)
	code = compileHexMatch(code)

	buf := []byte{0xAA, 0xAA, 0xAA, 0xAA}
	calls := 0
	_, stopped, err := hexExec(code, buf, 0, hexExhaustive, func(pos int) bool {
		calls++
		return true
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stopped {
		t.Fatal("expected stopped=true: the callback requested an early stop")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (search should stop after the first hit)", calls)
	}
}
