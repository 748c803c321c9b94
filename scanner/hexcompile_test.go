package scanner

import (
	"testing"

	"github.com/sansecio/yaracore/ast"
)

func intPtr(v int) *int { return &v }

func TestHexCompileToBytecodeLiteralAndWildcard(t *testing.T) {
	h := ast.HexString{Tokens: []ast.HexToken{
		ast.HexByte{Value: 0xAA},
		ast.HexWildcard{},
		ast.HexByte{Value: 0xCC},
	}}
	code, ok := hexCompileToBytecode(h)
	if !ok {
		t.Fatal("expected bytecode to compile")
	}

	buf := []byte{0xAA, 0xBB, 0xCC}
	end, matched, err := hexExec(code, buf, 0, 0, nil)
	if err != nil || !matched || end != 3 {
		t.Fatalf("hexExec = (%d, %v, %v), want (3, true, nil)", end, matched, err)
	}
}

func TestHexCompileToBytecodeJump(t *testing.T) {
	h := ast.HexString{Tokens: []ast.HexToken{
		ast.HexByte{Value: 0xAA},
		ast.HexJump{Min: intPtr(1), Max: intPtr(2)},
		ast.HexByte{Value: 0xFF},
	}}
	code, ok := hexCompileToBytecode(h)
	if !ok {
		t.Fatal("expected bytecode to compile")
	}

	buf := []byte{0xAA, 0x00, 0xFF}
	if _, matched, err := hexExec(code, buf, 0, 0, nil); err != nil || !matched {
		t.Fatalf("expected match within jump range, got matched=%v err=%v", matched, err)
	}
}

func TestHexCompileToBytecodeRejectsAlternation(t *testing.T) {
	b := byte(0xAA)
	h := ast.HexString{Tokens: []ast.HexToken{
		ast.HexAlt{Alternatives: []ast.HexAltItem{{Byte: &b}}},
	}}
	if _, ok := hexCompileToBytecode(h); ok {
		t.Fatal("expected alternation to be rejected (no bytecode jump-target slot)")
	}
}

func TestHexExtractAtomPicksLongestRun(t *testing.T) {
	h := ast.HexString{Tokens: []ast.HexToken{
		ast.HexByte{Value: 'a'},
		ast.HexByte{Value: 'b'},
		ast.HexWildcard{},
		ast.HexByte{Value: 'c'},
		ast.HexByte{Value: 'd'},
		ast.HexByte{Value: 'e'},
	}}
	atom, start, end, ok := hexExtractAtom(h, 2)
	if !ok {
		t.Fatal("expected an atom to be found")
	}
	if string(atom) != "cde" {
		t.Fatalf("atom = %q, want %q", atom, "cde")
	}
	if start != 3 || end != 6 {
		t.Fatalf("token range = [%d,%d), want [3,6)", start, end)
	}
}

func TestHexExtractAtomFallsBackBelowMinLen(t *testing.T) {
	// Neither run reaches minLen (2), but hexExtractAtom must still return
	// the best one available rather than failing outright - a hex string
	// like "{ 01 [2-4] 05 }" never accumulates 3 consecutive literal bytes
	// and would otherwise have no atom to compile at all.
	h := ast.HexString{Tokens: []ast.HexToken{
		ast.HexByte{Value: 'a'},
		ast.HexWildcard{},
		ast.HexByte{Value: 'b'},
	}}
	atom, start, end, ok := hexExtractAtom(h, 2)
	if !ok {
		t.Fatal("expected a fallback atom to be found")
	}
	if string(atom) != "a" || start != 0 || end != 1 {
		t.Fatalf("atom = %q range [%d,%d), want %q at [0,1)", atom, start, end, "a")
	}
}

func TestHexExtractAtomNoFixedByte(t *testing.T) {
	h := ast.HexString{Tokens: []ast.HexToken{
		ast.HexWildcard{},
		ast.HexJump{Min: intPtr(1), Max: intPtr(2)},
	}}
	if _, _, _, ok := hexExtractAtom(h, 2); ok {
		t.Fatal("expected no atom when the pattern has no fixed byte")
	}
}

func TestHexCompileSplitAroundGapBearingAtom(t *testing.T) {
	// The spec's own worked example: "{ 01 [2-4] 05 }" never builds a
	// 3-byte run, so its atom is a single byte and both halves of the
	// split carry real bytecode.
	minBuf := intPtr(2)
	maxBuf := intPtr(4)
	h := ast.HexString{Tokens: []ast.HexToken{
		ast.HexByte{Value: 0x01},
		ast.HexJump{Min: minBuf, Max: maxBuf},
		ast.HexByte{Value: 0x05},
	}}
	atom, start, end, ok := hexExtractAtom(h, minAtomLength)
	if !ok || string(atom) != "\x01" {
		t.Fatalf("atom = %q ok=%v, want \\x01", atom, ok)
	}

	fwd, bwd, ok := hexCompileSplit(h, start, end)
	if !ok {
		t.Fatal("expected the split programs to compile")
	}

	// Forward program: PUSH(2,4) then literal 0x05 then MATCH.
	buf := []byte{0x01, 0x00, 0x00, 0x05}
	fwdEnd, matched, err := hexExec(fwd, buf, 1, 0, nil)
	if err != nil || !matched || fwdEnd != 4 {
		t.Fatalf("forward hexExec = (%d, %v, %v), want (4, true, nil)", fwdEnd, matched, err)
	}

	// Backward program for this atom is empty (no tokens precede it), so
	// it must compile to a bare MATCH: running it reports exactly the
	// position passed in, unconditionally.
	if len(bwd) != 1 || bwd[0] != opMatch {
		t.Fatalf("bwd = %v, want a bare MATCH program", bwd)
	}
	var seen []int
	if _, _, err := hexExec(bwd, buf, -1, hexBackwards|hexExhaustive, func(pos int) bool {
		seen = append(seen, pos)
		return false
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0] != -1 {
		t.Fatalf("seen = %v, want exactly one occurrence at -1", seen)
	}
}
