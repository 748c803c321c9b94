package scanner

import "github.com/sansecio/yaracore/ast"

// compileHexTokens appends bytecode for each token in order, without a
// trailing MATCH, so callers can compile both a full pattern and the
// forward/backward halves split around an atom with the same per-token
// logic. It returns ok=false for anything the bytecode format can't
// express - currently only alternation, since this PUSH-based encoding has
// no jump-target slot for branching; callers should fall back to the
// regex executor for those (see compile.go).
func compileHexTokens(code []byte, tokens []ast.HexToken) ([]byte, bool) {
	for _, tok := range tokens {
		switch t := tok.(type) {
		case ast.HexByte:
			code = compileHexByte(code, t.Value)
		case ast.HexWildcard:
			code = compileHexAny(code)
		case ast.HexJump:
			min, max := 0, -1
			if t.Min != nil {
				min = *t.Min
			}
			if t.Max != nil {
				max = *t.Max
			}
			code = compileHexPush(code, min, max)
		case ast.HexAlt:
			return nil, false
		default:
			return nil, false
		}
	}
	return code, true
}

// hexCompileToBytecode lowers a hex string's whole token list into a
// fast-hex bytecode program (component B).
func hexCompileToBytecode(h ast.HexString) ([]byte, bool) {
	code, ok := compileHexTokens(nil, h.Tokens)
	if !ok {
		return nil, false
	}
	return compileHexMatch(code), true
}

// hexCompileSplit compiles the tokens around [atomStart,atomEnd) into two
// independent programs: fwd runs forward over h.Tokens[atomEnd:], starting
// from the atom's end offset; bwd runs backward over h.Tokens[:atomStart]
// with the tokens reversed, so the token closest to the atom is checked
// first, the same way fwd checks the token right after the atom first.
// Either half compiles down to a bare MATCH when the atom sits at the
// pattern's edge, which both verifies trivially and anchors the match
// there.
func hexCompileSplit(h ast.HexString, atomStart, atomEnd int) (fwd, bwd []byte, ok bool) {
	fwdCode, ok := compileHexTokens(nil, h.Tokens[atomEnd:])
	if !ok {
		return nil, nil, false
	}

	before := h.Tokens[:atomStart]
	reversed := make([]ast.HexToken, len(before))
	for i, t := range before {
		reversed[len(before)-1-i] = t
	}
	bwdCode, ok := compileHexTokens(nil, reversed)
	if !ok {
		return nil, nil, false
	}

	return compileHexMatch(fwdCode), compileHexMatch(bwdCode), true
}

// hexExtractAtom finds the longest run of consecutive fixed bytes (HexByte
// tokens) in h, for use as the Aho-Corasick prefilter pattern that anchors
// a verifyHexCandidate call. minLen is a soft preference, not a hard gate:
// a hex string like "{ 01 [2-4] 05 }" never accumulates 3 consecutive
// literal bytes before a jump breaks the run, so requiring minLen would
// leave it with no usable atom at all and fail to compile. This always
// returns the best run found, however short, and lets the forward/
// backward split in hexCompileSplit re-verify everything the atom alone
// doesn't prove; it only fails when h has no fixed byte anywhere.
func hexExtractAtom(h ast.HexString, minLen int) (atom []byte, atomStart, atomEnd int, ok bool) {
	bestStart, bestEnd := -1, -1
	curStart := -1

	flush := func(i int) {
		if curStart < 0 {
			return
		}
		if bestStart < 0 || i-curStart > bestEnd-bestStart {
			bestStart, bestEnd = curStart, i
		}
		curStart = -1
	}

	for i, tok := range h.Tokens {
		if _, isByte := tok.(ast.HexByte); isByte {
			if curStart < 0 {
				curStart = i
			}
			continue
		}
		flush(i)
	}
	flush(len(h.Tokens))

	if bestStart < 0 {
		return nil, 0, 0, false
	}

	atom = make([]byte, 0, bestEnd-bestStart)
	for _, tok := range h.Tokens[bestStart:bestEnd] {
		atom = append(atom, tok.(ast.HexByte).Value)
	}
	return atom, bestStart, bestEnd, true
}
