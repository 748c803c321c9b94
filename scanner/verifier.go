package scanner

import "github.com/sansecio/yaracore/ahocorasick"

// verifyCandidate dispatches one Aho-Corasick candidate to whichever
// executor backs its string (a direct literal re-check, the fast-hex
// interpreter, or the general regex engine) and, if it survives fullword
// filtering, records it in store. All offsets handed to store are
// absolute (base + block-local), so matches accumulated across several
// AddBlock calls land in one coherent offset space.
//
// pos is the block-local buffer offset one past the last byte consumed
// to reach this candidate, matching ahocorasick.Candidate's own
// end-anchored convention.
func verifyCandidate(r *Rules, buf []byte, base, pos int, cand ahocorasick.Candidate, store *matchStore) {
	ref := r.pattMap[cand.Pattern]
	cs := r.strs[ref.stringIdx]

	if ref.isAtom {
		verifyRegexAtom(cs, buf, base, pos, store)
		return
	}

	start := pos - cand.Length
	if start < 0 {
		return
	}

	ok := false
	if cs.wide {
		// The variant's bytes are already interleaved with zeros, while
		// compareWide takes the narrow pattern and checks the zeros itself.
		narrow := make([]byte, (pos-start)/2)
		for i := range narrow {
			narrow[i] = buf[start+2*i]
		}
		ok = compareWide(buf, start, narrow)
	} else {
		ok = compareExact(buf, start, buf[start:pos])
	}
	if !ok {
		return
	}

	if cs.mods.Fullword && !checkWordBoundary(buf, start, pos) {
		return
	}

	data := make([]byte, pos-start)
	copy(data, buf[start:pos])
	store.add(cs.name, base+start, pos-start, data)
}

// verifyRegexAtom re-runs cs's full regex (or fast-hex program, when one
// was compiled) around the atom's candidate position, since the atom by
// itself only proves the neighborhood is worth checking, not that the
// whole string matches there.
func verifyRegexAtom(cs *compiledString, buf []byte, base, atomEnd int, store *matchStore) {
	if cs.hexFwd != nil {
		verifyHexCandidate(cs, buf, base, atomEnd, store)
		return
	}
	if cs.re == nil {
		return
	}

	// The atom can start anywhere within the pattern, so scan backward a
	// reasonable window and let the regex itself anchor the true match;
	// RE2 finds the leftmost match from each starting offset we try, so
	// searching from the earliest offset in the window and skipping any
	// match that ends before the atom does leaves the first match that
	// covers the atom's own position.
	from := atomEnd - maxMatchLen
	if from < 0 {
		from = 0
	}

	start, end, ok := cs.re.findAt(buf, from)
	for ok && start <= atomEnd && end < atomEnd {
		start, end, ok = cs.re.findAt(buf, start+1)
	}
	if !ok || start > atomEnd {
		return
	}

	if cs.mods.Fullword && !checkWordBoundary(buf, start, end) {
		return
	}

	data := make([]byte, end-start)
	copy(data, buf[start:end])
	store.add(cs.name, base+start, end-start, data)
}

// verifyHexCandidate runs the fast-hex bytecode interpreter (component B)
// anchored on the atom the Aho-Corasick prefilter just matched. cs.hexFwd
// confirms everything after the atom, once, from atomEnd; cs.hexBwd - run
// backward and exhaustively - enumerates every start offset the bytes
// before the atom allow, since a gap-bearing prefix like "[2-4]" can admit
// more than one. Each enumerated start yields its own match. Errors
// (ErrHexStackExhausted) aren't escalated: a backtracking blowup on one
// candidate shouldn't fail the whole scan.
func verifyHexCandidate(cs *compiledString, buf []byte, base, atomEnd int, store *matchStore) {
	atomStart := atomEnd - cs.hexAtomLen
	if atomStart < 0 {
		return
	}

	fwdEnd, ok, err := hexExec(cs.hexFwd, buf, atomEnd, cs.hexFlags, nil)
	if err != nil || !ok {
		return
	}

	bwFlags := cs.hexFlags | hexBackwards | hexExhaustive
	_, _, _ = hexExec(cs.hexBwd, buf, atomStart-1, bwFlags, func(pos int) bool {
		start := pos + 1
		if start < 0 || start > atomStart {
			return false
		}
		if cs.mods.Fullword && !checkWordBoundary(buf, start, fwdEnd) {
			return false
		}
		data := make([]byte, fwdEnd-start)
		copy(data, buf[start:fwdEnd])
		store.add(cs.name, base+start, fwdEnd-start, data)
		return false
	})
}
